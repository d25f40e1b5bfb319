package cli

import (
	"github.com/valter-silva-au/haven/internal/core"
	"github.com/valter-silva-au/haven/internal/dispatch"
	"github.com/valter-silva-au/haven/internal/ingress"
	"github.com/valter-silva-au/haven/internal/observability"
	"github.com/valter-silva-au/haven/internal/storage"
	"github.com/valter-silva-au/haven/pkg/models"
)

// Service instances, set during app initialization in internal/app.go.
var (
	BasePath   string
	Config     *models.EngineConfig
	CaseFiles  storage.CaseFileManager
	Registry   storage.SessionRegistry
	Gate       *dispatch.Gate
	Dispatcher *dispatch.Dispatcher
	Controller *core.Controller
	Webhook    *ingress.Handler
	AuditLog   observability.AuditLog
)
