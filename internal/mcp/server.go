// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the incident engine as tools for conversational-AI front ends: the AI
// layer extracts risk-relevant text and drives the engine through these
// tools.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/valter-silva-au/haven/internal/core"
	"github.com/valter-silva-au/haven/internal/dispatch"
	"github.com/valter-silva-au/haven/internal/storage"
	"github.com/valter-silva-au/haven/pkg/models"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the engine services and exposes them as MCP tools.
type Server struct {
	server     *gomcp.Server
	controller *core.Controller
	files      storage.CaseFileManager
	registry   storage.SessionRegistry
	dispatcher *dispatch.Dispatcher
}

// NewServer creates a new MCP server with the given engine dependencies.
func NewServer(controller *core.Controller, files storage.CaseFileManager, registry storage.SessionRegistry, dispatcher *dispatch.Dispatcher, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		controller: controller,
		files:      files,
		registry:   registry,
		dispatcher: dispatcher,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "haven", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type handleEventInput struct {
	SessionID string  `json:"session_id,omitempty" jsonschema:"required,opaque session identifier"`
	Text      string  `json:"text,omitempty" jsonschema:"the user's message or transcribed speech"`
	Channel   string  `json:"channel,omitempty" jsonschema:"event channel (voice, text, push)"`
	Lat       float64 `json:"lat,omitempty" jsonschema:"current latitude, if known"`
	Lng       float64 `json:"lng,omitempty" jsonschema:"current longitude, if known"`
	StandDown bool    `json:"stand_down,omitempty" jsonschema:"explicit all-clear signal; the only way to de-escalate a critical session"`
}

type handleEventOutput struct {
	ReplyKind    string         `json:"reply_kind"`
	ReplyMessage string         `json:"reply_message"`
	Places       []models.Place `json:"places,omitempty"`
	RiskLevel    string         `json:"risk_level"`
	State        string         `json:"state"`
}

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"required,opaque session identifier"`
}

type caseFileOutput struct {
	SessionID    string                `json:"session_id"`
	RiskLevel    string                `json:"risk_level"`
	State        string                `json:"state"`
	HasContact   bool                  `json:"has_contact"`
	HasLocation  bool                  `json:"has_location"`
	TimelineLen  int                   `json:"timeline_len"`
	ActionsTaken []models.ActionRecord `json:"actions_taken"`
	Created      string                `json:"created"`
	Updated      string                `json:"updated"`
}

type deleteOutput struct {
	Message string `json:"message"`
	Deleted bool   `json:"deleted"`
}

type exportOutput struct {
	CaseFile *models.RedactedCaseFile `json:"case_file"`
}

type listSessionsInput struct{}

type sessionHandleOutput struct {
	HandleID    string `json:"handle_id"`
	SessionID   string `json:"session_id"`
	HasLocation bool   `json:"has_location"`
	StartedAt   string `json:"started_at"`
	LastUpdated string `json:"last_updated"`
}

type listSessionsOutput struct {
	Handles []sessionHandleOutput `json:"handles"`
	Count   int                   `json:"count"`
}

type dispatchActionInput struct {
	SessionID string `json:"session_id" jsonschema:"required,opaque session identifier"`
	Action    string `json:"action" jsonschema:"required,the action name (notify-contact, escalate-to-responder, find-safe-locations)"`
}

type dispatchActionOutput struct {
	Record models.ActionRecord `json:"record"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "handle_event",
		Description: "Process one inbound message or transcript fragment for a session. Classifies risk, updates the case file, dispatches permitted actions, and returns the reply directive.",
	}, s.handleHandleEvent)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_case_file",
		Description: "Get the case file summary for a session, including risk level, state, and the actions taken so far.",
	}, s.handleGetCaseFile)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "export_case_file",
		Description: "Export the redacted case file for a session (phone digits masked, coordinates coarsened).",
	}, s.handleExportCaseFile)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "delete_case_file",
		Description: "Erase the case file for a session. Privacy operation; writes are rejected for a bounded tombstone window afterwards.",
	}, s.handleDeleteCaseFile)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_sessions",
		Description: "List live interaction handles in the session registry.",
	}, s.handleListSessions)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "dispatch_action",
		Description: "Dispatch a named action for a session directly, bypassing the policy gate. Administrative surface; the idempotency gate still applies.",
	}, s.handleDispatchAction)
}

// --- Tool handlers ---

func (s *Server) handleHandleEvent(ctx context.Context, _ *gomcp.CallToolRequest, input handleEventInput) (*gomcp.CallToolResult, handleEventOutput, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), handleEventOutput{}, nil
	}

	ev := core.InboundEvent{
		SessionID: input.SessionID,
		Text:      input.Text,
		Channel:   input.Channel,
		StandDown: input.StandDown,
	}
	if input.Lat != 0 || input.Lng != 0 {
		ev.Location = &models.Location{Lat: input.Lat, Lng: input.Lng}
	}

	outcome, err := s.controller.HandleEvent(ctx, ev)
	if err != nil {
		return errorResult(fmt.Sprintf("handling event for %s: %s", input.SessionID, err)), handleEventOutput{}, nil
	}

	out := handleEventOutput{
		ReplyKind:    string(outcome.Reply.Kind),
		ReplyMessage: outcome.Reply.Message,
		Places:       outcome.Reply.Places,
		RiskLevel:    string(outcome.CaseFile.RiskLevel),
		State:        string(outcome.CaseFile.State),
	}
	return nil, out, nil
}

func (s *Server) handleGetCaseFile(_ context.Context, _ *gomcp.CallToolRequest, input sessionInput) (*gomcp.CallToolResult, caseFileOutput, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), caseFileOutput{}, nil
	}

	cf, ok := s.files.Get(input.SessionID)
	if !ok {
		return errorResult(fmt.Sprintf("no case file for session %s", input.SessionID)), caseFileOutput{}, nil
	}

	out := caseFileOutput{
		SessionID:    cf.SessionID,
		RiskLevel:    string(cf.RiskLevel),
		State:        string(cf.State),
		HasContact:   cf.Contact != nil,
		HasLocation:  cf.Location != nil,
		TimelineLen:  len(cf.Timeline),
		ActionsTaken: cf.ActionsTaken,
		Created:      cf.CreatedAt.Format(time.RFC3339),
		Updated:      cf.UpdatedAt.Format(time.RFC3339),
	}
	return nil, out, nil
}

func (s *Server) handleExportCaseFile(_ context.Context, _ *gomcp.CallToolRequest, input sessionInput) (*gomcp.CallToolResult, exportOutput, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), exportOutput{}, nil
	}

	redacted, ok := s.files.Export(input.SessionID)
	if !ok {
		return errorResult(fmt.Sprintf("no case file for session %s", input.SessionID)), exportOutput{}, nil
	}
	return nil, exportOutput{CaseFile: redacted}, nil
}

func (s *Server) handleDeleteCaseFile(_ context.Context, _ *gomcp.CallToolRequest, input sessionInput) (*gomcp.CallToolResult, deleteOutput, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), deleteOutput{}, nil
	}

	deleted := s.controller.DeleteCaseFile(input.SessionID)
	msg := fmt.Sprintf("case file for session %s erased", input.SessionID)
	if !deleted {
		msg = fmt.Sprintf("no case file for session %s", input.SessionID)
	}
	return nil, deleteOutput{Message: msg, Deleted: deleted}, nil
}

func (s *Server) handleListSessions(_ context.Context, _ *gomcp.CallToolRequest, _ listSessionsInput) (*gomcp.CallToolResult, listSessionsOutput, error) {
	handles := s.registry.List()

	out := listSessionsOutput{
		Handles: make([]sessionHandleOutput, len(handles)),
		Count:   len(handles),
	}
	for i, h := range handles {
		out.Handles[i] = sessionHandleOutput{
			HandleID:    h.HandleID,
			SessionID:   h.SessionID,
			HasLocation: h.Location != nil,
			StartedAt:   h.StartedAt.Format(time.RFC3339),
			LastUpdated: h.LastUpdatedAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

func (s *Server) handleDispatchAction(ctx context.Context, _ *gomcp.CallToolRequest, input dispatchActionInput) (*gomcp.CallToolResult, dispatchActionOutput, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), dispatchActionOutput{}, nil
	}
	if input.Action == "" {
		return errorResult("action is required"), dispatchActionOutput{}, nil
	}

	rec, err := s.dispatcher.Dispatch(ctx, input.Action, input.SessionID)
	if err != nil && rec.ID == "" {
		return errorResult(fmt.Sprintf("dispatching %s for %s: %s", input.Action, input.SessionID, err)), dispatchActionOutput{}, nil
	}
	// A failed action still produced a record; return it so the caller
	// can see the recorded outcome.
	return nil, dispatchActionOutput{Record: rec}, nil
}

// --- Helpers ---

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
