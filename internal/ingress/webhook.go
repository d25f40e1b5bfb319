// Package ingress turns voice-platform webhook deliveries into inbound
// events for the conversation controller. The voice provider is just
// another event source: tool calls, transcript fragments, and call
// lifecycle notifications all land on the same controller entrypoint.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/valter-silva-au/haven/internal/core"
	"github.com/valter-silva-au/haven/internal/storage"
	"github.com/valter-silva-au/haven/pkg/models"
)

// Webhook event types delivered by the voice platform.
const (
	EventCallStarted = "call.started"
	EventCallEnded   = "call.ended"
	EventTranscript  = "transcript.updated"
	EventToolCall    = "tool.call"
	EventLocation    = "location.ping"
)

// Envelope is the outer webhook payload.
type Envelope struct {
	Type      string  `json:"type"`
	CallID    string  `json:"call_id"`
	SessionID string  `json:"session_id"`
	Text      string  `json:"text,omitempty"`
	StandDown bool    `json:"stand_down,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lng       float64 `json:"lng,omitempty"`
	Precision float64 `json:"precision_meters,omitempty"`
}

// ParsePayload reads a JSON webhook envelope.
func ParsePayload(r io.Reader) (*Envelope, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading webhook payload: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing webhook payload: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("webhook payload missing type")
	}
	return &env, nil
}

// Handler routes webhook envelopes into the controller and the session
// registry.
type Handler struct {
	controller *core.Controller
	registry   storage.SessionRegistry
}

// NewHandler wires a webhook Handler.
func NewHandler(controller *core.Controller, registry storage.SessionRegistry) *Handler {
	return &Handler{controller: controller, registry: registry}
}

// Response is what the voice platform gets back: the reply directive for
// its natural-language layer to speak.
type Response struct {
	Kind    string         `json:"kind,omitempty"`
	Message string         `json:"message,omitempty"`
	Places  []models.Place `json:"places,omitempty"`
}

// Process handles one envelope. Call lifecycle events only touch the
// registry; transcript and tool-call events run the full controller path.
func (h *Handler) Process(ctx context.Context, env *Envelope) (*Response, error) {
	switch env.Type {
	case EventCallStarted:
		handleID := env.CallID
		if handleID == "" {
			handleID = uuid.NewString()
		}
		handle := models.SessionHandle{SessionID: env.SessionID}
		if env.Lat != 0 || env.Lng != 0 {
			handle.Location = &models.Location{Lat: env.Lat, Lng: env.Lng, PrecisionMeters: env.Precision}
		}
		h.registry.Set(handleID, handle)
		return &Response{}, nil

	case EventCallEnded:
		h.registry.Clear(env.CallID)
		return &Response{}, nil

	case EventLocation:
		if !h.registry.UpdateLocation(env.CallID, env.Lat, env.Lng) {
			return nil, fmt.Errorf("unknown call handle %q", env.CallID)
		}
		// Keep the authoritative record current too.
		outcome, err := h.controller.HandleEvent(ctx, core.InboundEvent{
			SessionID: env.SessionID,
			Channel:   "voice",
			Location:  &models.Location{Lat: env.Lat, Lng: env.Lng, PrecisionMeters: env.Precision},
		})
		if err != nil {
			return nil, err
		}
		return responseFrom(outcome), nil

	case EventTranscript, EventToolCall:
		outcome, err := h.controller.HandleEvent(ctx, core.InboundEvent{
			SessionID: env.SessionID,
			Text:      env.Text,
			Channel:   "voice",
			StandDown: env.StandDown,
			Location:  locationFrom(env),
		})
		if err != nil {
			return nil, err
		}
		return responseFrom(outcome), nil

	default:
		return nil, fmt.Errorf("unsupported webhook event type %q", env.Type)
	}
}

// ServeHTTP accepts webhook POSTs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	env, err := ParsePayload(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := h.Process(r.Context(), env)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func locationFrom(env *Envelope) *models.Location {
	if env.Lat == 0 && env.Lng == 0 {
		return nil
	}
	return &models.Location{Lat: env.Lat, Lng: env.Lng, PrecisionMeters: env.Precision}
}

func responseFrom(outcome *core.Outcome) *Response {
	return &Response{
		Kind:    string(outcome.Reply.Kind),
		Message: outcome.Reply.Message,
		Places:  outcome.Reply.Places,
	}
}
