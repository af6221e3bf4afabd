// ABOUTME: HTTP control surface for event submission and operations
// ABOUTME: Channel adapters bypass this and talk to the gateway directly

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medforce/intake-gateway/internal/auth"
	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
	"github.com/medforce/intake-gateway/internal/identity"
	"github.com/medforce/intake-gateway/internal/queue"
	"github.com/medforce/intake-gateway/internal/store"
)

// API is the HTTP control surface over one gateway.
type API struct {
	gw       *Gateway
	resolver *identity.Resolver
	secret   []byte
	logger   *slog.Logger
}

// NewAPI builds the control surface. An empty secret disables auth.
func NewAPI(gw *Gateway, resolver *identity.Resolver, secret []byte, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{gw: gw, resolver: resolver, secret: secret, logger: logger.With("component", "api")}
}

// Handler returns the routed handler with auth applied to /api/.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /health/ready", a.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/events", a.handleSubmitEvent)
	api.HandleFunc("GET /api/diaries/{id}", a.handleGetDiary)
	api.HandleFunc("GET /api/metrics", a.handleMetrics)
	api.HandleFunc("GET /api/deadletters", a.handleListDeadLetters)
	api.HandleFunc("POST /api/deadletters/replay", a.handleReplayDeadLetter)
	mux.Handle("/api/", auth.Middleware(a.secret, api))
	return mux
}

type submitRequest struct {
	EventID       string         `json:"event_id,omitempty"`
	EventType     string         `json:"event_type"`
	PatientID     string         `json:"patient_id,omitempty"`
	Contact       string         `json:"contact,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Source        string         `json:"source,omitempty"`
	SenderID      string         `json:"sender_id,omitempty"`
	SenderRole    string         `json:"sender_role,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

func (a *API) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	env := &event.Envelope{
		EventID:       req.EventID,
		EventType:     event.Type(req.EventType),
		PatientID:     req.PatientID,
		Payload:       req.Payload,
		Source:        req.Source,
		SenderID:      req.SenderID,
		SenderRole:    event.Role(req.SenderRole),
		CorrelationID: req.CorrelationID,
		Timestamp:     time.Now().UTC(),
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}

	// No patient id means the sender is known only by address.
	if env.PatientID == "" {
		if req.Contact == "" {
			writeError(w, http.StatusBadRequest, "patient_id or contact is required")
			return
		}
		id, err := a.resolver.Resolve(req.Contact)
		switch {
		case errors.Is(err, identity.ErrUnknownContact):
			writeError(w, http.StatusNotFound,
				"we do not recognize this contact; please get in touch with the clinic directly")
			return
		case errors.Is(err, identity.ErrAmbiguousContact):
			writeError(w, http.StatusConflict,
				"this contact is linked to more than one patient; please include the patient id")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "identity resolution failed")
			return
		}
		env.PatientID = id.PatientID
		env.SenderID = id.SenderID
		env.SenderRole = id.Role
	}
	if env.SenderRole == "" {
		env.SenderRole = event.RolePatient
	}

	err := a.gw.Submit(r.Context(), env)
	switch {
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many messages, please wait a moment")
	case errors.Is(err, ErrMessageTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, "message too long")
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue full, please retry")
	case err != nil:
		a.logger.Error("submit failed", "event_id", env.EventID, "error", err)
		writeError(w, http.StatusInternalServerError, "submit failed")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"event_id":       env.EventID,
			"correlation_id": env.CorrelationID,
			"patient_id":     env.PatientID,
		})
	}
}

func (a *API) handleGetDiary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, gen, err := a.gw.Store().Load(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "diary not found")
		return
	}
	if err != nil {
		a.logger.Error("diary load failed", "patient_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "diary load failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generation": gen, "diary": d})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.gw.Metrics().Snapshot())
}

func (a *API) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := a.gw.Store().ListDeadLetters(r.Context(), limit)
	if err != nil {
		a.logger.Error("dead letter list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "dead letter list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": list, "count": len(list)})
}

func (a *API) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	err := a.gw.ReplayDeadLetter(r.Context(), req.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if err != nil {
		a.logger.Error("replay failed", "dead_letter_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "replay failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "replaying", "id": req.ID})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness means the store answers queries.
	if _, err := a.gw.Store().ListByPhase(r.Context(), diary.PhaseClosed); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ListenAndServe runs the control surface until the context ends.
func (a *API) ListenAndServe(addr string, stop <-chan struct{}) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("control surface listening", "addr", addr)
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-stop:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
