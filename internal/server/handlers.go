package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/maauso/veo-studio-api/internal/generation"
	"github.com/maauso/veo-studio-api/internal/provider"
	"github.com/maauso/veo-studio-api/internal/session"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidJSON     = "INVALID_JSON"
	CodeValidation      = "VALIDATION_ERROR"
	CodeProvider        = "PROVIDER_ERROR"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeSessionClosed   = "SESSION_CLOSED"
	CodeInternal        = "INTERNAL_ERROR"
)

// maxBodyBytes bounds request bodies; reference images are inlined as base64.
const maxBodyBytes = 32 << 20

// errBodyNotObject is returned when the body is valid JSON but not an object.
var errBodyNotObject = errors.New("request body must be a JSON object")

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	provider  provider.Provider
	sessions  *session.Manager
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(p provider.Provider, sessions *session.Manager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		provider:  p,
		sessions:  sessions,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Provider: h.provider.Name()})
}

// SubmitGeneration handles POST /api/generate-video requests.
func (h *Handlers) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	req, err := generation.Normalize(raw)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	op, err := h.provider.Submit(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if op.Failed() {
		h.writeDomainError(w, r, &generation.ProviderError{Op: "submit", Err: errors.New(op.Error)})
		return
	}

	h.logger.Info("generation submitted",
		slog.String("operation", op.OperationName),
		slog.Bool("done", op.Done),
	)
	writeJSON(w, http.StatusOK, toGenerateVideoResponse(op))
}

// GenerationStatus handles GET /api/generate-video/status?operation= requests.
func (h *Handlers) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	q := GenerationStatusQuery{Operation: r.URL.Query().Get("operation")}
	if err := h.validator.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, "operation query parameter is required", CodeValidation)
		return
	}

	op, err := h.provider.Query(r.Context(), q.Operation)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if op.Failed() {
		h.writeDomainError(w, r, &generation.ProviderError{Op: "query", Err: errors.New(op.Error)})
		return
	}

	writeJSON(w, http.StatusOK, toGenerateVideoResponse(op))
}

// CreateSession handles POST /api/sessions requests.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create(r.Context())
	h.logger.Info("session created", slog.String("session", s.ID()))
	writeJSON(w, http.StatusCreated, CreateSessionResponse{ID: s.ID()})
}

// GenerateInSession handles POST /api/sessions/{id}/generate requests.
// The session's previous chain is cancelled only once the body is valid.
func (h *Handlers) GenerateInSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.findSession(w, r)
	if !ok {
		return
	}

	raw, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	snap, err := s.Generate(r.Context(), raw)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toSessionResponse(snap))
}

// GetSession handles GET /api/sessions/{id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.findSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s.Snapshot()))
}

// DeleteSession handles DELETE /api/sessions/{id} requests.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger.Info("session deleted", slog.String("session", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) findSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeDomainError(w, r, err)
		return nil, false
	}
	return s, true
}

// decodeBody reads a JSON object, keeping numbers as json.Number so the
// normalizer sees exactly what the caller sent.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var raw map[string]any
	err := dec.Decode(&raw)
	if err == nil && raw == nil {
		err = errBodyNotObject
	}
	if err == nil && dec.Decode(&struct{}{}) != io.EOF {
		err = errors.New("request body must contain a single JSON object")
	}
	if err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", CodeInvalidJSON)
		return nil, false
	}
	return raw, true
}

// writeDomainError maps lifecycle errors to HTTP responses.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *generation.ValidationError
	switch {
	case errors.As(err, &ve):
		h.logger.Warn("request validation failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("field", ve.Field),
			slog.String("error", ve.Message),
		)
		writeError(w, http.StatusBadRequest, ve.Message, CodeValidation)
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found", CodeSessionNotFound)
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session is closed", CodeSessionClosed)
	default:
		code := CodeInternal
		var pe *generation.ProviderError
		if errors.As(err, &pe) {
			code = CodeProvider
		}
		h.logger.Error("request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error(), code)
	}
}

func toGenerateVideoResponse(op generation.Operation) GenerateVideoResponse {
	return GenerateVideoResponse{
		OperationName:   op.OperationName,
		Done:            op.Done,
		VideoURIs:       op.VideoURIs,
		ThrottleSeconds: op.ThrottleSeconds,
	}
}

func toSessionResponse(s session.Snapshot) SessionResponse {
	resp := SessionResponse{
		ID:            s.ID,
		State:         string(s.State),
		OperationName: s.OperationName,
		Attempts:      s.Attempts,
		Message:       s.Message,
		VideoURI:      s.VideoURI,
		VideoURIs:     s.VideoURIs,
		ArchivedURL:   s.ArchivedURL,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	if s.Notification != nil {
		resp.Notification = &NotificationResponse{
			Kind:        s.Notification.Kind,
			Title:       s.Notification.Title,
			Description: s.Notification.Description,
		}
	}
	if !s.NextPollAt.IsZero() {
		next := s.NextPollAt
		resp.NextPollAt = &next
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
