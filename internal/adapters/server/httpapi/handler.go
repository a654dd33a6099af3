// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/convivencia/internal/adapters/server/common"
	"github.com/hylla/convivencia/internal/eventbus"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// SignalSource is the refresh-signal subscription surface backing `/events`.
type SignalSource interface {
	Subscribe(eventbus.Handler) func()
}

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	cases   common.CaseService
	sla     common.StageSLAService
	signals SignalSource
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter; nil services answer with structured errors.
func NewHandler(cases common.CaseService, sla common.StageSLAService, signals SignalSource) *Handler {
	return &Handler{
		cases:   cases,
		sla:     sla,
		signals: signals,
	}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)
	switch path {
	case "cases":
		switch r.Method {
		case http.MethodGet:
			h.handleListCases(w, r)
		case http.MethodPost:
			h.handleCreateCase(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	case "stage_sla":
		switch r.Method {
		case http.MethodGet:
			h.handleListStageSLA(w, r)
		case http.MethodPut:
			h.handleSetStageSLA(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPut)
		}
		return
	case "events":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleEvents(w, r)
		return
	}

	caseID, action, ok := resolveCaseRoute(path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetCase(w, r, caseID)
	case "board":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleCaseBoard(w, r, caseID)
	case "followups":
		switch r.Method {
		case http.MethodGet:
			h.handleListFollowUps(w, r, caseID)
		case http.MethodPost:
			h.handleRecordFollowUp(w, r, caseID)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case "advance":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleAdvanceStage(w, r, caseID)
	case "close":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleCloseCase(w, r, caseID)
	default:
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	}
}

// handleListCases serves GET `/cases`.
func (h *Handler) handleListCases(w http.ResponseWriter, r *http.Request) {
	if !h.requireCases(w) {
		return
	}
	includeClosed := false
	if raw := strings.TrimSpace(r.URL.Query().Get("include_closed")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "include_closed must be a boolean",
			})
			return
		}
		includeClosed = parsed
	}
	list, err := h.cases.ListCases(r.Context(), includeClosed)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCreateCase serves POST `/cases`.
func (h *Handler) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	if !h.requireCases(w) {
		return
	}
	var req common.CreateCaseRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	created, err := h.cases.CreateCase(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetCase serves GET `/cases/{id}`.
func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request, caseID string) {
	if !h.requireCases(w) {
		return
	}
	c, err := h.cases.GetCase(r.Context(), caseID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCaseBoard serves GET `/cases/{id}/board`.
func (h *Handler) handleCaseBoard(w http.ResponseWriter, r *http.Request, caseID string) {
	if !h.requireCases(w) {
		return
	}
	board, err := h.cases.CaseBoard(r.Context(), caseID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// handleListFollowUps serves GET `/cases/{id}/followups`.
func (h *Handler) handleListFollowUps(w http.ResponseWriter, r *http.Request, caseID string) {
	if !h.requireCases(w) {
		return
	}
	rows, err := h.cases.ListFollowUps(r.Context(), caseID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"followups": rows,
	})
}

// handleRecordFollowUp serves POST `/cases/{id}/followups`.
func (h *Handler) handleRecordFollowUp(w http.ResponseWriter, r *http.Request, caseID string) {
	if !h.requireCases(w) {
		return
	}
	var req common.RecordFollowUpRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.CaseID = caseID
	row, err := h.cases.RecordFollowUp(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// handleAdvanceStage serves POST `/cases/{id}/advance`.
func (h *Handler) handleAdvanceStage(w http.ResponseWriter, r *http.Request, caseID string) {
	if !h.requireCases(w) {
		return
	}
	var req common.AdvanceStageRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.CaseID = caseID
	c, err := h.cases.AdvanceStage(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCloseCase serves POST `/cases/{id}/close`.
func (h *Handler) handleCloseCase(w http.ResponseWriter, r *http.Request, caseID string) {
	if !h.requireCases(w) {
		return
	}
	c, err := h.cases.CloseCase(r.Context(), caseID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleListStageSLA serves GET `/stage_sla`.
func (h *Handler) handleListStageSLA(w http.ResponseWriter, r *http.Request) {
	if !h.requireSLA(w) {
		return
	}
	rows, err := h.sla.ListStageSLA(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stage_sla": rows,
	})
}

// handleSetStageSLA serves PUT `/stage_sla`.
func (h *Handler) handleSetStageSLA(w http.ResponseWriter, r *http.Request) {
	if !h.requireSLA(w) {
		return
	}
	var req common.SetStageSLARequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	row, err := h.sla.SetStageSLA(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) requireCases(w http.ResponseWriter) bool {
	if h.cases != nil {
		return true
	}
	writeJSONError(w, http.StatusServiceUnavailable, APIError{
		Code:    "service_unavailable",
		Message: "case service is not configured",
	})
	return false
}

func (h *Handler) requireSLA(w http.ResponseWriter) bool {
	if h.sla != nil {
		return true
	}
	writeJSONError(w, http.StatusNotImplemented, APIError{
		Code:    "not_implemented",
		Message: "stage sla APIs are not available",
	})
	return false
}

// resolveCaseRoute parses `cases/{id}[/action]`.
func resolveCaseRoute(path string) (string, string, bool) {
	const prefix = "cases/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
	if len(parts) > 2 {
		return "", "", false
	}
	id := strings.TrimSpace(parts[0])
	if id == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return id, "", true
	}
	return id, parts[1], true
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "case_closed",
			Message: err.Error(),
			Hint:    "Closed cases accept no further follow-ups or stage changes.",
		})
	case errors.Is(err, common.ErrInvalidRequest):
		apiErr := APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		}
		if fields := common.FieldErrors(err); len(fields) > 0 {
			apiErr.Context = map[string]any{"fields": fields}
		}
		writeJSONError(w, http.StatusBadRequest, apiErr)
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
