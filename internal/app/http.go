package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"opsboard/api/internal/flow"
	"opsboard/api/internal/history"
	"opsboard/api/internal/search"
	"opsboard/api/internal/snapshot"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" || parts[1] != "processes" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// /api/processes
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			s.handleListProcesses(w, r)
		case http.MethodPost:
			s.handleCreateProcess(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	processID := parts[2]

	// /api/processes/{id}
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetProcess(w, r, processID)
		case http.MethodDelete:
			s.handleDeleteProcess(w, r, processID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[3] {
	case "activities":
		// /api/processes/{id}/activities
		if len(parts) == 4 && r.Method == http.MethodPost {
			s.handleAppendActivity(w, r, processID)
			return
		}
		// /api/processes/{id}/activities/{aid}
		if len(parts) == 5 {
			switch r.Method {
			case http.MethodPatch:
				s.handleUpdateActivity(w, r, processID, parts[4])
			case http.MethodDelete:
				s.handleRemoveActivity(w, r, processID, parts[4])
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
		// /api/processes/{id}/activities/{aid}/move
		if len(parts) == 6 && parts[5] == "move" && r.Method == http.MethodPost {
			s.handleMoveActivity(w, r, processID, parts[4])
			return
		}
	case "positions":
		// /api/processes/{id}/positions
		if len(parts) == 4 && r.Method == http.MethodPut {
			s.handleUpdatePositions(w, r, processID)
			return
		}
	case "connections":
		// /api/processes/{id}/connections
		if len(parts) == 4 {
			switch r.Method {
			case http.MethodGet:
				s.handleConnectivity(w, r, processID)
			case http.MethodPost:
				s.handleConnect(w, r, processID)
			case http.MethodDelete:
				s.handleDisconnect(w, r, processID)
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
	case "history":
		// /api/processes/{id}/history
		if len(parts) == 4 && r.Method == http.MethodGet {
			s.handleHistory(w, r, processID)
			return
		}
		// /api/processes/{id}/history/{hash}
		if len(parts) == 5 && r.Method == http.MethodGet {
			s.handleHistorySnapshot(w, r, processID, parts[4])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"snapshot": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.SnapshotPing(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["snapshot"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := search.Query{
		Text:   strings.TrimSpace(r.URL.Query().Get("q")),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	}
	writeJSON(w, http.StatusOK, s.service.Search(query))
}

func (s *HTTPServer) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.service.ListProcesses(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": summaries})
}

func (s *HTTPServer) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	p, err := s.service.CreateProcess(r.Context(), body.Name, body.Description)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *HTTPServer) handleGetProcess(w http.ResponseWriter, r *http.Request, processID string) {
	p, err := s.service.GetProcess(r.Context(), processID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleDeleteProcess(w http.ResponseWriter, r *http.Request, processID string) {
	if err := s.service.DeleteProcess(r.Context(), processID); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAppendActivity(w http.ResponseWriter, r *http.Request, processID string) {
	var draft flow.ActivityDraft
	if err := decodeBody(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	res, err := s.service.AppendActivity(r.Context(), processID, draft)
	writeResult(w, res, err)
}

func (s *HTTPServer) handleUpdateActivity(w http.ResponseWriter, r *http.Request, processID, activityID string) {
	var patch flow.ActivityPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	p, err := s.service.UpdateActivity(r.Context(), processID, activityID, patch)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleMoveActivity(w http.ResponseWriter, r *http.Request, processID, activityID string) {
	var body struct {
		TargetIndex int `json:"targetIndex"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	res, err := s.service.MoveActivity(r.Context(), processID, activityID, body.TargetIndex)
	writeResult(w, res, err)
}

func (s *HTTPServer) handleRemoveActivity(w http.ResponseWriter, r *http.Request, processID, activityID string) {
	res, err := s.service.RemoveActivity(r.Context(), processID, activityID)
	writeResult(w, res, err)
}

func (s *HTTPServer) handleUpdatePositions(w http.ResponseWriter, r *http.Request, processID string) {
	var moves []flow.PositionUpdate
	if err := decodeBody(r, &moves); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	res, err := s.service.UpdatePositions(r.Context(), processID, moves)
	writeResult(w, res, err)
}

func (s *HTTPServer) handleConnectivity(w http.ResponseWriter, r *http.Request, processID string) {
	view, err := s.service.Connectivity(r.Context(), processID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request, processID string) {
	var body struct {
		Source       string `json:"source"`
		Target       string `json:"target"`
		SourceHandle string `json:"sourceHandle"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Source == "" || body.Target == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "source and target are required", nil)
		return
	}
	res, err := s.service.Connect(r.Context(), processID, body.Source, body.Target, body.SourceHandle)
	writeResult(w, res, err)
}

func (s *HTTPServer) handleDisconnect(w http.ResponseWriter, r *http.Request, processID string) {
	var req flow.DisconnectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if req.EdgeID == "" && (req.Source == "" || req.Target == "") {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "edgeId or source and target are required", nil)
		return
	}
	res, err := s.service.Disconnect(r.Context(), processID, req)
	writeResult(w, res, err)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, processID string) {
	changes, err := s.service.History(processID, queryInt(r, "limit", 50))
	if err != nil {
		respondError(w, err)
		return
	}
	if changes == nil {
		changes = []history.Change{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *HTTPServer) handleHistorySnapshot(w http.ResponseWriter, r *http.Request, processID, hash string) {
	raw, err := s.service.HistorySnapshot(processID, hash)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

// writeResult renders an engine command result. A partial or failed outcome
// keeps the result body, including the reconciled process, so the client can
// converge on what was actually persisted.
func writeResult(w http.ResponseWriter, res *flow.Result, err error) {
	if res == nil {
		respondError(w, err)
		return
	}
	status := http.StatusOK
	payload := map[string]any{
		"outcome":        res.Outcome,
		"completedSteps": res.Completed,
	}
	if res.Failed != nil {
		payload["failedStep"] = res.Failed
	}
	if res.Process != nil {
		payload["process"] = res.Process
	}
	if res.Outcome != flow.OutcomeComplete {
		var code string
		status, code, _, _ = mapError(res.Err)
		payload["code"] = code
		payload["error"] = res.ErrorMessage()
	}
	writeJSON(w, status, payload)
}

func respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, flow.ErrProcessNotFound):
		return http.StatusNotFound, "PROCESS_NOT_FOUND", "Process not found", nil
	case errors.Is(err, flow.ErrActivityNotFound):
		return http.StatusNotFound, "ACTIVITY_NOT_FOUND", "Activity not found", nil
	case errors.Is(err, flow.ErrEdgeNotFound):
		return http.StatusNotFound, "EDGE_NOT_FOUND", "Edge not found", nil
	case errors.Is(err, flow.ErrDuplicateEdge):
		return http.StatusConflict, "DUPLICATE_EDGE", "An edge with the same source, target and handle already exists", nil
	case errors.Is(err, flow.ErrNotDerived):
		return http.StatusUnprocessableEntity, "NOT_DERIVED", "The connection does not match a derived edge of the current order", nil
	case errors.Is(err, flow.ErrUnknownActivityType):
		return http.StatusBadRequest, "INVALID_TYPE", "Unknown activity type", nil
	case errors.Is(err, history.ErrChangeNotFound):
		return http.StatusNotFound, "CHANGE_NOT_FOUND", "Change not found", nil
	case errors.Is(err, snapshot.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
