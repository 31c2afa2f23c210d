package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"libprep/api/internal/export"
	"libprep/api/internal/metrics"
	"libprep/api/internal/sample"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
	metrics    *metrics.Metrics
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        service.log,
		metrics:    service.metrics,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/api/workbenches", s.handleOpenWorkbench)
		r.Route("/api/workbenches/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkbench)
			r.Delete("/", s.handleCloseWorkbench)
			r.Put("/group", s.handleSwitchGroup)
			r.Delete("/groups/{group}", s.handleRemoveGroup)
			r.Post("/events", s.handleEvent)
			r.Post("/save", s.handleSave)
			r.Post("/save-all", s.handleSaveAll)
			r.Get("/export", s.handleExport)
			r.Get("/history", s.handleHistory)
			r.Get("/history/{hash}", s.handleHistoryEntry)
		})

		r.Get("/api/samples/search", s.handleSearch)
		r.Post("/api/admin/reindex", s.handleReindex)

		r.Get("/api/pool-data", s.handleGetPoolData)
		r.Post("/api/pool-data", s.handlePostPoolData)
		r.Get("/api/pool-no", s.handlePoolNumber)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"storage": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["storage"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleOpenWorkbench(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.OpenWorkbench(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetWorkbench(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetWorkbench(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCloseWorkbench(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseWorkbench(sessionFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSwitchGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Group string `json:"group"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	view, err := s.service.SwitchGroup(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Group)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleRemoveGroup(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.RemoveGroup(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "group"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	result, err := s.service.Dispatch(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSave answers 200 even when the remote refused the group; the
// per-group status carries the outcome.
func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Save(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.SaveAll(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format := export.Format(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatXLSX
	}
	result, err := s.service.Export(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	items, err := s.service.History(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.HistoryEntry(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.service.Search(r.Context(), sessionFrom(r), q.Get("q"), q.Get("test_name"), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleReindex(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reindex(sessionFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// envelope is the response shape of the pool-data endpoints.
type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, http.StatusOK, []envelope{{Status: status, Message: message, Data: data}})
}

// failEnvelope reports err inside the envelope. Authorization and request
// errors keep their HTTP status.
func (s *HTTPServer) failEnvelope(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		writeError(w, status, code, message, details)
		return
	}
	if status >= http.StatusInternalServerError {
		s.logError(r, err)
	}
	writeEnvelope(w, status, message, []sample.Row{})
}

func (s *HTTPServer) handleGetPoolData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ids []string
	for _, raw := range q["sample_id"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	group := q.Get("test_name")
	if group == "" {
		group = q.Get("application")
	}
	rows, err := s.service.PoolData(r.Context(), sessionFrom(r), q.Get("hospital_name"), group, ids)
	if err != nil {
		s.failEnvelope(w, r, err)
		return
	}
	if len(rows) == 0 {
		writeEnvelope(w, http.StatusNotFound, "No pool data found", []sample.Row{})
		return
	}
	writeEnvelope(w, http.StatusOK, fmt.Sprintf("Found %d rows", len(rows)), rows)
}

func (s *HTTPServer) handlePostPoolData(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hospital string       `json:"hospital_name"`
		TestName string       `json:"test_name"`
		Rows     []sample.Row `json:"rows"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	status, err := s.service.SavePoolData(r.Context(), sessionFrom(r), body.Hospital, body.TestName, body.Rows)
	if err != nil {
		s.failEnvelope(w, r, err)
		return
	}
	writeEnvelope(w, status.Code, status.Message, nil)
}

func (s *HTTPServer) handlePoolNumber(w http.ResponseWriter, r *http.Request) {
	poolNo, err := s.service.PoolNumber(r.Context(), sessionFrom(r))
	if err != nil {
		s.failEnvelope(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Pool number issued", poolNo)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logError(r, err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) logError(r *http.Request, err error) {
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	s.log.Error("request failed",
		zap.String("request_id", requestID),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
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

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.metrics.HTTPRequest(r.Method, strconv.Itoa(writer.status))
		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("request body is required")
	}
	return raw, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
