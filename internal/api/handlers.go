package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/internal/export"
	"github.com/rpattn/fleetquery/internal/orchestrator"
	"github.com/rpattn/fleetquery/internal/reports"
	"github.com/rpattn/fleetquery/internal/repository"
)

const maxBodyBytes = 1 << 20

type submitted struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type uploadRequest struct {
	Format string `json:"format"`
	Name   string `json:"name"`
}

type uploadResponse struct {
	RequestID string `json:"request_id"`
	FileName  string `json:"file_name"`
	URL       string `json:"url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"servers":        len(s.deps.Fleet),
		"running":        len(s.deps.Queries.Running()),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	servers := s.deps.Fleet
	if servers == nil {
		servers = []domain.ServerDescriptor{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Reports.List())
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	plan, err := s.deps.Queries.PlanQuery(req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.dispatch(w, r, plan)
}

func (s *Server) handleExecuteMulti(w http.ResponseWriter, r *http.Request) {
	var req domain.MultiServerQueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	plan, err := s.deps.Queries.PlanMulti(req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.dispatch(w, r, plan)
}

// dispatch runs plan synchronously, or in the background when ?async=true.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, plan orchestrator.Plan) {
	if isAsync(r) {
		id, err := s.deps.Queries.Submit(plan)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, submitted{RequestID: id, Status: string(domain.ExecutionStatePending)})
		return
	}
	response, err := s.deps.Queries.Execute(r.Context(), plan)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	var req reports.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if isAsync(r) {
		id, err := s.deps.Reports.Submit(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, submitted{RequestID: id, Status: string(domain.ExecutionStatePending)})
		return
	}
	report, err := s.deps.Reports.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, ok := s.deps.Queries.Status(id)
	if !ok {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("request %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	response, ok := s.deps.Queries.Result(id)
	if !ok {
		writeError(w, fmt.Errorf("request %s: %w", id, domain.ErrResultNotFound))
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": id,
		"logs":       s.deps.Logs.Logs(id),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled := s.deps.Queries.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": id,
		"cancelled":  cancelled,
	})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": s.deps.Queries.CancelAll(),
	})
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": s.deps.Queries.Running(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploader == nil {
		writeMessage(w, http.StatusServiceUnavailable, "uploads are not configured")
		return
	}
	id := chi.URLParam(r, "id")
	var req uploadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	format := export.FormatXLSX
	if req.Format != "" {
		parsed, err := export.ParseFormat(req.Format)
		if err != nil {
			writeError(w, err)
			return
		}
		format = parsed
	}

	file, err := s.deps.Exporter.Export(id, format, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	url, err := s.deps.Uploader.Upload(r.Context(), file.Data, file.Name, file.ContentType)
	if err != nil {
		log.Printf("[api] upload of %s failed: %v", id, err)
		writeMessage(w, http.StatusBadGateway, fmt.Sprintf("upload failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{RequestID: id, FileName: file.Name, URL: url})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeMessage(w, http.StatusServiceUnavailable, "execution history is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	records, err := s.deps.History.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeMessage(w, http.StatusServiceUnavailable, "execution history is disabled")
		return
	}
	record, err := s.deps.History.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func isAsync(r *http.Request) bool {
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return async
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return domain.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat), domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrResultNotFound), errors.Is(err, repository.ErrExecutionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] internal error: %v", err)
	}
	writeMessage(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
