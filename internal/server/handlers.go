package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"clearskin/internal/api"
	"clearskin/internal/images"
	"clearskin/internal/logging"
	"clearskin/internal/quiz"
	"clearskin/internal/records"
	"clearskin/internal/services"
	"clearskin/internal/workflow"
)

const (
	maxListLimit      = 100
	multipartOverhead = 1 << 20
	detectorCacheKey  = "detector"
)

func (s *Server) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleQuestions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromCatalog(s.manager.Catalog()))
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Records.RecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxListLimit)
	}
	items, err := s.records.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []api.ScanSummary{}
	}
	s.writeJSON(w, http.StatusOK, api.ScanListResponse{Items: items})
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Detector.MaxImageBytes+multipartOverhead)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	session, err := s.manager.Capture(r.Context(), file)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromSession(session))
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, live := s.manager.Session(id)

	detail, err := s.records.Describe(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, records.ErrNotFound) && live:
		// Placeholder writes are disabled; the record appears on finalize.
		detail = &api.ScanDetail{ScanSummary: api.ScanSummary{
			ID:        session.ID,
			CreatedAt: api.FormatTime(session.CreatedAt),
			ImageRef:  session.ImageRef,
			JobStatus: string(session.Job.Status()),
			Summary:   "Processing...",
		}}
	default:
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	if live {
		view := api.FromSession(session)
		view.Record = nil
		detail.Session = &view
	}
	s.writeJSON(w, http.StatusOK, detail)
}

type answerRequest struct {
	Option *int `json:"option"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.Option == nil {
		s.writeError(w, http.StatusBadRequest, "body must be {\"option\": <index>}")
		return
	}
	if err := session.Quiz.SelectAnswer(*req.Option); err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSession(session))
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := session.Quiz.Advance(); err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSession(session))
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.Abandon(id); err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.records.Stats(r.Context(), len(s.manager.Sessions()))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.records.Verify(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDetector(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "1"
	if !refresh {
		if cached, ok := s.cache.Get(detectorCacheKey); ok {
			s.writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	status := api.DetectorStatus{
		BaseURL:   s.health.BaseURL(),
		CheckedAt: api.FormatTime(time.Now()),
	}
	health, err := s.health.Health(r.Context())
	if err != nil {
		status.Error = services.FailureReason(err)
		logging.WarnWithContext(s.logger, "detector health check failed", "detector_unreachable",
			logging.Error(err),
			logging.Hint("check detector.base_url"),
			logging.Impact("new scans will be saved without detections"),
		)
	} else {
		status.Reachable = true
		status.ModelLoaded = health.ModelLoaded
		status.ModelPath = health.ModelPath
		status.Message = health.Message
	}
	s.cache.SetDefault(detectorCacheKey, status)
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*workflow.Session, bool) {
	id := mux.Vars(r)["id"]
	session, ok := s.manager.Session(id)
	if ok {
		return session, true
	}
	if _, err := s.records.Describe(r.Context(), id); err == nil {
		s.writeError(w, http.StatusConflict, quiz.ErrQuizClosed.Error())
		return nil, false
	}
	s.writeError(w, http.StatusNotFound, "scan session not found")
	return nil, false
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, quiz.ErrNoAnswerSelected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, quiz.ErrQuizClosed), errors.Is(err, records.ErrFinalized), errors.Is(err, records.ErrExists):
		return http.StatusConflict
	case errors.Is(err, images.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound) && !errors.Is(err, services.ErrStorage):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: message})
}
