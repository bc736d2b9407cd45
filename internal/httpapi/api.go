// Package httpapi exposes the translation service over HTTP. Responses
// use a uniform envelope: {"status": "ok"|"error", "data": ..., "error":
// {"code", "message"}}.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pdf-translator/internal/job"
	"pdf-translator/internal/ledger"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// JobService accepts and looks up jobs.
type JobService interface {
	Accept(ctx context.Context, userID, sourceLang, targetLang string, r io.Reader) (*job.Job, error)
	Lookup(jobID string) (*job.Job, error)
}

// JobLister reads jobs for listing and stats.
type JobLister interface {
	ListByUser(userID string, limit int) ([]*job.Job, error)
	CountByStatus() (map[job.Status]int, error)
}

// CreditService manages user credits.
type CreditService interface {
	Balance(userID string) (int64, error)
	History(userID string, limit int) ([]ledger.Entry, error)
	Grant(userID string, amount int64) error
}

// OutputOpener opens a job's translated PDF.
type OutputOpener interface {
	OpenOutput(jobID string) (*os.File, error)
}

// Server is the HTTP API.
type Server struct {
	jobs       JobService
	lister     JobLister
	credits    CreditService
	outputs    OutputOpener
	adminToken string
}

// NewServer creates the Server.
func NewServer(jobs JobService, lister JobLister, credits CreditService, outputs OutputOpener, adminToken string) *Server {
	return &Server{
		jobs:       jobs,
		lister:     lister,
		credits:    credits,
		outputs:    outputs,
		adminToken: adminToken,
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/download", s.handleDownload)
		r.Get("/credits", s.handleCredits)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/credits", s.handleGrant)
			r.Get("/stats", s.handleStats)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.String("duration", time.Since(start).String()))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || r.Header.Get("X-Admin-Token") != s.adminToken {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type envelope struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *errorObj `json:"error,omitempty"`
}

type errorObj struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Status: "error", Error: &errorObj{Code: code, Message: message}})
}

// writeAppError maps error codes to HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	code := types.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case types.ErrUnsupportedDocument:
		status = http.StatusUnprocessableEntity
	case types.ErrInsufficientCredits:
		status = http.StatusPaymentRequired
	case types.ErrNotFound:
		status = http.StatusNotFound
	case types.ErrExpired:
		status = http.StatusGone
	case types.ErrProvider, types.ErrProviderTransient:
		status = http.StatusBadGateway
	}
	writeError(w, status, string(code), err.Error())
}

func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "X-User-ID header required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "multipart field 'file' required")
		return
	}
	defer file.Close()

	j, err := s.jobs.Accept(r.Context(), uid,
		r.FormValue("source_lang"), r.FormValue("target_lang"), file)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Lookup(chi.URLParam(r, "jobID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "X-User-ID header required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.lister.ListByUser(uid, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeData(w, http.StatusOK, jobs)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	j, err := s.jobs.Lookup(jobID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	switch j.Status {
	case job.StatusCompleted:
	case job.StatusExpired:
		writeError(w, http.StatusGone, string(types.ErrExpired), "job output has expired")
		return
	default:
		writeError(w, http.StatusConflict, "NOT_READY", "job is not completed")
		return
	}

	f, err := s.outputs.OpenOutput(jobID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.translated.pdf"`)
	io.Copy(w, f)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "X-User-ID header required")
		return
	}
	balance, err := s.credits.Balance(uid)
	if err != nil {
		writeAppError(w, err)
		return
	}
	history, err := s.credits.History(uid, 20)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if history == nil {
		history = []ledger.Entry{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"balance": balance,
		"history": history,
	})
}

type grantRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "user_id and positive amount required")
		return
	}
	if err := s.credits.Grant(req.UserID, req.Amount); err != nil {
		writeAppError(w, err)
		return
	}
	balance, err := s.credits.Balance(req.UserID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"user_id": req.UserID,
		"balance": balance,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.lister.CountByStatus()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"jobs": counts})
}
