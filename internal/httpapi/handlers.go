package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/gitws"
	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/MimeLyc/kicad-prism/internal/projects"
	"github.com/MimeLyc/kicad-prism/pkg/log"
	"github.com/go-chi/chi/v5"
)

const (
	defaultCommitLimit = 50
	maxCommitLimit     = 500
)

type analyzeRequest struct {
	URL string `json:"url"`
}

type jobCreatedResponse struct {
	JobID string `json:"job_id"`
}

type workflowRequest struct {
	Type string `json:"type"`
}

type syncResponse struct {
	Status string `json:"status"`
	Head   string `json:"head"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, http.StatusNotImplemented, "importer is not configured")
		return
	}
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	job := s.registry.Submit(jobs.KindAnalyze, url, func(ctx context.Context, h *jobs.Handle) (any, error) {
		return s.importer.Analyze(ctx, h, url)
	})
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{JobID: job.ID})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, http.StatusNotImplemented, "importer is not configured")
		return
	}
	var req projects.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, err)
		return
	}

	job := s.registry.Submit(jobs.KindImport, req.URL, func(ctx context.Context, h *jobs.Handle) (any, error) {
		return s.importer.Import(ctx, h, req)
	})
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{JobID: job.ID})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	limit := defaultCommitLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCommitLimit)
	}
	commits, err := gitws.Commits(p.RepoPath, p.SubPath, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (s *Server) handleReleases(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	tags, err := gitws.Tags(p.RepoPath)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.git == nil {
		writeError(w, http.StatusNotImplemented, "git is not configured")
		return
	}
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	head, err := s.git.Sync(r.Context(), p.RepoPath)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.store.MarkSynced(r.Context(), p.RepoPath, time.Now()); err != nil {
		log.Warn("Failed to record sync of %s: %v", p.RepoPath, err)
	}
	writeJSON(w, http.StatusOK, syncResponse{Status: "synced", Head: head})
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusNotImplemented, "workflows are not configured")
		return
	}
	var req workflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := s.workflows.Start(r.Context(), chi.URLParam(r, "projectID"), req.Type)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{JobID: job.ID})
}

func (s *Server) project(w http.ResponseWriter, r *http.Request) (*projects.Project, bool) {
	p, err := s.store.Get(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return p, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeErr maps an error kind onto its HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindNotFound, errs.KindRefNotFound:
		status = http.StatusNotFound
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotReady, errs.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		log.Error("Request failed: %v", err)
	}
	writeError(w, status, err.Error())
}
