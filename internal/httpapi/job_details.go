package httpapi

import (
	"net/http"
	"strings"

	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/go-chi/chi/v5"
)

// jobStatusResponse is the polled job shape. Result and error are only set
// once the job is terminal.
type jobStatusResponse struct {
	JobID   string      `json:"job_id"`
	Kind    jobs.Kind   `json:"kind"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
	Percent int         `json:"percent"`
	Logs    []string    `json:"logs"`
	Result  any         `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func newJobStatusResponse(job *jobs.Job) jobStatusResponse {
	logs := job.Logs
	if logs == nil {
		logs = []string{}
	}
	return jobStatusResponse{
		JobID:   job.ID,
		Kind:    job.Kind,
		Status:  job.Status,
		Message: job.Message,
		Percent: job.Percent,
		Logs:    logs,
		Result:  job.Result,
		Error:   job.Error,
	}
}

// handleListJobs lists jobs oldest first, optionally filtered by ?kind=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	kind := jobs.Kind(r.URL.Query().Get("kind"))
	ret := make([]jobStatusResponse, 0)
	for _, job := range s.registry.List() {
		if kind != "" && job.Kind != kind {
			continue
		}
		ret = append(ret, newJobStatusResponse(job))
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobStatusResponse(job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "jobID")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
	})
}

// diffJob resolves the diff job in the URL and checks it belongs to the
// project in the URL.
func (s *Server) diffJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	if s.diffs == nil {
		writeError(w, http.StatusNotImplemented, "diffs are not configured")
		return nil, false
	}
	job, err := s.diffs.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	if job.Subject != chi.URLParam(r, "projectID") {
		writeError(w, http.StatusNotFound, "diff job "+job.ID+" does not belong to this project")
		return nil, false
	}
	return job, true
}

type diffRequest struct {
	Commit1 string `json:"commit1"`
	Commit2 string `json:"commit2"`
}

func (s *Server) handleStartDiff(w http.ResponseWriter, r *http.Request) {
	if s.diffs == nil {
		writeError(w, http.StatusNotImplemented, "diffs are not configured")
		return
	}
	var req diffRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := s.diffs.Start(r.Context(), chi.URLParam(r, "projectID"), req.Commit1, req.Commit2)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreatedResponse{JobID: job.ID})
}

func (s *Server) handleDiffStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.diffJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobStatusResponse(job))
}

func (s *Server) handleDiffManifest(w http.ResponseWriter, r *http.Request) {
	job, ok := s.diffJob(w, r)
	if !ok {
		return
	}
	m, err := s.diffs.Manifest(job.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDiffAsset(w http.ResponseWriter, r *http.Request) {
	job, ok := s.diffJob(w, r)
	if !ok {
		return
	}
	path, err := s.diffs.Asset(job.ID, chi.URLParam(r, "commit"), chi.URLParam(r, "kind"), chi.URLParam(r, "item"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if strings.HasSuffix(strings.ToLower(path), ".svg") {
		w.Header().Set("Content-Type", "image/svg+xml")
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

func (s *Server) handleReleaseDiff(w http.ResponseWriter, r *http.Request) {
	job, ok := s.diffJob(w, r)
	if !ok {
		return
	}
	if err := s.diffs.Release(job.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"released": true,
	})
}
