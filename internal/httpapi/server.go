package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/diff"
	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/MimeLyc/kicad-prism/internal/projects"
	"github.com/MimeLyc/kicad-prism/pkg/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type projectStore interface {
	Get(ctx context.Context, id string) (*projects.Project, error)
	List(ctx context.Context) ([]*projects.Project, error)
	MarkSynced(ctx context.Context, repoPath string, at time.Time) error
}

type importer interface {
	Analyze(ctx context.Context, rep projects.Reporter, url string) (*analyzer.Discovery, error)
	Import(ctx context.Context, rep projects.Reporter, req projects.Request) (*projects.Result, error)
}

type differ interface {
	Start(ctx context.Context, projectID, commit1, commit2 string) (*jobs.Job, error)
	Status(jobID string) (*jobs.Job, error)
	Manifest(jobID string) (*diff.Manifest, error)
	Asset(jobID, commit, kind, item string) (string, error)
	Release(jobID string) error
}

type workflowRunner interface {
	Start(ctx context.Context, projectID, workflowType string) (*jobs.Job, error)
}

type syncer interface {
	Sync(ctx context.Context, repoPath string) (string, error)
}

type Server struct {
	registry  *jobs.Registry
	store     projectStore
	importer  importer
	diffs     differ
	workflows workflowRunner
	git       syncer

	streamInterval time.Duration

	router *chi.Mux
	server *http.Server
}

type Option func(*Server)

func WithImporter(im importer) Option {
	return func(s *Server) {
		s.importer = im
	}
}

func WithDiffs(d differ) Option {
	return func(s *Server) {
		s.diffs = d
	}
}

func WithWorkflows(w workflowRunner) Option {
	return func(s *Server) {
		s.workflows = w
	}
}

func WithSyncer(g syncer) Option {
	return func(s *Server) {
		s.git = g
	}
}

// WithStreamInterval sets how often the job stream pushes a snapshot.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(registry *jobs.Registry, store projectStore, opts ...Option) *Server {
	s := &Server{
		registry:       registry,
		store:          store,
		streamInterval: time.Second,
		router:         chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("HTTP server listening on %s", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/import", s.handleImport)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Delete("/jobs/{jobID}", s.handleDeleteJob)
		r.Get("/jobs/{jobID}/stream", s.handleJobStream)

		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Get("/commits", s.handleCommits)
			r.Get("/releases", s.handleReleases)
			r.Post("/sync", s.handleSync)
			r.Post("/workflows", s.handleWorkflow)

			r.Post("/diff", s.handleStartDiff)
			r.Delete("/diff/{jobID}", s.handleReleaseDiff)
			r.Get("/diff/{jobID}/status", s.handleDiffStatus)
			r.Get("/diff/{jobID}/manifest", s.handleDiffManifest)
			r.Get("/diff/{jobID}/assets/{commit}/{kind}/{item}", s.handleDiffAsset)
		})
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug("%s %s -> %d (%s, request_id=%s)",
			r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}
