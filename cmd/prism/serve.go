package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/config"
	"github.com/MimeLyc/kicad-prism/internal/diff"
	"github.com/MimeLyc/kicad-prism/internal/gitws"
	"github.com/MimeLyc/kicad-prism/internal/httpapi"
	"github.com/MimeLyc/kicad-prism/internal/jobs"
	"github.com/MimeLyc/kicad-prism/internal/kicad"
	"github.com/MimeLyc/kicad-prism/internal/metrics"
	"github.com/MimeLyc/kicad-prism/internal/projects"
	"github.com/MimeLyc/kicad-prism/internal/workflow"
	"github.com/MimeLyc/kicad-prism/pkg/file"
	"github.com/MimeLyc/kicad-prism/pkg/log"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := config.LoadEnvFile(cmd.String("env")); err != nil {
		return nil, err
	}
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	return cfg, nil
}

func newGitManager(cfg *config.Config) (*gitws.Manager, error) {
	return gitws.NewManager(cfg.Storage.WorkspaceDir,
		gitws.WithGitBinary(cfg.Git.Binary),
		gitws.WithGitHubToken(cfg.Git.GitHubToken),
	)
}

// purgeStale clears checkouts and diff outputs left by a previous process.
// Jobs are in memory only, so nothing could release them otherwise.
func purgeStale(cfg *config.Config) error {
	for _, dir := range []string{cfg.Storage.WorkspaceDir, cfg.Storage.DiffOutputDir} {
		n, err := file.ClearDir(dir)
		if err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
		if n > 0 {
			log.Info("Removed %d stale entries from %s", n, dir)
		}
	}
	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	metrics.MustRegister()

	for _, dir := range []string{cfg.Storage.DataDir, cfg.ProjectsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := purgeStale(cfg); err != nil {
		return err
	}

	store, err := projects.NewStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	mgr, err := newGitManager(cfg)
	if err != nil {
		return err
	}

	cliPath, err := kicad.ResolveCLI(cfg.KiCad.CLIPath)
	if err != nil {
		// diffs and workflows fail per job until kicad-cli is installed
		log.Warn("%v", err)
		cliPath = "kicad-cli"
	} else {
		log.Info("Using kicad-cli at %s", cliPath)
	}
	exporter := kicad.New(cliPath)

	registry := jobs.NewRegistry(
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithMaxJobs(cfg.Jobs.MaxRetained),
		jobs.WithTTL(cfg.Jobs.TTL),
	)
	registry.Start()
	defer registry.Stop()
	if err := registry.StartReaper(cfg.Jobs.ReapSchedule); err != nil {
		return err
	}

	importer := projects.NewImporter(store, mgr,
		analyzer.New(analyzer.WithMaxDepth(cfg.Discovery.MaxDepth)),
		cfg.ProjectsDir(),
	)
	diffs := diff.NewOrchestrator(registry, mgr, exporter, store, cfg.Storage.DiffOutputDir)
	runner := workflow.NewRunner(registry, mgr, exporter, store, cfg.Workflows,
		workflow.WithAuthor(cfg.Git.AuthorName, cfg.Git.AuthorEmail),
	)

	srv := httpapi.NewServer(registry, store,
		httpapi.WithImporter(importer),
		httpapi.WithDiffs(diffs),
		httpapi.WithWorkflows(runner),
		httpapi.WithSyncer(mgr),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
