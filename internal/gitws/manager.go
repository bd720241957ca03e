package gitws

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/metrics"
	"github.com/MimeLyc/kicad-prism/pkg/log"
)

// nonInteractiveEnv makes every prompt fail fast instead of hanging a worker.
var nonInteractiveEnv = []string{
	"GIT_TERMINAL_PROMPT=0",
	"GCM_INTERACTIVE=never",
	"GIT_SSH_COMMAND=ssh -o BatchMode=yes -o StrictHostKeyChecking=accept-new",
}

// Manager prepares isolated checkouts under a workspace root and wraps the
// git operations the rest of the service needs.
type Manager struct {
	root        string
	gitBinary   string
	githubToken string
}

type Option func(*Manager)

func WithGitBinary(bin string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(bin) != "" {
			m.gitBinary = bin
		}
	}
}

// WithGitHubToken rewrites https://github.com/ remotes to token authenticated URLs.
func WithGitHubToken(token string) Option {
	return func(m *Manager) {
		m.githubToken = strings.TrimSpace(token)
	}
}

func NewManager(root string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure workspace root: %w", err)
	}
	m := &Manager{root: root, gitBinary: "git"}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Root() string { return m.root }

// CommandError carries git's stderr so callers can surface it verbatim.
type CommandError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func (m *Manager) globalArgs() []string {
	if m.githubToken == "" {
		return nil
	}
	return []string{
		"-c", "url.https://x-access-token:" + m.githubToken + "@github.com/.insteadOf=https://github.com/",
	}
}

// run executes git in dir and returns its trimmed stdout.
func (m *Manager) run(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.gitBinary, append(m.globalArgs(), args...)...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), nonInteractiveEnv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	op := commandOp(args)
	start := time.Now()
	err := cmd.Run()
	metrics.ObserveCommand("git", op, time.Since(start), err)
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		log.Debug("git %s failed in %s: %v", op, dir, err)
		return "", &CommandError{Op: op, Stderr: msg, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// commandOp is the git subcommand, skipping leading -c pairs.
func commandOp(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		if !strings.HasPrefix(args[i], "-") {
			return args[i]
		}
	}
	return "git"
}
