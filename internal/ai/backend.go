// Package ai runs a command-line model as a text generator. It backs the
// coordination analyst and agent collaborators when one is configured.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/sprintfleet/internal/config"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// BackendName identifies a supported AI backend.
type BackendName string

const (
	BackendNone   BackendName = "none"
	BackendClaude BackendName = "claude"
	BackendCodex  BackendName = "codex"
)

// maxStderr bounds how much stderr is quoted in an error.
const maxStderr = 512

// waitDelay bounds how long a cancelled command may hold its output pipes.
const waitDelay = 2 * time.Second

// ErrUnknownBackend is returned when the configured backend is unsupported.
var ErrUnknownBackend = errors.New("unknown AI backend")

// ErrDisabled is returned by NewFromConfig when the backend is "none".
var ErrDisabled = errors.New("AI backend disabled")

// Backend knows how to invoke one model CLI non-interactively.
type Backend interface {
	Name() BackendName
	DisplayName() string
	// BuildArgs returns the executable and arguments that print a single
	// response to prompt on stdout.
	BuildArgs(prompt string) (string, []string)
}

// NewFromConfig builds a Backend from configuration.
func NewFromConfig(cfg config.AIConfig) (Backend, error) {
	switch BackendName(strings.ToLower(cfg.Backend)) {
	case BackendClaude:
		return NewClaudeBackend(cfg), nil
	case BackendCodex:
		return NewCodexBackend(cfg), nil
	case BackendNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// ClaudeBackend implements Backend for Claude Code.
type ClaudeBackend struct {
	command         string
	skipPermissions bool
}

// NewClaudeBackend creates a Claude backend from config.
func NewClaudeBackend(cfg config.AIConfig) *ClaudeBackend {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	return &ClaudeBackend{
		command:         command,
		skipPermissions: cfg.SkipPermissions,
	}
}

func (c *ClaudeBackend) Name() BackendName { return BackendClaude }

func (c *ClaudeBackend) DisplayName() string { return "Claude" }

func (c *ClaudeBackend) BuildArgs(prompt string) (string, []string) {
	args := []string{"--print"}
	if c.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return c.command, append(args, prompt)
}

// CodexBackend implements Backend for Codex CLI.
type CodexBackend struct {
	command      string
	approvalMode string
}

// NewCodexBackend creates a Codex backend from config.
func NewCodexBackend(cfg config.AIConfig) *CodexBackend {
	command := cfg.Command
	if command == "" {
		command = "codex"
	}
	mode := cfg.ApprovalMode
	if mode == "" {
		mode = "full-auto"
	}
	return &CodexBackend{
		command:      command,
		approvalMode: mode,
	}
}

func (c *CodexBackend) Name() BackendName { return BackendCodex }

func (c *CodexBackend) DisplayName() string { return "Codex" }

func (c *CodexBackend) BuildArgs(prompt string) (string, []string) {
	args := append([]string{"exec"}, c.approvalFlags()...)
	return c.command, append(args, prompt)
}

func (c *CodexBackend) approvalFlags() []string {
	switch strings.ToLower(c.approvalMode) {
	case "bypass":
		return []string{"--dangerously-bypass-approvals-and-sandbox"}
	case "full-auto":
		return []string{"--full-auto"}
	default:
		return nil
	}
}

// Model runs a Backend once per prompt and returns its trimmed stdout.
type Model struct {
	backend Backend
	timeout time.Duration
	logger  *logging.Logger
}

// NewModel wraps backend. A zero timeout leaves calls bounded only by ctx.
func NewModel(backend Backend, timeout time.Duration, logger *logging.Logger) *Model {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Model{
		backend: backend,
		timeout: timeout,
		logger:  logger.WithComponent("ai"),
	}
}

// Backend returns the wrapped backend.
func (m *Model) Backend() Backend { return m.backend }

// Generate runs the model on prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	name, args := m.backend.BuildArgs(prompt)
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.NewTimeoutError(m.backend.DisplayName()+" generate", m.timeout).WithCause(ctx.Err())
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[:maxStderr]
		}
		m.logger.Warn("model command failed",
			"backend", string(m.backend.Name()),
			"error", err.Error(),
			"stderr", msg,
		)
		return "", fmt.Errorf("%s: %w: %s", m.backend.DisplayName(), err, msg)
	}

	m.logger.Debug("model responded",
		"backend", string(m.backend.Name()),
		"duration_ms", elapsed.Milliseconds(),
		"bytes", stdout.Len(),
	)
	return strings.TrimSpace(stdout.String()), nil
}
