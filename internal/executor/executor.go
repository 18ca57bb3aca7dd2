package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/credentials"
)

const (
	DefaultTimeout        = 5 * time.Minute
	DefaultMaxOutputBytes = 1 << 20
	DefaultWaitDelay      = 5 * time.Second

	maxExcerptBytes = 2048

	// TimeoutMessage is the error of a result whose script ran out of time.
	TimeoutMessage = "timeout"
	// CancelledMessage is the error of a result whose scan was cancelled.
	CancelledMessage = "cancelled"
)

// Config holds the execution settings shared by every check.
type Config struct {
	// DefaultTimeout applies to checks without their own timeout.
	DefaultTimeout time.Duration
	Channel        ChannelMode
	// TempDir is where credential files are created, os.TempDir() when empty.
	TempDir string
	// MaxOutputBytes bounds the captured stdout and stderr of a script.
	MaxOutputBytes int
	// WaitDelay bounds the wait for the output pipes once the script is gone.
	WaitDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.Channel == "" {
		c.Channel = ChannelFile
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = DefaultWaitDelay
	}
	return c
}

// Executor runs check scripts. It is safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "executor"),
		now:    time.Now,
	}
}

// Run executes the script of def with the given credentials and always
// returns exactly one result for it. Failures of the script, including
// crashes and timeouts, are reported as Error results.
func (e *Executor) Run(ctx context.Context, def catalogue.Definition, creds *credentials.Set) Result {
	start := e.now()
	res := e.run(ctx, def, creds)
	res.RecommendationID = def.RecommendationID
	res.StartedAt = start
	res.Duration = e.now().Sub(start)
	return res
}

func (e *Executor) run(ctx context.Context, def catalogue.Definition, creds *credentials.Set) Result {
	if ctx.Err() != nil {
		return ErrorResult(def.RecommendationID, CancelledMessage)
	}
	if creds == nil {
		return ErrorResult(def.RecommendationID, "no credentials")
	}

	payload, err := json.Marshal(creds.Payload())
	if err != nil {
		return ErrorResult(def.RecommendationID, fmt.Sprintf("cannot encode credentials: %v", err))
	}
	channel, err := openChannel(e.cfg.Channel, e.cfg.TempDir, payload)
	if err != nil {
		return ErrorResult(def.RecommendationID, err.Error())
	}
	defer func() {
		if err := channel.release(); err != nil {
			e.logger.ErrorContext(ctx, "failed to release credentials channel",
				slog.String("check", def.RecommendationID),
				slog.String("error", err.Error()))
		}
	}()

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := def.Command()
	cmd := exec.CommandContext(runCtx, command[0], command[1:]...) //nolint:gosec // scripts come from the catalogue
	cmd.Dir = filepath.Dir(def.Script)
	cmd.Env = append(scriptEnv(def, creds), channel.env...)
	cmd.Stdin = channel.stdin
	stdout := newTailBuffer(e.cfg.MaxOutputBytes)
	stderr := newTailBuffer(e.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.cfg.WaitDelay
	configureProcessGroup(cmd)

	e.logger.DebugContext(ctx, "running check",
		slog.String("check", def.RecommendationID),
		slog.String("tenant", creds.TenantID),
		slog.Duration("timeout", timeout))

	runErr := cmd.Run()
	killProcessGroup(cmd, runErr)

	switch {
	case runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		e.logger.WarnContext(ctx, "check timed out",
			slog.String("check", def.RecommendationID),
			slog.Duration("timeout", timeout))
		return ErrorResult(def.RecommendationID, TimeoutMessage)
	case runErr != nil && ctx.Err() != nil:
		return ErrorResult(def.RecommendationID, CancelledMessage)
	}

	res, parseErr := ParseOutput(def.RecommendationID, stdout.Bytes())
	if parseErr == nil {
		if runErr != nil {
			e.logger.DebugContext(ctx, "check exited with an error after printing its result",
				slog.String("check", def.RecommendationID),
				slog.String("error", runErr.Error()))
		}
		return res
	}

	secrets := secretValues(creds)
	var msg string
	if runErr != nil {
		msg = fmt.Sprintf("script failed: %v", runErr)
		if s := excerpt(string(stderr.Bytes()), maxExcerptBytes); s != "" {
			msg += ": " + s
		}
	} else {
		msg = fmt.Sprintf("invalid script output: %v", parseErr)
		if s := excerpt(string(stdout.Bytes()), maxExcerptBytes); s != "" {
			msg += ": " + s
		}
	}
	return ErrorResult(def.RecommendationID, redact(msg, secrets))
}

// scriptEnv returns the inherited environment plus the non secret check
// metadata. Variables of a parent posture-scanner run are not inherited.
func scriptEnv(def catalogue.Definition, creds *credentials.Set) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "POSTURE_") {
			continue
		}
		env = append(env, kv)
	}
	return append(env,
		EnvCheckID+"="+def.RecommendationID,
		EnvBenchmarkID+"="+def.BenchmarkID,
		EnvBenchmarkVersion+"="+def.BenchmarkVersion,
		EnvTenantID+"="+creds.TenantID,
		EnvTenantDomain+"="+creds.TenantDomain,
	)
}

func secretValues(creds *credentials.Set) []string {
	var secrets []string
	if creds.ClientSecret != nil {
		secrets = append(secrets, creds.ClientSecret.Secret)
	}
	if creds.Certificate != nil && creds.Certificate.Password != "" {
		secrets = append(secrets, creds.Certificate.Password)
	}
	if creds.UserPassword != nil {
		secrets = append(secrets, creds.UserPassword.Password)
	}
	return secrets
}
