// Package convert provides a tts.Converter that re-voices audio by running an
// external voice-conversion command (an RVC or OpenVoice CLI, for example).
//
// The command and its arguments are templates. The placeholders {input},
// {reference} and {output} are replaced with the base WAV path, the speaker's
// reference recording and the path the command must write its WAV result to.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

var _ tts.Converter = (*Command)(nil)

const (
	defaultTimeout = 120 * time.Second

	// stderrTail is the number of trailing stderr bytes kept for errors.
	stderrTail = 2048

	// waitDelay bounds how long Run waits for output pipes after the
	// command was killed.
	waitDelay = 2 * time.Second
)

// ExitError reports a conversion command that exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("convert: command exited with status %d", e.Code)
	}
	return fmt.Sprintf("convert: command exited with status %d: %s", e.Code, e.Stderr)
}

// ErrTimeout is returned when the command exceeds its time budget.
var ErrTimeout = errors.New("convert: command timed out")

// Config describes the conversion command.
type Config struct {
	Command string        `yaml:"command" mapstructure:"command"`
	Args    []string      `yaml:"args" mapstructure:"args"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// TempDir holds per-call scratch directories. Defaults to os.TempDir().
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// Command runs the configured conversion program once per Convert call.
type Command struct {
	cfg Config
}

// New validates cfg and returns a Command.
func New(cfg Config) (*Command, error) {
	if cfg.Command == "" {
		return nil, errors.New("convert: command must not be empty")
	}
	joined := strings.Join(cfg.Args, " ")
	if !strings.Contains(joined, "{output}") {
		return nil, errors.New("convert: args must reference {output}")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Command{cfg: cfg}, nil
}

// Convert implements tts.Converter.
func (c *Command) Convert(ctx context.Context, base []byte, referencePath string) ([]byte, error) {
	if len(base) == 0 {
		return nil, errors.New("convert: base audio is empty")
	}
	if referencePath == "" {
		return nil, fmt.Errorf("convert: %w", tts.ErrReferenceRequired)
	}

	dir, err := os.MkdirTemp(c.cfg.TempDir, "vocalis-convert-*")
	if err != nil {
		return nil, fmt.Errorf("convert: create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.wav")
	output := filepath.Join(dir, "output.wav")
	if err := os.WriteFile(input, base, 0o600); err != nil {
		return nil, fmt.Errorf("convert: write input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	r := strings.NewReplacer("{input}", input, "{reference}", referencePath, "{output}", output)
	args := make([]string, len(c.cfg.Args))
	for i, a := range c.cfg.Args {
		args[i] = r.Replace(a)
	}

	stderr := &tailBuffer{max: stderrTail}
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	cmd.Dir = dir
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	// Wrapper scripts fork the real tool; the whole group must die on timeout.
	killProcessGroup(cmd)

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return nil, fmt.Errorf("convert: run %s: %w", c.cfg.Command, err)
	}

	out, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("convert: read output: %w", err)
	}
	if !audio.IsWAV(out) {
		return nil, errors.New("convert: output is not WAV audio")
	}
	return out, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
