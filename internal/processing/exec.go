package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mediaflow/internal/domain"
)

const stderrTail = 512

// runTool executes an external encoder. The process is killed when ctx is
// done, in which case the context cause is returned.
func runTool(ctx context.Context, bin string, args ...string) error {
	if bin == "" {
		return domain.Permanentf("required tool is not installed")
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	msg := strings.TrimSpace(stderr.String())
	if len(msg) > stderrTail {
		msg = msg[len(msg)-stderrTail:]
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return domain.Permanentf("%s exited with %d: %s", filepath.Base(bin), exitErr.ExitCode(), msg)
	}
	return domain.Transient(fmt.Errorf("%s: %w", filepath.Base(bin), err))
}

// workdir is a scratch directory for tool input and output files.
type workdir struct {
	dir string
}

func newWorkdir() (*workdir, error) {
	dir, err := os.MkdirTemp("", "mediaflow-*")
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("create scratch dir: %w", err))
	}
	return &workdir{dir: dir}, nil
}

func (w *workdir) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w *workdir) write(name string, data []byte) (string, error) {
	p := w.path(name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", domain.Transient(fmt.Errorf("write scratch file: %w", err))
	}
	return p, nil
}

func (w *workdir) read(name string) ([]byte, error) {
	data, err := os.ReadFile(w.path(name))
	if err != nil {
		return nil, domain.Permanentf("tool produced no output: %v", err)
	}
	return data, nil
}

func (w *workdir) cleanup() {
	_ = os.RemoveAll(w.dir)
}
