package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Placeholders substituted in renderer arguments.
const (
	PlaceholderURL    = "{url}"
	PlaceholderOutput = "{output}"
)

// DefaultCommand renders a PDF with a headless Chromium.
var DefaultCommand = []string{
	"chromium",
	"--headless",
	"--disable-gpu",
	"--print-to-pdf=" + PlaceholderOutput,
	PlaceholderURL,
}

const (
	stderrLimit = 4 << 10
	waitDelay   = 5 * time.Second
)

// CommandRenderer runs an external program per page.
type CommandRenderer struct {
	argv []string
}

// NewCommandRenderer validates the argument template. It must mention the URL
// placeholder; the output placeholder is optional for renderers that derive
// the path themselves.
func NewCommandRenderer(argv []string) (*CommandRenderer, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("renderer command is empty")
	}
	found := false
	for _, arg := range argv {
		if strings.Contains(arg, PlaceholderURL) {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("renderer command must contain %s", PlaceholderURL)
	}
	return &CommandRenderer{argv: append([]string(nil), argv...)}, nil
}

// Args expands the template for job.
func (r *CommandRenderer) Args(job Job) []string {
	replacer := strings.NewReplacer(PlaceholderURL, job.URL, PlaceholderOutput, job.Path)
	out := make([]string, len(r.argv))
	for i, arg := range r.argv {
		out[i] = replacer.Replace(arg)
	}
	return out
}

// Render spawns the renderer and waits for it. When ctx ends the whole
// process group is killed and reaped before Render returns.
func (r *CommandRenderer) Render(ctx context.Context, job Job) error {
	args := r.Args(job)
	// #nosec G204 -- the command comes from operator configuration.
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStart, args[0], err)
	}
	err := cmd.Wait()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("renderer stopped: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
	}
	return fmt.Errorf("wait for renderer: %w", err)
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
