//go:build linux || darwin

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// runPTY runs tool under a pseudo-terminal rather than piped stdout/
// stderr, for the model CLIs that only emit their full banner/status
// output when attached to a TTY. Grounded on
// tools/codex-interactive-driver/main.go's pty.Start/readLoop shape,
// narrowed from that tool's interactive prompt-driving to a single
// run-to-completion capture.
func (s *Supervisor) runPTY(ctx context.Context, tool ExternalTool, path string, args []string, stdinBytes []byte) (Result, error) {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = processGroupAttr()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("supervisor: starting %s under pty: %w", tool, err)
	}
	defer ptmx.Close()

	if len(stdinBytes) > 0 {
		_, _ = ptmx.Write(stdinBytes)
	}

	var buf strings.Builder
	var mu sync.Mutex
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		chunk := make([]byte, 4096)
		for {
			n, rerr := ptmx.Read(chunk)
			if n > 0 {
				mu.Lock()
				buf.Write(chunk[:n])
				mu.Unlock()
			}
			if rerr != nil {
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	start := time.Now()
	var waitErr error
	var timedOut bool
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		grace := s.KillGrace
		if grace <= 0 {
			grace = DefaultKillGrace
		}
		terminateProcessGroup(cmd, syscall.SIGTERM)
		select {
		case waitErr = <-waitDone:
		case <-time.After(grace):
			terminateProcessGroup(cmd, syscall.SIGKILL)
			waitErr = <-waitDone
		}
	}
	duration := time.Since(start)

	select {
	case <-readDone:
	case <-time.After(200 * time.Millisecond):
	}

	exitCode := 0
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if waitErr != nil && !timedOut {
		return Result{}, fmt.Errorf("supervisor: running %s under pty: %w", tool, waitErr)
	}

	mu.Lock()
	raw := buf.String()
	mu.Unlock()
	output := StripANSI(raw)

	return Result{
		Stdout:     output,
		ExitCode:   exitCode,
		DurationMs: duration.Milliseconds(),
		TokenUsage: parseTokenUsage(output),
		TimedOut:   timedOut,
	}, nil
}

// StripANSI removes ANSI CSI/OSC escape sequences from s, adapted from
// tools/codex-stdout-parser/main.go's stripANSI: model CLIs run under a
// pty emit cursor-movement and color codes that would otherwise corrupt
// the JSON status line downstream code scans for.
func StripANSI(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == 0x1b && i+1 < len(s) {
			switch s[i+1] {
			case '[':
				i += 2
				for i < len(s) {
					c := s[i]
					if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
						i++
						break
					}
					i++
				}
				continue
			case ']':
				i += 2
				for i < len(s) {
					if s[i] == 0x07 {
						i++
						break
					}
					if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '\\' {
						i += 2
						break
					}
					i++
				}
				continue
			default:
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
