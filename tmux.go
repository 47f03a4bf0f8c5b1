package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

var tmuxPath string

func initTmuxPath() {
	if tmuxPath != "" {
		return
	}
	if path, err := lookPath("tmux"); err == nil {
		tmuxPath = path
		return
	}
	// Fallback paths for common installations
	for _, p := range []string{"/opt/homebrew/bin/tmux", "/usr/local/bin/tmux", "/usr/bin/tmux"} {
		if _, err := os.Stat(p); err == nil {
			tmuxPath = p
			return
		}
	}
}

// tmuxSafeName converts a window name to what tmux stores
// (dots are interpreted as window/pane separators in tmux)
func tmuxSafeName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// isTmuxTarget reports whether target is already something tmux resolves
// directly: a window/pane id or a session:window pair.
func isTmuxTarget(target string) bool {
	return strings.HasPrefix(target, "@") || strings.HasPrefix(target, "%") || strings.Contains(target, ":")
}

// tmuxTargetByName finds a window id by window name, falling back to the
// name itself so tmux can still try its own matching
func tmuxTargetByName(windowName string) string {
	out, err := exec.Command(tmuxPath, "list-windows", "-a", "-F", "#{window_id}\t#{window_name}").Output()
	if err == nil {
		if id := matchWindow(out, tmuxSafeName(windowName)); id != "" {
			return id
		}
	}
	return windowName
}

func matchWindow(listing []byte, windowName string) string {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "\t", 2)
		if len(parts) == 2 && parts[1] == windowName {
			return parts[0]
		}
	}
	return ""
}

func resolveTmuxTarget(target string) string {
	if isTmuxTarget(target) {
		return target
	}
	return tmuxTargetByName(target)
}

// tmuxSink types transcripts into a tmux pane, which also works over ssh and
// on Wayland where keystroke injection is unavailable
type tmuxSink struct {
	target        string
	trailingSpace bool
}

func (s *tmuxSink) Name() string { return outputTmux }

func (s *tmuxSink) Deliver(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	args := []string{"send-keys"}
	if s.target != "" {
		// Without -t tmux uses the most recently active pane
		args = append(args, "-t", resolveTmuxTarget(s.target))
	}
	logger.Debug("tmux-send", zap.Strings("args", args), zap.Int("len", len(text)))
	// -l sends the text literally instead of as key names
	args = append(args, "-l", withTrailingSpace(text, s.trailingSpace))
	return runCommand(ctx, tmuxPath, args...)
}
