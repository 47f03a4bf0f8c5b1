package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"
)

// Sink delivers a finished transcript somewhere the user sees it
type Sink interface {
	Deliver(ctx context.Context, text string) error
	Name() string
}

// Overridable in tests
var (
	lookPath       = exec.LookPath
	runCommand     = runExternal
	clipboardWrite = clipboard.WriteAll
)

func runExternal(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

type DisplayServer string

const (
	displayX11     DisplayServer = "x11"
	displayWayland DisplayServer = "wayland"
	displayNone    DisplayServer = "none"
)

func detectDisplay() DisplayServer {
	switch strings.ToLower(os.Getenv("XDG_SESSION_TYPE")) {
	case "wayland":
		return displayWayland
	case "x11":
		return displayX11
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return displayWayland
	}
	if os.Getenv("DISPLAY") != "" {
		return displayX11
	}
	return displayNone
}

// keystrokeTool picks the binary that can inject input into the focused
// window. xdotool under XWayland only reaches X clients, so it is not
// accepted on Wayland.
func keystrokeTool(display DisplayServer, needChord bool) (string, error) {
	var candidates []string
	switch display {
	case displayWayland:
		candidates = []string{"wtype"}
		if !needChord {
			candidates = append(candidates, "ydotool")
		}
	default:
		candidates = []string{"xdotool"}
	}
	for _, c := range candidates {
		if _, err := lookPath(c); err == nil {
			return c, nil
		}
	}
	if display == displayWayland {
		return "", ErrWaylandUnsupported
	}
	return "", ErrNoKeystrokeTool
}

// chordArgs translates "ctrl+shift+v" into the tool's argument list
func chordArgs(tool, chord string) []string {
	switch tool {
	case "wtype":
		parts := strings.Split(chord, "+")
		mods, key := parts[:len(parts)-1], parts[len(parts)-1]
		var args []string
		for _, m := range mods {
			args = append(args, "-M", m)
		}
		args = append(args, "-k", key)
		for i := len(mods) - 1; i >= 0; i-- {
			args = append(args, "-m", mods[i])
		}
		return args
	default:
		return []string{"key", "--clearmodifiers", chord}
	}
}

func typeArgs(tool, text string) []string {
	switch tool {
	case "wtype":
		return []string{"--", text}
	case "ydotool":
		return []string{"type", "--", text}
	default:
		return []string{"type", "--clearmodifiers", "--delay", "5", "--", text}
	}
}

func withTrailingSpace(text string, on bool) string {
	if on {
		return text + " "
	}
	return text
}

// pasteSink copies to the clipboard and presses the paste chord. Faster than
// typing and safe for characters the keymap lacks.
type pasteSink struct {
	keys          string
	trailingSpace bool
	display       DisplayServer
}

func (s *pasteSink) Name() string { return outputPaste }

func (s *pasteSink) Deliver(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	tool, err := keystrokeTool(s.display, true)
	if err != nil {
		return err
	}
	if err := clipboardWrite(withTrailingSpace(text, s.trailingSpace)); err != nil {
		return fmt.Errorf("failed to copy to clipboard (apt install xclip): %w", err)
	}
	return runCommand(ctx, tool, chordArgs(tool, s.keys)...)
}

// typeSink simulates each keystroke
type typeSink struct {
	trailingSpace bool
	display       DisplayServer
}

func (s *typeSink) Name() string { return outputType }

func (s *typeSink) Deliver(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	tool, err := keystrokeTool(s.display, false)
	if err != nil {
		return err
	}
	return runCommand(ctx, tool, typeArgs(tool, withTrailingSpace(text, s.trailingSpace))...)
}

type stdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *stdoutSink) Name() string { return outputStdout }

func (s *stdoutSink) Deliver(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, text)
	return err
}

func newSink(out OutputConfig) (Sink, error) {
	switch out.Mode {
	case outputPaste:
		return &pasteSink{keys: out.PasteKeys, trailingSpace: out.TrailingSpace, display: detectDisplay()}, nil
	case outputType:
		return &typeSink{trailingSpace: out.TrailingSpace, display: detectDisplay()}, nil
	case outputTmux:
		initTmuxPath()
		if tmuxPath == "" {
			return nil, fmt.Errorf("tmux not found")
		}
		return &tmuxSink{target: out.TmuxTarget, trailingSpace: out.TrailingSpace}, nil
	case outputStdout:
		return &stdoutSink{w: os.Stdout}, nil
	}
	return nil, fmt.Errorf("%w: unknown output mode %q", ErrInvalidConfig, out.Mode)
}

// warnDisplay logs the Xorg workaround once at startup for keystroke sinks
func warnDisplay(mode string) {
	if mode != outputPaste && mode != outputType {
		return
	}
	display := detectDisplay()
	if _, err := keystrokeTool(display, mode == outputPaste); err != nil {
		logger.Warn("text will not reach the focused window", zap.String("display", string(display)), zap.Error(err))
	}
}
