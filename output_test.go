package main

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type commandCall struct {
	name string
	args []string
}

// fakeTools replaces PATH lookups, command execution and the clipboard
func fakeTools(t *testing.T, available ...string) (*[]commandCall, *[]string) {
	t.Helper()
	var calls []commandCall
	var copied []string

	origLook, origRun, origClip := lookPath, runCommand, clipboardWrite
	t.Cleanup(func() {
		lookPath, runCommand, clipboardWrite = origLook, origRun, origClip
	})

	lookPath = func(name string) (string, error) {
		for _, a := range available {
			if a == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", exec.ErrNotFound
	}
	runCommand = func(ctx context.Context, name string, args ...string) error {
		calls = append(calls, commandCall{name: name, args: args})
		return nil
	}
	clipboardWrite = func(text string) error {
		copied = append(copied, text)
		return nil
	}
	return &calls, &copied
}

func TestDetectDisplay(t *testing.T) {
	tests := []struct {
		name    string
		session string
		wayland string
		display string
		want    DisplayServer
	}{
		{"xorg session", "x11", "", ":0", displayX11},
		{"wayland session", "wayland", "wayland-0", ":0", displayWayland},
		{"session type wins", "x11", "wayland-0", "", displayX11},
		{"wayland socket only", "", "wayland-0", "", displayWayland},
		{"display only", "", "", ":1", displayX11},
		{"headless", "tty", "", "", displayNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_SESSION_TYPE", tt.session)
			t.Setenv("WAYLAND_DISPLAY", tt.wayland)
			t.Setenv("DISPLAY", tt.display)
			require.Equal(t, tt.want, detectDisplay())
		})
	}
}

func TestKeystrokeTool(t *testing.T) {
	t.Run("x11 uses xdotool", func(t *testing.T) {
		fakeTools(t, "xdotool", "wtype")
		tool, err := keystrokeTool(displayX11, true)
		require.NoError(t, err)
		require.Equal(t, "xdotool", tool)
	})
	t.Run("x11 without xdotool", func(t *testing.T) {
		fakeTools(t)
		_, err := keystrokeTool(displayX11, true)
		require.ErrorIs(t, err, ErrNoKeystrokeTool)
	})
	t.Run("wayland ignores xdotool", func(t *testing.T) {
		fakeTools(t, "xdotool")
		_, err := keystrokeTool(displayWayland, false)
		require.ErrorIs(t, err, ErrWaylandUnsupported)
		require.Contains(t, err.Error(), "Ubuntu on Xorg")
	})
	t.Run("wayland wtype", func(t *testing.T) {
		fakeTools(t, "wtype")
		tool, err := keystrokeTool(displayWayland, true)
		require.NoError(t, err)
		require.Equal(t, "wtype", tool)
	})
	t.Run("ydotool cannot send chords", func(t *testing.T) {
		fakeTools(t, "ydotool")
		_, err := keystrokeTool(displayWayland, true)
		require.ErrorIs(t, err, ErrWaylandUnsupported)

		tool, err := keystrokeTool(displayWayland, false)
		require.NoError(t, err)
		require.Equal(t, "ydotool", tool)
	})
}

func TestChordArgs(t *testing.T) {
	require.Equal(t, []string{"key", "--clearmodifiers", "ctrl+v"}, chordArgs("xdotool", "ctrl+v"))
	require.Equal(t,
		[]string{"-M", "ctrl", "-M", "shift", "-k", "v", "-m", "shift", "-m", "ctrl"},
		chordArgs("wtype", "ctrl+shift+v"))
	require.Equal(t, []string{"-k", "Return"}, chordArgs("wtype", "Return"))
}

func TestTypeArgs(t *testing.T) {
	require.Equal(t, []string{"--", "-n hi"}, typeArgs("wtype", "-n hi"))
	require.Equal(t, []string{"type", "--", "hi"}, typeArgs("ydotool", "hi"))
	args := typeArgs("xdotool", "hi")
	require.Equal(t, "hi", args[len(args)-1])
	require.Equal(t, "--", args[len(args)-2])
}

func TestPasteSink(t *testing.T) {
	calls, copied := fakeTools(t, "xdotool")
	sink := &pasteSink{keys: "ctrl+v", trailingSpace: true, display: displayX11}

	require.NoError(t, sink.Deliver(context.Background(), "नमस्ते"))
	require.Equal(t, []string{"नमस्ते "}, *copied)
	require.Equal(t, []commandCall{{name: "xdotool", args: []string{"key", "--clearmodifiers", "ctrl+v"}}}, *calls)

	require.NoError(t, sink.Deliver(context.Background(), ""))
	require.Len(t, *calls, 1, "empty text is not delivered")
}

func TestPasteSinkClipboardFailure(t *testing.T) {
	calls, _ := fakeTools(t, "xdotool")
	clipboardWrite = func(string) error { return errors.New("no xclip") }

	err := (&pasteSink{keys: "ctrl+v", display: displayX11}).Deliver(context.Background(), "hello")
	require.ErrorContains(t, err, "clipboard")
	require.Empty(t, *calls, "no paste without a clipboard copy")
}

func TestTypeSink(t *testing.T) {
	calls, copied := fakeTools(t, "wtype")
	sink := &typeSink{display: displayWayland}

	require.NoError(t, sink.Deliver(context.Background(), "hello"))
	require.Empty(t, *copied)
	require.Equal(t, []commandCall{{name: "wtype", args: []string{"--", "hello"}}}, *calls)
}

func TestTmuxSink(t *testing.T) {
	calls, _ := fakeTools(t)
	orig := tmuxPath
	tmuxPath = "/usr/bin/tmux"
	t.Cleanup(func() { tmuxPath = orig })

	sink := &tmuxSink{target: "@4", trailingSpace: true}
	require.NoError(t, sink.Deliver(context.Background(), "ls -la"))
	require.Equal(t, []commandCall{{
		name: "/usr/bin/tmux",
		args: []string{"send-keys", "-t", "@4", "-l", "ls -la "},
	}}, *calls)
}

func TestStdoutSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &stdoutSink{w: &buf}
	require.NoError(t, sink.Deliver(context.Background(), "one"))
	require.NoError(t, sink.Deliver(context.Background(), ""))
	require.NoError(t, sink.Deliver(context.Background(), "two"))
	require.Equal(t, "one\ntwo\n", buf.String())
}

func TestNewSink(t *testing.T) {
	for _, mode := range []string{outputPaste, outputType, outputStdout} {
		s, err := newSink(OutputConfig{Mode: mode, PasteKeys: "ctrl+v"})
		require.NoError(t, err)
		require.Equal(t, mode, s.Name())
	}
	_, err := newSink(OutputConfig{Mode: "fax"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunExternalIncludesStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	err := runExternal(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "broken"), err.Error())
}

func TestTmuxSinkDefaultPane(t *testing.T) {
	calls, _ := fakeTools(t)
	orig := tmuxPath
	tmuxPath = "/usr/bin/tmux"
	t.Cleanup(func() { tmuxPath = orig })

	require.NoError(t, (&tmuxSink{}).Deliver(context.Background(), "pwd"))
	require.Equal(t, []string{"send-keys", "-l", "pwd"}, (*calls)[0].args)
}
