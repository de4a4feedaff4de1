package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	goruntime "runtime"
	"strings"
)

// systemClipboard shells out to the platform pasteboard tools.
type systemClipboard struct{}

func (systemClipboard) Read(ctx context.Context) (string, error) {
	var cmd *exec.Cmd
	if goruntime.GOOS == "darwin" {
		cmd = exec.CommandContext(ctx, "pbpaste")
	} else {
		cmd = exec.CommandContext(ctx, "xclip", "-selection", "clipboard", "-o")
	}
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return string(out), nil
}

func (systemClipboard) Write(ctx context.Context, text string) error {
	var cmd *exec.Cmd
	if goruntime.GOOS == "darwin" {
		cmd = exec.CommandContext(ctx, "pbcopy")
	} else {
		cmd = exec.CommandContext(ctx, "xclip", "-selection", "clipboard")
	}
	cmd.Stdin = bytes.NewReader([]byte(text))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

// systemPaster sends the platform paste keystroke to the focused window.
type systemPaster struct{}

func (systemPaster) Paste(ctx context.Context) error {
	var cmd *exec.Cmd
	if goruntime.GOOS == "darwin" {
		script := `tell application "System Events" to keystroke "v" using command down`
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	} else {
		cmd = exec.CommandContext(ctx, "xdotool", "key", "--clearmodifiers", "ctrl+v")
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("paste keystroke: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("paste keystroke: %w", err)
	}
	return nil
}
