package speech

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Player plays one encoded utterance to completion. Play blocks until the
// audio finishes; the queue relies on that to keep utterances from
// overlapping.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// ExecPlayer shells out to an external audio player. The audio is written to
// a temp file appended as the command's final argument.
type ExecPlayer struct {
	Command string
}

// NewExecPlayer picks a sensible player command for the platform when none
// is configured.
func NewExecPlayer(command string) *ExecPlayer {
	if command == "" {
		if runtime.GOOS == "darwin" {
			command = "afplay"
		} else {
			command = "mpg123"
		}
	}
	return &ExecPlayer{Command: command}
}

func (p *ExecPlayer) Play(ctx context.Context, audio []byte) error {
	tmp, err := os.CreateTemp("", "knowtide-tts-*.mp3")
	if err != nil {
		return fmt.Errorf("failed to create audio temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write audio temp file: %w", err)
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, p.Command, tmp.Name())
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio player %q failed: %w", p.Command, err)
	}
	return nil
}

// DiscardPlayer drops audio on the floor, for muted and headless runs.
type DiscardPlayer struct{}

func (DiscardPlayer) Play(ctx context.Context, audio []byte) error {
	return nil
}
