package speech

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// LocalProducer shells out to a speech synthesizer on the host (espeak, say,
// or compatible), the built-in fallback when no vendor voice is reachable.
type LocalProducer struct {
	command string
	args    []string
}

func NewLocalProducer(command string, args ...string) (*LocalProducer, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("local tts command is empty")
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("local tts command %q not found: %w", command, err)
	}
	return &LocalProducer{command: command, args: args}, nil
}

func (p *LocalProducer) Name() string { return "local" }

func (p *LocalProducer) Speak(ctx context.Context, text string, started func()) error {
	args := append(append([]string{}, p.args...), text)
	cmd := exec.CommandContext(ctx, p.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start local tts: %w", err)
	}
	if started != nil {
		started()
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("local tts exited: %w", err)
	}
	return nil
}
