package utils

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/andresmejia3/thermalgait/internal/types"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (ffmpeg logs)
// so a failed decode still reports what the tool complained about.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand attaches a buffer to an already-built command's Stderr.
// It prepares the command for execution but does not start it.
func NewSafeCommand(cmd *exec.Cmd) *SafeCommand {
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Tail returns the last n bytes of captured stderr.
func (s *SafeCommand) Tail(n int) string {
	b := s.Stderr.Bytes()
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(bytes.TrimSpace(b))
}

// --- 2. CLI error reporting ---

// ShowError prints the formatted error box used by every command.
// Failed jobs additionally get the user-facing explanation for their kind.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 THERMALGAIT ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
		if f := types.FailureFrom(err); f.Kind != types.FailureInternal && !errors.Is(err, types.ErrAlreadyProcessing) {
			fmt.Fprintf(os.Stderr, "HINT: %s\n", f.UserMessage)
		}
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nFFMPEG LOGS:\n%s\n", s.Tail(4096))
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit(1).
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}
