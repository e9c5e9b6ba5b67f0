package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type SessionInfo struct {
	Name          string
	AttachedCount int
	Created       time.Time
}

// FindTmux locates the tmux binary.
func FindTmux() (string, error) {
	return exec.LookPath("tmux")
}

// run executes tmux and returns stdout. Errors carry tmux's stderr.
func run(args ...string) (string, error) {
	bin, err := FindTmux()
	if err != nil {
		return "", fmt.Errorf("tmux not found: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &commandError{args: args, stderr: strings.TrimSpace(stderr.String()), err: err}
	}
	return stdout.String(), nil
}

type commandError struct {
	args   []string
	stderr string
	err    error
}

func (e *commandError) Error() string {
	if e.stderr != "" {
		return fmt.Sprintf("tmux %s: %s", e.args[0], e.stderr)
	}
	return fmt.Sprintf("tmux %s: %v", e.args[0], e.err)
}

func (e *commandError) Unwrap() error { return e.err }

// isNoServer reports whether err only means that tmux has no sessions.
func isNoServer(err error) bool {
	var ce *commandError
	if !errors.As(err, &ce) {
		return false
	}
	s := strings.ToLower(ce.stderr)
	return strings.Contains(s, "no server running") ||
		strings.Contains(s, "no sessions") ||
		strings.Contains(s, "error connecting to")
}

// ListSessions returns every tmux session. A missing server is zero sessions,
// not an error; a missing tmux binary is an error.
func ListSessions() ([]SessionInfo, error) {
	out, err := run("list-sessions", "-F", "#{session_name}|#{session_attached}|#{session_created}")
	if err != nil {
		if isNoServer(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseSessionList(out), nil
}

// parseSessionList parses tmux list-sessions output into SessionInfo structs.
func parseSessionList(output string) []SessionInfo {
	var sessions []SessionInfo
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 || parts[0] == "" {
			continue
		}

		attached, _ := strconv.Atoi(parts[1])
		createdUnix, _ := strconv.ParseInt(parts[2], 10, 64)

		sessions = append(sessions, SessionInfo{
			Name:          parts[0],
			AttachedCount: attached,
			Created:       time.Unix(createdUnix, 0),
		})
	}
	return sessions
}

// exactTarget stops tmux from prefix-matching session names.
func exactTarget(name string) string {
	return "=" + name
}

// HasSession checks if a tmux session with exactly this name exists.
func HasSession(name string) bool {
	_, err := run("has-session", "-t", exactTarget(name))
	return err == nil
}

// NewSession creates a new detached tmux session running claude.
func NewSession(name, workDir string, claudeArgs []string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}

	// Build the claude command, unsetting CLAUDECODE to allow nesting
	claudeCmd := "unset CLAUDECODE; claude"
	for _, a := range claudeArgs {
		claudeCmd += " " + a
	}
	args = append(args, claudeCmd)

	_, err := run(args...)
	return err
}

// KillSession sends Ctrl-C, waits briefly, then kills the session.
func KillSession(name string) error {
	target := exactTarget(name)
	_, _ = run("send-keys", "-t", target, "C-c", "")

	time.Sleep(500 * time.Millisecond)

	_, err := run("kill-session", "-t", target)
	return err
}

// CurrentSession returns the name of the tmux session this process runs in.
func CurrentSession() (string, error) {
	if os.Getenv("TMUX") == "" {
		return "", errors.New("not inside tmux")
	}
	args := []string{"display-message", "-p"}
	if pane := os.Getenv("TMUX_PANE"); pane != "" {
		args = append(args, "-t", pane)
	}
	args = append(args, "#S")
	out, err := run(args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// filterTMUX removes the TMUX env var so we can attach from within tmux.
func filterTMUX(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "TMUX=") {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// AttachSession replaces the current process with tmux attach.
func AttachSession(name string) error {
	bin, err := FindTmux()
	if err != nil {
		return err
	}

	return syscall.Exec(bin, []string{"tmux", "attach-session", "-t", exactTarget(name)}, filterTMUX(os.Environ()))
}

// RunAttachSession runs tmux attach as a child process (returns on detach).
func RunAttachSession(name string) error {
	bin, err := FindTmux()
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, "attach-session", "-t", exactTarget(name))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = filterTMUX(os.Environ())
	return cmd.Run()
}
