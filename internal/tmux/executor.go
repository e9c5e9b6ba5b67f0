package tmux

// Executor abstracts tmux operations so callers can be tested without a
// tmux server.
type Executor interface {
	SessionNames() ([]string, error)
	HasSession(name string) bool
	NewSession(name, workDir string, claudeArgs []string) error
	KillSession(name string) error
	AttachSession(name string) error
}
