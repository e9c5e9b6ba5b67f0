package tmux

// LocalExecutor runs tmux commands on the local machine.
type LocalExecutor struct{}

var _ Executor = (*LocalExecutor)(nil)

// SessionNames lists the names of all live tmux sessions.
func (l *LocalExecutor) SessionNames() ([]string, error) {
	infos, err := ListSessions()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

func (l *LocalExecutor) HasSession(name string) bool {
	return HasSession(name)
}

func (l *LocalExecutor) NewSession(name, workDir string, claudeArgs []string) error {
	return NewSession(name, workDir, claudeArgs)
}

func (l *LocalExecutor) KillSession(name string) error {
	return KillSession(name)
}

func (l *LocalExecutor) AttachSession(name string) error {
	return RunAttachSession(name)
}
