package command

import "sync"

var (
	regMu    sync.RWMutex
	registry = map[string]Command{}
)

// RegisterCommand applies the middlewares to cmd and stores it by name.
func RegisterCommand(cmd Command, mws ...Middleware) {
	for _, mw := range mws {
		cmd = mw(cmd)
	}
	regMu.Lock()
	defer regMu.Unlock()
	registry[cmd.Name()] = cmd
}

// GetCommand looks up a registered command by name.
func GetCommand(name string) (Command, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	cmd, ok := registry[name]
	return cmd, ok
}

// AllCommands returns every registered command.
func AllCommands() []Command {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]Command, 0, len(registry))
	for _, cmd := range registry {
		out = append(out, cmd)
	}
	return out
}
