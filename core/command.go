package core

import (
	"strings"
	"sync"
)

// CommandHandler handles one command. It decodes its own arguments from data.
type CommandHandler func(data *[]byte) error

// Command is one entry of the command dictionary
type Command struct {
	ID      uint16
	Name    string
	Format  string // Argument format, e.g. "oid=%c pin=%u"
	Handler CommandHandler
}

// IsResponse reports whether the entry is a firmware to host message
func (c *Command) IsResponse() bool {
	return c.Handler == nil
}

// ArgCount returns the number of arguments in Format
func (c *Command) ArgCount() int {
	return len(strings.Fields(c.Format))
}

// Signature returns the dictionary line for the command
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns sequential ids to commands and responses. Both
// ends of the link build their registry in the same order, so ids agree
// without a handshake.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands []*Command // Indexed by id
	nameToID map[string]uint16
}

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		nameToID: make(map[string]uint16),
	}
}

// Register adds a command and returns its id. Registering a name again
// keeps the original id and replaces the handler.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		r.commands[id].Handler = handler
		return id
	}

	id := uint16(len(r.commands))
	r.commands = append(r.commands, &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	})
	r.nameToID[name] = id
	return id
}

// RegisterResponse adds a firmware to host message
func (r *CommandRegistry) RegisterResponse(name string, format string) uint16 {
	return r.Register(name, format, nil)
}

// GetCommand retrieves a command by id
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

// Lookup retrieves a command by name
func (r *CommandRegistry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// MustID returns the id of a registered name and panics otherwise.
// Only for names the program declared itself.
func (r *CommandRegistry) MustID(name string) uint16 {
	cmd, ok := r.Lookup(name)
	if !ok {
		panic("command not registered: " + name)
	}
	return cmd.ID
}

// Count returns the number of registered entries
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return ErrUnknownCommand
	}
	return cmd.Handler(data)
}

// GetDictionary returns one "name format" line per entry in id order
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, cmd := range r.commands {
		b.WriteString(cmd.Signature())
		b.WriteByte('\n')
	}
	return b.String()
}
