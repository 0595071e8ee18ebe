package picker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandExecutor runs one prepared command.
type CommandExecutor interface {
	// Run executes the command and returns its standard output.
	Run() ([]byte, error)
}

// CommandBuilder prepares commands bound to a context, so tests can record
// picker invocations without running the binary.
type CommandBuilder interface {
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command. Standard error is folded into the returned
// error when the command fails.
func (r *RealCommandExecutor) Run() ([]byte, error) {
	var stderr bytes.Buffer
	r.cmd.Stderr = &stderr
	out, err := r.cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return out, err
	}
	return out, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// RealCommandBuilder implements CommandBuilder with exec.CommandContext.
type RealCommandBuilder struct{}

// NewRealCommandBuilder creates a RealCommandBuilder.
func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

// BuildCommand creates an executor for name with args.
func (b *RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.CommandContext(ctx, name, args...)}
}

// MockCommandExecutor returns canned output.
type MockCommandExecutor struct {
	Output []byte
	Err    error
}

// Run returns the configured output and error.
func (m *MockCommandExecutor) Run() ([]byte, error) {
	return m.Output, m.Err
}

// MockBuiltCommand records one built command.
type MockBuiltCommand struct {
	Name string
	Args []string
}

// MockCommandBuilder records built commands. It is safe for concurrent use.
type MockCommandBuilder struct {
	mu       sync.Mutex
	Commands []MockBuiltCommand
	// ExecutorFactory creates executors per command; nil yields empty output.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

// NewMockCommandBuilder creates a MockCommandBuilder.
func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

// BuildCommand records the command and returns its executor.
func (b *MockCommandBuilder) BuildCommand(_ context.Context, name string, args ...string) CommandExecutor {
	b.mu.Lock()
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: args})
	factory := b.ExecutorFactory
	b.mu.Unlock()
	if factory != nil {
		return factory(name, args)
	}
	return &MockCommandExecutor{}
}

// LastCommand returns the most recently built command, or nil.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Commands) == 0 {
		return nil
	}
	c := b.Commands[len(b.Commands)-1]
	return &c
}

// Count returns the number of commands built.
func (b *MockCommandBuilder) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Commands)
}
