package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call is one recorded invocation of a FakeRunner.
type Call struct {
	Name string
	Args []string
}

// FakeRunner is a scripted Runner for tests. Handlers are looked up by tool name; an
// unknown tool fails.
type FakeRunner struct {
	mu       sync.Mutex
	Calls    []Call
	Handlers map[string]func(args []string) ([]byte, error)
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Handlers: make(map[string]func(args []string) ([]byte, error))}
}

// On registers the handler for a tool name.
func (f *FakeRunner) On(name string, h func(args []string) ([]byte, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Handlers[name] = h
}

// Output implements Runner.
func (f *FakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Name: name, Args: append([]string(nil), args...)})
	h, ok := f.Handlers[name]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: not scripted", name)
	}
	return h(args)
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := f.Output(ctx, name, args...)
	return err
}

// CallsTo returns the recorded calls for one tool as space joined command lines.
func (f *FakeRunner) CallsTo(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, strings.Join(c.Args, " "))
		}
	}
	return out
}
