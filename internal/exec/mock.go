package exec

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MockResponse is the canned result of a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// ExitError is returned by mocks to simulate a non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// MockCall records one invocation seen by a MockExecutor.
type MockCall struct {
	Dir  string
	Name string
	Args []string
	Env  []string
}

// String renders the call as a command line.
func (c MockCall) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type matcher struct {
	name   string
	args   []string
	exact  bool
	result MockResponse
}

// MockExecutor returns canned responses for registered commands and records
// every call. Unmatched commands fall through to the fallback executor, or
// fail when there is none.
type MockExecutor struct {
	mu       sync.Mutex
	matchers []matcher
	calls    []MockCall
	fallback CommandExecutor
}

// NewMockExecutor creates a mock. fallback may be nil.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{fallback: fallback}
}

// AddExactMatch registers a response for exactly name + args.
func (m *MockExecutor) AddExactMatch(name string, args []string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchers = append(m.matchers, matcher{name: name, args: args, exact: true, result: resp})
}

// AddPrefixMatch registers a response for any call to name whose args start
// with the given prefix.
func (m *MockExecutor) AddPrefixMatch(name string, prefix []string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchers = append(m.matchers, matcher{name: name, args: prefix, result: resp})
}

// GetCalls returns a copy of the recorded calls.
func (m *MockExecutor) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *MockExecutor) lookup(dir string, env []string, name string, args []string) (MockResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Dir: dir, Name: name, Args: slices.Clone(args), Env: slices.Clone(env)})

	// Later registrations win so tests can override defaults.
	for i := len(m.matchers) - 1; i >= 0; i-- {
		mt := m.matchers[i]
		if mt.name != name {
			continue
		}
		if mt.exact && slices.Equal(mt.args, args) {
			return mt.result, true
		}
		if !mt.exact && len(args) >= len(mt.args) && slices.Equal(mt.args, args[:len(mt.args)]) {
			return mt.result, true
		}
	}
	return MockResponse{}, false
}

func (m *MockExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	return m.RunWithEnv(ctx, dir, nil, name, args...)
}

func (m *MockExecutor) RunWithEnv(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, []byte, error) {
	if resp, ok := m.lookup(dir, env, name, args); ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}
	if m.fallback != nil {
		return m.fallback.RunWithEnv(ctx, dir, env, name, args...)
	}
	return nil, nil, fmt.Errorf("mock: no response registered for %q", MockCall{Name: name, Args: args}.String())
}

func (m *MockExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	stdout, _, err := m.Run(ctx, dir, name, args...)
	return stdout, err
}

func (m *MockExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	stdout, stderr, err := m.Run(ctx, dir, name, args...)
	return append(stdout, stderr...), err
}
