package picker

import (
	"context"
	"path/filepath"
	"sync"
	"time"
)

// Stub is a scripted Picker. Picks and Errors are keyed by waveform path;
// keys without a directory match on the base name.
type Stub struct {
	Picks  map[string][]time.Time
	Errors map[string]error
	// InvokeFunc overrides the maps when set.
	InvokeFunc func(inv Invocation) ([]time.Time, error)

	mu          sync.Mutex
	rendered    []RenderRequest
	invocations []Invocation
}

// NewStub returns a stub answering from picks.
func NewStub(picks map[string][]time.Time) *Stub {
	return &Stub{Picks: picks}
}

// Render records req and returns its path.
func (s *Stub) Render(_ context.Context, req RenderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendered = append(s.rendered, req)
	return req.Path, nil
}

// Invoke records inv and returns the scripted result.
func (s *Stub) Invoke(_ context.Context, inv Invocation) ([]time.Time, error) {
	s.mu.Lock()
	s.invocations = append(s.invocations, inv)
	fn := s.InvokeFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(inv)
	}
	if err := lookup(s.Errors, inv.Waveform); err != nil {
		return nil, err
	}
	return lookup(s.Picks, inv.Waveform), nil
}

func lookup[V any](m map[string]V, path string) V {
	if v, ok := m[path]; ok {
		return v
	}
	return m[filepath.Base(path)]
}

// Rendered returns the recorded render requests.
func (s *Stub) Rendered() []RenderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RenderRequest(nil), s.rendered...)
}

// Invocations returns the recorded invocations.
func (s *Stub) Invocations() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Invocation(nil), s.invocations...)
}
