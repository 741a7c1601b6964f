// Package inferencetest provides in-memory sessions for testing model stages
// without onnxruntime.
package inferencetest

import (
	"errors"
	"sync"

	"github.com/dudu/faceswap/internal/inference"
)

// RunFunc computes outputs for one call.
type RunFunc func(inputs []inference.Tensor) ([]inference.Tensor, error)

// Session is a scripted inference.Session.
type Session struct {
	SessionName string
	Inputs      []string
	Outputs     []string
	Fn          RunFunc

	mu        sync.Mutex
	calls     int
	destroyed int
	last      []inference.Tensor
}

var _ inference.Session = (*Session)(nil)

// NewSession returns a session with one input named "input".
func NewSession(name string, fn RunFunc) *Session {
	return &Session{SessionName: name, Inputs: []string{"input"}, Outputs: []string{"output"}, Fn: fn}
}

func (s *Session) Name() string          { return s.SessionName }
func (s *Session) InputNames() []string  { return s.Inputs }
func (s *Session) OutputNames() []string { return s.Outputs }

func (s *Session) Run(inputs []inference.Tensor) ([]inference.Tensor, error) {
	s.mu.Lock()
	s.calls++
	s.last = inputs
	destroyed := s.destroyed > 0
	s.mu.Unlock()
	if destroyed {
		return nil, errors.New("session destroyed")
	}
	if s.Fn == nil {
		return nil, errors.New("no run function")
	}
	return s.Fn(inputs)
}

func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	return nil
}

// Calls returns how many times Run was invoked.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Destroyed returns how many times Destroy was invoked.
func (s *Session) Destroyed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// LastInputs returns the inputs of the most recent Run.
func (s *Session) LastInputs() []inference.Tensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Model binds s against table and panics on failure.
func Model(s *Session, table inference.BindingTable) *inference.Model {
	m, err := inference.Bind(s, table)
	if err != nil {
		panic(err)
	}
	return m
}

// Factory hands out sessions by model name. Each Build call constructs a
// fresh session so reloads are observable.
type Factory struct {
	mu       sync.Mutex
	Build    map[string]func() *Session
	Fail     map[string]error
	created  map[string][]*Session
	requests []string
}

var _ inference.Factory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{
		Build:   map[string]func() *Session{},
		Fail:    map[string]error{},
		created: map[string][]*Session{},
	}
}

func (f *Factory) NewSession(name string, model []byte, accelerated bool) (inference.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, name)
	if err := f.Fail[name]; err != nil {
		return nil, err
	}
	build, ok := f.Build[name]
	if !ok {
		return nil, errors.New("unknown model " + name)
	}
	s := build()
	f.created[name] = append(f.created[name], s)
	return s, nil
}

// Created returns every session built for name.
func (f *Factory) Created(name string) []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.created[name]...)
}

// Requests returns the model names requested, in order.
func (f *Factory) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}
