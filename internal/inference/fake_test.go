package inference

import "errors"

type fakeSession struct {
	name      string
	inputs    []string
	outputs   []string
	destroyed bool
	lastRun   []Tensor
}

func (s *fakeSession) Name() string          { return s.name }
func (s *fakeSession) InputNames() []string  { return s.inputs }
func (s *fakeSession) OutputNames() []string { return s.outputs }
func (s *fakeSession) Destroy() error        { s.destroyed = true; return nil }

func (s *fakeSession) Run(inputs []Tensor) ([]Tensor, error) {
	s.lastRun = inputs
	return []Tensor{{Shape: []int64{1}, Data: []float32{1}}}, nil
}

type factoryCall struct {
	name        string
	accelerated bool
}

type fakeFactory struct {
	failAccelerated bool
	failCPU         bool
	inputs          []string
	calls           []factoryCall
	sessions        []*fakeSession
}

func (f *fakeFactory) NewSession(name string, model []byte, accelerated bool) (Session, error) {
	f.calls = append(f.calls, factoryCall{name, accelerated})
	if accelerated && f.failAccelerated {
		return nil, errors.New("no GPU")
	}
	if !accelerated && f.failCPU {
		return nil, errors.New("corrupt weights")
	}
	s := &fakeSession{name: name, inputs: f.inputs, outputs: []string{"out"}}
	f.sessions = append(f.sessions, s)
	return s, nil
}
