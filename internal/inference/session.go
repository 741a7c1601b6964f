// Package inference runs model graphs and picks the execution backend.
package inference

import (
	"fmt"
	"sync"

	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/logger"
)

// Tensor is a dense float32 tensor copied out of (or into) the runtime.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor validates that data matches shape.
func NewTensor(data []float32, shape ...int64) (Tensor, error) {
	if n := NumElements(shape); n != int64(len(data)) {
		return Tensor{}, fmt.Errorf("tensor shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// NumElements returns the product of shape.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Session is a loaded model graph. Run takes inputs in InputNames order and
// returns outputs in OutputNames order. Outputs are owned by the caller; the
// runtime buffers behind them are already released when Run returns.
type Session interface {
	Name() string
	InputNames() []string
	OutputNames() []string
	Run(inputs []Tensor) ([]Tensor, error)
	Destroy() error
}

// Factory creates sessions from serialized model bytes.
type Factory interface {
	NewSession(name string, model []byte, accelerated bool) (Session, error)
}

// Executor creates sessions, trying the accelerated backend first. The first
// accelerated failure downgrades the executor to CPU for good; later models
// do not retry the accelerator.
type Executor struct {
	factory Factory

	mu      sync.Mutex
	cpuOnly bool
}

// NewExecutor wraps factory. With preferAccelerated false the executor starts
// on CPU.
func NewExecutor(factory Factory, preferAccelerated bool) *Executor {
	return &Executor{factory: factory, cpuOnly: !preferAccelerated}
}

// Accelerated reports whether sessions are currently created on the
// accelerated backend.
func (e *Executor) Accelerated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.cpuOnly
}

// NewSession loads model and resolves its inputs against table.
func (e *Executor) NewSession(name string, model []byte, table BindingTable) (*Model, error) {
	if len(model) == 0 {
		return nil, faceerr.Errorf(faceerr.KindModelLoad, name, "empty model")
	}

	e.mu.Lock()
	accelerated := !e.cpuOnly
	e.mu.Unlock()

	var sess Session
	var err error
	if accelerated {
		sess, err = e.factory.NewSession(name, model, true)
		if err != nil {
			logger.Logger().Warn("accelerated backend unavailable, falling back to CPU",
				"model", name, "error", err)
			e.mu.Lock()
			e.cpuOnly = true
			e.mu.Unlock()
			sess = nil
		}
	}
	if sess == nil {
		sess, err = e.factory.NewSession(name, model, false)
		if err != nil {
			return nil, faceerr.New(faceerr.KindModelLoad, name, err)
		}
	}

	m, err := Bind(sess, table)
	if err != nil {
		sess.Destroy()
		return nil, faceerr.New(faceerr.KindModelLoad, name, err)
	}
	logger.Logger().Info("model loaded", "model", name, "accelerated", accelerated && e.Accelerated(),
		"inputs", sess.InputNames(), "outputs", sess.OutputNames())
	return m, nil
}
