package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/faceswap/internal/faceerr"
)

func TestExecutorFallsBackToCPUPermanently(t *testing.T) {
	f := &fakeFactory{failAccelerated: true, inputs: []string{"input.1"}}
	e := NewExecutor(f, true)
	assert.True(t, e.Accelerated())

	_, err := e.NewSession("detector", []byte{1}, ImageOnly)
	require.NoError(t, err)
	assert.False(t, e.Accelerated())

	_, err = e.NewSession("embedder", []byte{1}, ImageOnly)
	require.NoError(t, err)

	assert.Equal(t, []factoryCall{
		{"detector", true},
		{"detector", false},
		{"embedder", false},
	}, f.calls)
}

func TestExecutorKeepsAccelerator(t *testing.T) {
	f := &fakeFactory{inputs: []string{"input.1"}}
	e := NewExecutor(f, true)

	_, err := e.NewSession("detector", []byte{1}, ImageOnly)
	require.NoError(t, err)
	assert.True(t, e.Accelerated())
	assert.Equal(t, []factoryCall{{"detector", true}}, f.calls)
}

func TestExecutorCPUOnly(t *testing.T) {
	f := &fakeFactory{inputs: []string{"input.1"}}
	e := NewExecutor(f, false)

	_, err := e.NewSession("detector", []byte{1}, ImageOnly)
	require.NoError(t, err)
	assert.Equal(t, []factoryCall{{"detector", false}}, f.calls)
}

func TestExecutorLoadError(t *testing.T) {
	f := &fakeFactory{failAccelerated: true, failCPU: true, inputs: []string{"input.1"}}
	e := NewExecutor(f, true)

	_, err := e.NewSession("swapper", []byte{1}, SwapperInputs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, faceerr.ErrModelLoad))

	_, err = e.NewSession("swapper", nil, SwapperInputs)
	assert.True(t, errors.Is(err, faceerr.ErrModelLoad))
}

func TestExecutorBindingFailureDestroysSession(t *testing.T) {
	f := &fakeFactory{inputs: []string{"only"}}
	e := NewExecutor(f, false)

	_, err := e.NewSession("swapper", []byte{1}, SwapperInputs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, faceerr.ErrModelLoad))
	require.Len(t, f.sessions, 1)
	assert.True(t, f.sessions[0].destroyed)
}

func TestNewTensor(t *testing.T) {
	_, err := NewTensor(make([]float32, 6), 1, 2, 3)
	assert.NoError(t, err)
	_, err = NewTensor(make([]float32, 5), 1, 2, 3)
	assert.Error(t, err)
}
