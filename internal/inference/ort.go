package inference

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/faceswap/internal/logger"
)

// ORTConfig configures the onnxruntime backend.
type ORTConfig struct {
	LibraryPath string // shared library; empty uses the onnxruntime_go default
	DeviceID    int
	Threads     int
}

// ORTFactory creates onnxruntime sessions. The runtime environment is
// initialised on first use and torn down by Close.
type ORTFactory struct {
	cfg ORTConfig

	mu          sync.Mutex
	initialized bool
}

// NewORTFactory returns a factory; no runtime work happens until the first
// session is created.
func NewORTFactory(cfg ORTConfig) *ORTFactory {
	return &ORTFactory{cfg: cfg}
}

func (f *ORTFactory) ensureInitialized() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}
	if f.cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(f.cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	f.initialized = true
	return nil
}

// Close destroys the runtime environment. Sessions must be destroyed first.
func (f *ORTFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return nil
	}
	f.initialized = false
	return ort.DestroyEnvironment()
}

// IOInfo describes one model input or output.
type IOInfo struct {
	Name  string
	Shape []int64
	Type  string
}

// Inspect lists a model's inputs and outputs without creating a session.
func (f *ORTFactory) Inspect(model []byte) (inputs, outputs []IOInfo, err error) {
	if err := f.ensureInitialized(); err != nil {
		return nil, nil, err
	}
	in, out, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read model info: %w", err)
	}
	return toIOInfo(in), toIOInfo(out), nil
}

func toIOInfo(infos []ort.InputOutputInfo) []IOInfo {
	result := make([]IOInfo, len(infos))
	for i, info := range infos {
		result[i] = IOInfo{
			Name:  info.Name,
			Shape: append([]int64(nil), info.Dimensions...),
			Type:  info.DataType.String(),
		}
	}
	return result
}

// NewSession implements Factory.
func (f *ORTFactory) NewSession(name string, model []byte, accelerated bool) (Session, error) {
	if err := f.ensureInitialized(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if f.cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(f.cfg.Threads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	if accelerated {
		if err := f.appendAccelerator(options); err != nil {
			return nil, err
		}
	}

	in, out, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	inputNames := make([]string, len(in))
	for i, info := range in {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(out))
	for i, info := range out {
		outputNames[i] = info.Name
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(model, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", name, err)
	}

	return &ortSession{
		name:        name,
		session:     session,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// appendAccelerator adds CoreML on macOS and CUDA elsewhere.
func (f *ORTFactory) appendAccelerator(options *ort.SessionOptions) error {
	if runtime.GOOS == "darwin" {
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return fmt.Errorf("CoreML execution provider: %w", err)
		}
		logger.Logger().Debug("execution provider appended", "provider", "coreml")
		return nil
	}

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("CUDA provider options: %w", err)
	}
	defer cudaOptions.Destroy()

	if err := cudaOptions.Update(map[string]string{
		"device_id": strconv.Itoa(f.cfg.DeviceID),
	}); err != nil {
		return fmt.Errorf("CUDA provider options: %w", err)
	}
	if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
		return fmt.Errorf("CUDA execution provider: %w", err)
	}
	logger.Logger().Debug("execution provider appended", "provider", "cuda", "device", f.cfg.DeviceID)
	return nil
}

type ortSession struct {
	name        string
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

func (s *ortSession) Name() string          { return s.name }
func (s *ortSession) InputNames() []string  { return s.inputNames }
func (s *ortSession) OutputNames() []string { return s.outputNames }

// Run creates runtime tensors for inputs, lets the runtime allocate outputs,
// copies the results out and destroys every runtime value before returning,
// including on error paths.
func (s *ortSession) Run(inputs []Tensor) ([]Tensor, error) {
	if len(inputs) != len(s.inputNames) {
		return nil, fmt.Errorf("%s expects %d inputs, got %d", s.name, len(s.inputNames), len(inputs))
	}

	in := make([]ort.Value, len(inputs))
	out := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range in {
			if v != nil {
				v.Destroy()
			}
		}
		for _, v := range out {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	for i, t := range inputs {
		tensor, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor %s: %w", s.inputNames[i], err)
		}
		in[i] = tensor
	}

	if err := s.session.Run(in, out); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	results := make([]Tensor, len(out))
	for i, v := range out {
		tensor, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not a float32 tensor", s.outputNames[i])
		}
		shape := tensor.GetShape()
		data := tensor.GetData()
		results[i] = Tensor{
			Shape: append([]int64(nil), shape...),
			Data:  append([]float32(nil), data...),
		}
	}
	return results, nil
}

func (s *ortSession) Destroy() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Join(fmt.Errorf("failed to destroy %s session", s.name), err)
	}
	return nil
}
