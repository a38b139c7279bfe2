package model

import (
	"fmt"
	"os"

	"github.com/cyclopcam/logs"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNX Runtime backend. The runtime ships as a C shared library; if
// libonnxruntime is not on the default loader path, point
// HABMAP_ONNXRUNTIME_LIB at it before loading a model.

func initRuntime() error {
	if ort.IsInitialized() {
		return nil
	}
	if p := os.Getenv("HABMAP_ONNXRUNTIME_LIB"); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("Failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

type onnxModel struct {
	cfg        *Config
	log        logs.Log
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputSize  int // 0 when the model takes dynamic spatial dims
}

// Load resolves a model's weights (downloading into cacheDir if needed) and
// creates an ONNX Runtime session for it.
func Load(log logs.Log, cfg *Config, cacheDir string) (Model, error) {
	files, err := FetchDependencies(log, cfg, cacheDir)
	if err != nil {
		return nil, err
	}
	modelPath := files[cfg.ModelFilename]

	if err := initRuntime(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("Failed to inspect %v: %w", modelPath, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("Model %v has %v inputs and %v outputs, expected 1 and 1", cfg.Name, len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 4 {
		return nil, fmt.Errorf("Model %v input must be 4D (batch, channels, height, width), got %vD", cfg.Name, len(in.Dimensions))
	}
	// Negative dims are dynamic. A fixed input must be square.
	h, w := in.Dimensions[2], in.Dimensions[3]
	inputSize := 0
	switch {
	case h > 0 && w > 0:
		if h != w {
			return nil, fmt.Errorf("Model %v input shape must be square or dynamic, got %vx%v", cfg.Name, w, h)
		}
		inputSize = int(h)
	case h > 0:
		inputSize = int(h)
	case w > 0:
		inputSize = int(w)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("Failed to create session options: %w", err)
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{in.Name}, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("Failed to load ONNX model %v: %w", modelPath, err)
	}

	log.Infof("Loaded model %v revision %v (tile size %v)", cfg.Name, cfg.Revision, inputSize)
	return &onnxModel{
		cfg:        cfg,
		log:        log,
		session:    session,
		inputName:  in.Name,
		outputName: out.Name,
		inputSize:  inputSize,
	}, nil
}

func (m *onnxModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

func (m *onnxModel) Config() *Config {
	return m.cfg
}

func (m *onnxModel) InputSize() int {
	return m.inputSize
}

func (m *onnxModel) Predict(batch []float32, batchSize, channels, size int) ([]float32, int, error) {
	if err := preprocess(m.cfg, batch, batchSize, channels, size*size); err != nil {
		return nil, 0, err
	}

	input, err := ort.NewTensor(ort.NewShape(int64(batchSize), int64(channels), int64(size), int64(size)), batch)
	if err != nil {
		return nil, 0, fmt.Errorf("Failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, 0, fmt.Errorf("Inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, fmt.Errorf("Model %v returned %T, expected a float32 tensor", m.cfg.Name, outputs[0])
	}
	shape := t.GetShape()
	if len(shape) != 4 || int(shape[0]) != batchSize || int(shape[2]) != size || int(shape[3]) != size {
		return nil, 0, fmt.Errorf("Model %v returned shape %v for a %vx%vx%vx%v batch", m.cfg.Name, shape, batchSize, channels, size, size)
	}
	classes := int(shape[1])

	// The tensor's data is freed on Destroy, so copy it out
	scores := make([]float32, batchSize*classes*size*size)
	copy(scores, t.GetData())
	return scores, classes, nil
}

func (m *onnxModel) Postprocess(scores []float32, classes, h, w int) []uint8 {
	return postprocess(m.cfg, scores, classes, h, w)
}

func (m *onnxModel) Shortcut(size int) []uint8 {
	return constantLabels(m.cfg, size)
}
