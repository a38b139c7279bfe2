package model

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/habmap/habmap/pkg/raster"
	"github.com/stretchr/testify/require"
)

func TestResolveMaxPixelValue(t *testing.T) {
	log := logs.NewTestingLog(t)

	v, err := ResolveMaxPixelValue(log, raster.Uint8)
	require.NoError(t, err)
	require.Equal(t, float32(255), v)

	v, err = ResolveMaxPixelValue(log, raster.Uint16)
	require.NoError(t, err)
	require.Equal(t, float32(65535), v)

	v, err = ResolveMaxPixelValue(log, raster.Float32)
	require.NoError(t, err)
	require.Equal(t, float32(1), v)

	_, err = ResolveMaxPixelValue(log, raster.DType(99))
	require.Error(t, err)
}

func TestPreprocessScaling(t *testing.T) {
	cfg := &Config{MaxPixelValue: 255}
	batch := []float32{0, 127.5, 255, 51}
	require.NoError(t, preprocess(cfg, batch, 1, 1, 4))
	require.InDelta(t, 0.0, batch[0], 1e-6)
	require.InDelta(t, 0.5, batch[1], 1e-6)
	require.InDelta(t, 1.0, batch[2], 1e-6)
	require.InDelta(t, 0.2, batch[3], 1e-6)

	// Unresolved max pixel value must fail rather than divide by zero
	cfg = &Config{}
	require.Error(t, preprocess(cfg, batch, 1, 1, 4))
}

func TestPreprocessStandard(t *testing.T) {
	cfg := &Config{
		MaxPixelValue: 1,
		Normalization: NormalizationStandard,
		Mean:          []float32{0.5, 0.25},
		Std:           []float32{0.5, 0.25},
	}
	// 2 channels, 2 pixels each
	batch := []float32{1, 0, 0.5, 0.25}
	require.NoError(t, preprocess(cfg, batch, 1, 2, 2))
	require.InDelta(t, 1.0, batch[0], 1e-6)
	require.InDelta(t, -1.0, batch[1], 1e-6)
	require.InDelta(t, 1.0, batch[2], 1e-6)
	require.InDelta(t, 0.0, batch[3], 1e-6)

	// Mismatched mean/std length
	cfg.Mean = []float32{0.5}
	require.Error(t, preprocess(cfg, batch, 1, 2, 2))
}

func TestPreprocessMinMax(t *testing.T) {
	cfg := &Config{MaxPixelValue: 1, Normalization: NormalizationMinMax}
	batch := []float32{0.2, 0.4, 0.6, 0.2}
	require.NoError(t, preprocess(cfg, batch, 1, 1, 4))
	require.InDelta(t, 0.0, batch[0], 1e-4)
	require.InDelta(t, 0.5, batch[1], 1e-4)
	require.InDelta(t, 1.0, batch[2], 1e-4)

	// Per-channel: each channel stretches independently
	cfg = &Config{MaxPixelValue: 1, Normalization: NormalizationMinMaxPerChannel}
	batch = []float32{0.2, 0.4, 10, 20}
	require.NoError(t, preprocess(cfg, batch, 1, 2, 2))
	require.InDelta(t, 0.0, batch[0], 1e-4)
	require.InDelta(t, 1.0, batch[1], 1e-4)
	require.InDelta(t, 0.0, batch[2], 1e-4)
	require.InDelta(t, 1.0, batch[3], 1e-4)
}

func TestPostprocessArgmax(t *testing.T) {
	cfg := &Config{Activation: ActivationSoftmax}
	// 3 classes, 2x2 tile. Plane-major scores.
	scores := []float32{
		// class 0
		5, 0, 0, 1,
		// class 1
		1, 7, 0, 2,
		// class 2
		0, 1, 3, 3,
	}
	labels := postprocessLabels(cfg, scores, 3, 2, 2)
	require.Equal(t, []uint8{0, 1, 2, 2}, labels)
}

func TestPostprocessSigmoid(t *testing.T) {
	cfg := &Config{Activation: ActivationSigmoid}
	// Sigmoid models score the negated logit: foreground probability is
	// sigmoid(-x), so label 1 means raw score below zero. For {-3, 4} that
	// gives sigmoid(3)=0.95 and sigmoid(-4)=0.02, ie labels {1, 0}.
	labels := postprocessLabels(cfg, []float32{-3, 4}, 1, 1, 2)
	require.Equal(t, []uint8{1, 0}, labels)

	scores := []float32{-3, -0.01, 0.01, 4}
	labels = postprocessLabels(cfg, scores, 1, 2, 2)
	require.Equal(t, []uint8{1, 1, 0, 0}, labels)

	// Multi-channel sigmoid: argmax of sigmoid(-x) picks the lowest raw score
	scores = []float32{
		// class 0
		5, -2,
		// class 1
		1, 3,
	}
	labels = postprocessLabels(cfg, scores, 2, 1, 2)
	require.Equal(t, []uint8{1, 0}, labels)

	// Without activation the raw score is already a probability
	cfg = &Config{}
	scores = []float32{0.2, 0.49, 0.51, 0.9}
	labels = postprocessLabels(cfg, scores, 1, 2, 2)
	require.Equal(t, []uint8{0, 0, 1, 1}, labels)
}

func TestPostprocessPresenceSpecies(t *testing.T) {
	// Sigmoid presence head (one channel) gating a two-species argmax.
	// Labels: 0 = absent, 1 = first species, 2 = second.
	cfg := &Config{Postprocess: PostprocessPresenceSpecies}
	scores := []float32{
		// presence logits: present, absent, present
		2, -2, 2,
		// species A
		5, 5, 1,
		// species B
		1, 1, 5,
	}
	labels := postprocess(cfg, scores, 3, 1, 3)
	require.Equal(t, []uint8{1, 0, 2}, labels)

	// Softmax presence head (two channels)
	cfg = &Config{Postprocess: PostprocessPresenceSpecies, PresenceChannels: 2}
	scores = []float32{
		// background
		3, 1,
		// foreground
		1, 3,
		// species A
		5, 1,
		// species B
		1, 5,
	}
	labels = postprocess(cfg, scores, 4, 1, 2)
	require.Equal(t, []uint8{0, 2}, labels)

	// Default postprocess is unaffected
	labels = postprocess(&Config{}, []float32{0.9, 0.1}, 1, 1, 2)
	require.Equal(t, []uint8{1, 0}, labels)
}

func TestSoftmax(t *testing.T) {
	s := []float32{1, 2, 3}
	softmax(s)
	var sum float32
	for _, v := range s {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-5)
	require.True(t, s[2] > s[1] && s[1] > s[0])
}

func TestConstantLabels(t *testing.T) {
	labels := constantLabels(&Config{}, 2)
	require.Equal(t, []uint8{0, 0, 0, 0}, labels)

	// The default label is written as-is, independent of activation or
	// postprocess variant
	cfg := &Config{DefaultOutputValue: 2, Activation: ActivationSigmoid}
	labels = constantLabels(cfg, 2)
	require.Equal(t, []uint8{2, 2, 2, 2}, labels)
}
