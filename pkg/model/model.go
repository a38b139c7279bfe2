package model

// Package model is the inference layer. A Model consumes preprocessed tile
// batches and returns raw per-class scores; the stitching engine neither
// knows nor cares what runs underneath. The concrete backend is ONNX Runtime
// (onnx.go), but tests plug in fakes.

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"
	"github.com/habmap/habmap/pkg/raster"
)

// Model is a stateless batch classifier for image tiles.
type Model interface {
	// Close releases backend resources. You MUST call this when finished,
	// because there's a C runtime underneath the ONNX backend.
	Close() error

	// Config returns the model's configuration. Callers assume it remains
	// constant once the model has been created, apart from MaxPixelValue
	// which the pipeline resolves from the image dtype before inference.
	Config() *Config

	// InputSize is the tile size the model was exported for, or 0 if the
	// model accepts dynamic spatial dimensions.
	InputSize() int

	// Predict runs inference on a batch (batch x channels x size x size,
	// row-major float32 of raw pixel values) and returns raw class scores
	// (batch x classes x size x size) along with the class count.
	Predict(batch []float32, batchSize, channels, size int) ([]float32, int, error)

	// Postprocess converts one tile's blended scores (classes x h x w) to
	// uint8 class labels (h x w).
	Postprocess(scores []float32, classes, h, w int) []uint8

	// Shortcut returns the constant labels (size x size) that a
	// uniform-pixel tile maps to, so the pipeline can skip inference for it.
	Shortcut(size int) []uint8
}

// ResolveMaxPixelValue picks the pixel scaling constant for a source dtype.
// Float rasters are assumed to already be in [0,1]; we warn because there is
// no way to verify that cheaply.
func ResolveMaxPixelValue(log logs.Log, dtype raster.DType) (float32, error) {
	switch dtype {
	case raster.Uint8:
		return 255, nil
	case raster.Uint16:
		return 65535, nil
	case raster.Float32:
		log.Warnf("Input image has float data type. Ensure pixel values are in range [0,1] to avoid unexpected results")
		return 1, nil
	}
	return 0, fmt.Errorf("Unsupported image data type %v. Convert your image to uint8 or uint16 before processing", dtype)
}

// preprocess scales a batch into [0,1] and applies the configured
// normalization, in place. plane = size*size.
func preprocess(cfg *Config, batch []float32, batchSize, channels, plane int) error {
	maxPixel := cfg.MaxPixelValue
	if maxPixel == 0 {
		return fmt.Errorf("Max pixel value was not resolved before inference")
	}
	for i := range batch {
		batch[i] /= maxPixel
	}

	sample := channels * plane
	switch cfg.Normalization {
	case NormalizationNone:
	case NormalizationStandard:
		if len(cfg.Mean) != channels || len(cfg.Std) != channels {
			return fmt.Errorf("Normalization needs %v mean/std values, config has %v/%v", channels, len(cfg.Mean), len(cfg.Std))
		}
		for b := 0; b < batchSize; b++ {
			for c := 0; c < channels; c++ {
				s := batch[b*sample+c*plane : b*sample+(c+1)*plane]
				mean, std := cfg.Mean[c], cfg.Std[c]
				for i := range s {
					s[i] = (s[i] - mean) / std
				}
			}
		}
	case NormalizationMinMax:
		for b := 0; b < batchSize; b++ {
			s := batch[b*sample : (b+1)*sample]
			rescaleMinMax(s)
		}
	case NormalizationMinMaxPerChannel:
		for b := 0; b < batchSize; b++ {
			for c := 0; c < channels; c++ {
				rescaleMinMax(batch[b*sample+c*plane : b*sample+(c+1)*plane])
			}
		}
	default:
		return fmt.Errorf("Unknown normalization %q", cfg.Normalization)
	}
	return nil
}

func rescaleMinMax(s []float32) {
	lo, hi := s[0], s[0]
	for _, v := range s {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	scale := 1 / (hi - lo + 1e-8)
	for i := range s {
		s[i] = (s[i] - lo) * scale
	}
}

// postprocessLabels applies the configured activation and argmax to one
// tile's scores (classes x h x w), producing uint8 labels.
//
// Sigmoid models in the zoo are calibrated on the negated score: the
// foreground probability is sigmoid(-x), so a single-channel label is 1
// where the raw score is below zero, and a multi-channel argmax of
// sigmoid(-x) is an argmin of the raw scores. Softmax is monotonic, so its
// argmax runs on raw scores without materializing the probabilities.
func postprocessLabels(cfg *Config, scores []float32, classes, h, w int) []uint8 {
	plane := h * w
	labels := make([]uint8, plane)
	if classes == 1 {
		for i := 0; i < plane; i++ {
			p := scores[i]
			switch cfg.Activation {
			case ActivationSigmoid:
				p = sigmoid(-scores[i])
			case ActivationSoftmax:
				// Softmax over a single channel is identically 1
				p = 1
			}
			if p > 0.5 {
				labels[i] = 1
			}
		}
		return labels
	}
	invert := cfg.Activation == ActivationSigmoid
	for i := 0; i < plane; i++ {
		best := 0
		bestScore := scores[i]
		for c := 1; c < classes; c++ {
			s := scores[c*plane+i]
			if (!invert && s > bestScore) || (invert && s < bestScore) {
				best = c
				bestScore = s
			}
		}
		labels[i] = uint8(best)
	}
	return labels
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// softmax normalizes one pixel's class scores in place. Retained for callers
// that need calibrated probabilities rather than labels.
func softmax(s []float32) {
	hi := s[0]
	for _, v := range s {
		hi = max(hi, v)
	}
	var sum float32
	for i := range s {
		s[i] = math32.Exp(s[i] - hi)
		sum += s[i]
	}
	for i := range s {
		s[i] /= sum
	}
}

// postprocessPresenceSpecies handles the older two-headed models: the
// leading PresenceChannels scores decide whether anything is there at all
// (one channel uses a sigmoid threshold, two or more use argmax), and the
// remaining channels pick the species, numbered from 1. Absence zeroes the
// species label.
func postprocessPresenceSpecies(cfg *Config, scores []float32, classes, h, w int) []uint8 {
	pb := cfg.PresenceChannels
	if pb == 0 {
		pb = 1
	}
	plane := h * w
	labels := make([]uint8, plane)
	for i := 0; i < plane; i++ {
		presence := uint8(0)
		if pb == 1 {
			if sigmoid(scores[i]) > 0.5 {
				presence = 1
			}
		} else {
			best := 0
			for c := 1; c < min(pb, classes); c++ {
				if scores[c*plane+i] > scores[best*plane+i] {
					best = c
				}
			}
			presence = uint8(best)
		}
		species := uint8(1)
		if pb < classes {
			best := pb
			for c := pb + 1; c < classes; c++ {
				if scores[c*plane+i] > scores[best*plane+i] {
					best = c
				}
			}
			species = uint8(best - pb + 1)
		}
		labels[i] = presence * species
	}
	return labels
}

// postprocess dispatches on the config's postprocess variant.
func postprocess(cfg *Config, scores []float32, classes, h, w int) []uint8 {
	if cfg.Postprocess == PostprocessPresenceSpecies {
		return postprocessPresenceSpecies(cfg, scores, classes, h, w)
	}
	return postprocessLabels(cfg, scores, classes, h, w)
}

// constantLabels builds the label map of a uniform tile: the configured
// default class everywhere, with no inference or blending involved.
func constantLabels(cfg *Config, size int) []uint8 {
	labels := make([]uint8, size*size)
	if cfg.DefaultOutputValue != 0 {
		for i := range labels {
			labels[i] = cfg.DefaultOutputValue
		}
	}
	return labels
}
