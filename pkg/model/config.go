package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Normalization selects how a batch is normalized after scaling to [0,1].
type Normalization string

const (
	NormalizationNone             Normalization = ""
	NormalizationStandard         Normalization = "standard"
	NormalizationMinMax           Normalization = "min_max"
	NormalizationMinMaxPerChannel Normalization = "min_max_per_channel"
)

// Activation is the final activation the model's raw outputs expect.
type Activation string

const (
	ActivationNone    Activation = ""
	ActivationSoftmax Activation = "softmax"
	ActivationSigmoid Activation = "sigmoid"
)

// Postprocess selects how raw class scores become labels.
type Postprocess string

const (
	// PostprocessDefault: activation + argmax over all channels.
	PostprocessDefault Postprocess = ""
	// PostprocessPresenceSpecies: the older two-headed models, where leading
	// channels are a presence mask gating an argmax over the species
	// channels (labels numbered from 1).
	PostprocessPresenceSpecies Postprocess = "presence_species"
)

// Config describes one revision of a segmentation model. Configs are JSON
// files shipped alongside (or pointing at) the ONNX weights.
type Config struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Revision uses date-based versioning, eg "20250626". Lexicographic
	// ordering of revisions is chronological ordering.
	Revision string `json:"revision"`
	// Dependencies are the files the model needs: https URLs (downloaded to
	// the weights cache) or local paths. One of them is the model itself.
	Dependencies  []string `json:"dependencies"`
	ModelFilename string   `json:"modelFilename"`
	InputChannels int      `json:"inputChannels"`
	// Classes names the model outputs, eg ["background", "macro", "nereo"]
	Classes       []string      `json:"classes"`
	Activation    Activation    `json:"activation,omitempty"`
	Normalization Normalization `json:"normalization,omitempty"`
	// Postprocess selects the label decoder; PresenceChannels is how many
	// leading output channels form the presence head of the
	// presence_species variant (0 means 1).
	Postprocess      Postprocess `json:"postprocess,omitempty"`
	PresenceChannels int         `json:"presenceChannels,omitempty"`
	Mean          []float32     `json:"mean,omitempty"`
	Std           []float32     `json:"std,omitempty"`
	// MaxPixelValue scales input pixels prior to normalization.
	// Zero means auto: resolve from the image data type at run time.
	MaxPixelValue float32 `json:"maxPixelValue,omitempty"`
	// DefaultOutputValue is the label emitted for uniform-pixel tiles
	// without running inference (the shortcut path).
	DefaultOutputValue uint8 `json:"defaultOutputValue,omitempty"`
	// NodataValue is written to the output raster wherever nothing emits.
	NodataValue uint8 `json:"nodataValue,omitempty"`
}

// LoadConfig reads and validates a model config JSON file.
func LoadConfig(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("Failed to parse model config %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid model config %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("Model config has no name")
	}
	if c.Revision == "" {
		return fmt.Errorf("Model %v has no revision", c.Name)
	}
	if len(c.Dependencies) == 0 {
		return fmt.Errorf("Model %v has no dependencies", c.Name)
	}
	if c.ModelFilename == "" {
		return fmt.Errorf("Model %v has no model filename", c.Name)
	}
	if c.InputChannels < 1 {
		return fmt.Errorf("Model %v has invalid input channel count %v", c.Name, c.InputChannels)
	}
	switch c.Activation {
	case ActivationNone, ActivationSoftmax, ActivationSigmoid:
	default:
		return fmt.Errorf("Model %v has unknown activation %q", c.Name, c.Activation)
	}
	switch c.Postprocess {
	case PostprocessDefault, PostprocessPresenceSpecies:
	default:
		return fmt.Errorf("Model %v has unknown postprocess %q", c.Name, c.Postprocess)
	}
	if c.PresenceChannels < 0 {
		return fmt.Errorf("Model %v has negative presence channel count", c.Name)
	}
	if c.PresenceChannels > 0 && c.Postprocess != PostprocessPresenceSpecies {
		return fmt.Errorf("Model %v sets presence channels without the presence_species postprocess", c.Name)
	}
	switch c.Normalization {
	case NormalizationNone, NormalizationMinMax, NormalizationMinMaxPerChannel:
	case NormalizationStandard:
		if len(c.Mean) != c.InputChannels || len(c.Std) != c.InputChannels {
			return fmt.Errorf("Model %v uses standard normalization but has %v mean and %v std values for %v channels",
				c.Name, len(c.Mean), len(c.Std), c.InputChannels)
		}
		for _, s := range c.Std {
			if s == 0 {
				return fmt.Errorf("Model %v has a zero std value", c.Name)
			}
		}
	default:
		return fmt.Errorf("Model %v has unknown normalization %q", c.Name, c.Normalization)
	}
	if c.MaxPixelValue < 0 {
		return fmt.Errorf("Model %v has negative max pixel value", c.Name)
	}
	return nil
}
