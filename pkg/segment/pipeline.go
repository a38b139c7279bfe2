package segment

// Package segment orchestrates tiled inference over a raster: plan windows
// on an extended canvas, read boundless tiles in batches, run the model,
// blend overlapping scores through the stitch register, and write uint8
// class labels, followed by an optional tiled cleanup pass over the output.

import (
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/habmap/habmap/pkg/model"
	"github.com/habmap/habmap/pkg/raster"
	"github.com/habmap/habmap/pkg/stitch"
	"github.com/habmap/habmap/pkg/tiling"
)

// Options tune a Pipeline. The zero value picks sane defaults.
type Options struct {
	// TileSize overrides the model's preferred tile size. If the model was
	// exported for a fixed size, a mismatching override is ignored with a
	// warning. 0 means use the model's size (or 1024 for dynamic models).
	TileSize int

	// BatchSize is the number of tiles per inference call. Batching is for
	// vectorized inference only; processing stays single threaded and
	// strictly row-major. 0 means 1.
	BatchSize int

	// BandOrder maps model input channels to source bands, 1-based like
	// GDAL. Nil means bands 1..InputChannels in order.
	BandOrder []int

	// BlurSize is the median blur kernel for the cleanup pass. Even values
	// are rounded up to odd. 0 disables the blur.
	BlurSize int

	// MorphSize is the kernel for morphological open+close in the cleanup
	// pass. 0 disables it.
	MorphSize int

	// Profile names the blending window function (see stitch.Profiles).
	// Empty means "bartlett-hann".
	Profile string
}

type Pipeline struct {
	log       logs.Log
	model     model.Model
	tileSize  int
	batchSize int
	bandOrder []int
	blurSize  int
	morphSize int
	profile   stitch.Profile
}

func NewPipeline(log logs.Log, m model.Model, opts Options) (*Pipeline, error) {
	cfg := m.Config()

	bandOrder := opts.BandOrder
	if len(bandOrder) == 0 {
		bandOrder = make([]int, cfg.InputChannels)
		for i := range bandOrder {
			bandOrder[i] = i + 1
		}
	} else {
		if len(bandOrder) != cfg.InputChannels {
			return nil, fmt.Errorf("Band order has %v entries, model %v takes %v channels", len(bandOrder), cfg.Name, cfg.InputChannels)
		}
	}

	tileSize := opts.TileSize
	switch {
	case tileSize == 0 && m.InputSize() != 0:
		tileSize = m.InputSize()
	case tileSize == 0:
		tileSize = 1024
	case m.InputSize() != 0 && tileSize != m.InputSize():
		log.Warnf("Specified tile size %v does not match model preferred size %v. Using model preferred size of %v", tileSize, m.InputSize(), m.InputSize())
		tileSize = m.InputSize()
	}
	// The register's quadrant arithmetic handles odd sizes, but a 50% overlap
	// needs an even tile size to keep the weight sum exact.
	if tileSize < 2 || tileSize%2 != 0 {
		return nil, fmt.Errorf("Tile size must be a positive even number, got %v", tileSize)
	}

	blurSize := opts.BlurSize
	if blurSize > 0 && blurSize%2 == 0 {
		blurSize++
	}

	profileName := opts.Profile
	if profileName == "" {
		profileName = "bartlett-hann"
	}
	profile, ok := stitch.Profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("Unknown blending profile %q", profileName)
	}

	return &Pipeline{
		log:       log,
		model:     m,
		tileSize:  tileSize,
		batchSize: max(opts.BatchSize, 1),
		bandOrder: bandOrder,
		blurSize:  blurSize,
		morphSize: opts.MorphSize,
		profile:   profile,
	}, nil
}

// TileSize returns the resolved tile size the pipeline will process with.
func (p *Pipeline) TileSize() int {
	return p.tileSize
}

// Run segments src into dst. dst must be a single-band uint8 raster of the
// same pixel dimensions as src.
func (p *Pipeline) Run(src raster.Reader, dst raster.Writer) error {
	cfg := p.model.Config()
	height, width := src.Height(), src.Width()
	if dst.Height() != height || dst.Width() != width {
		return fmt.Errorf("Output raster is %vx%v, input is %vx%v", dst.Width(), dst.Height(), width, height)
	}
	for _, b := range p.bandOrder {
		if b < 1 || b > src.Bands() {
			return fmt.Errorf("Band order refers to band %v, but the image has %v bands", b, src.Bands())
		}
	}

	if cfg.MaxPixelValue == 0 {
		maxPixel, err := model.ResolveMaxPixelValue(p.log, src.DType())
		if err != nil {
			return err
		}
		cfg.MaxPixelValue = maxPixel
	}

	size := p.tileSize
	stride := size / 2
	extHeight, extWidth := tiling.ExtendedDimensions(height, width, size, stride)
	windows := tiling.GenerateWindows(extHeight, extWidth, size, stride)
	p.log.Infof("Segmenting %vx%v image as %v tiles of %vx%v", width, height, len(windows), size, size)

	kernel := stitch.NewKernel(p.profile, size)
	var register *stitch.Register

	channels := len(p.bandOrder)
	tilePixels := size * size
	batch := make([]float32, 0, p.batchSize*channels*tilePixels)
	kept := make([]tiling.Window, 0, p.batchSize)

	for start := 0; start < len(windows); start += p.batchSize {
		batchWins := windows[start:min(start+p.batchSize, len(windows))]
		batch = batch[:0]
		kept = kept[:0]

		for _, win := range batchWins {
			tile, err := src.ReadWindow(win, p.bandOrder)
			if err != nil {
				return fmt.Errorf("Failed to read %v: %w", win, err)
			}
			// A tile of identical pixels can't contain anything worth
			// running the model on. Write the default label and move on.
			if uniform(tile) {
				if err := p.writeShortcut(dst, win, height, width); err != nil {
					return err
				}
				continue
			}
			batch = append(batch, tile...)
			kept = append(kept, win)
		}
		if len(kept) == 0 {
			continue
		}

		scores, classes, err := p.model.Predict(batch, len(kept), channels, size)
		if err != nil {
			return err
		}
		if register == nil {
			if len(cfg.Classes) > 0 && classes != len(cfg.Classes) {
				p.log.Warnf("Model %v produced %v classes, config names %v", cfg.Name, classes, len(cfg.Classes))
			}
			register = stitch.NewRegister(width, classes, size, kernel)
		}

		tileScores := classes * tilePixels
		for i, win := range kept {
			clipped, ok := win.Clip(height, width)
			if !ok {
				continue
			}
			edges := clipped.Edges(height, width)
			emitted, outWin := register.Step(scores[i*tileScores:(i+1)*tileScores], clipped, edges)
			labels := p.model.Postprocess(emitted, classes, outWin.Height, outWin.Width)
			if err := dst.Write(labels, outWin); err != nil {
				return fmt.Errorf("Failed to write %v: %w", outWin, err)
			}
		}
	}

	return p.cleanup(dst)
}

// writeShortcut writes constant default-class labels for a uniform tile,
// clipped to the image bounds, without touching the register. Uniform tiles
// never contribute blended scores; their neighbors' overlaps simply get
// overwritten by this constant rectangle or vice versa, which is harmless
// because the label is constant.
func (p *Pipeline) writeShortcut(dst raster.Writer, win tiling.Window, height, width int) error {
	clipped, ok := win.Clip(height, width)
	if !ok {
		return nil
	}
	p.log.Infof("Tile %v is uniform, skipping inference", clipped)
	labels := p.model.Shortcut(p.tileSize)
	cropped := make([]uint8, clipped.Height*clipped.Width)
	for row := 0; row < clipped.Height; row++ {
		copy(cropped[row*clipped.Width:(row+1)*clipped.Width], labels[row*p.tileSize:row*p.tileSize+clipped.Width])
	}
	if err := dst.Write(cropped, clipped); err != nil {
		return fmt.Errorf("Failed to write %v: %w", clipped, err)
	}
	return nil
}

func uniform(tile []float32) bool {
	for _, v := range tile[1:] {
		if v != tile[0] {
			return false
		}
	}
	return true
}
