package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/habmap/habmap/pkg/model"
	"github.com/habmap/habmap/pkg/raster"
	"github.com/habmap/habmap/pkg/segment"
)

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("habmap", "Tiled semantic segmentation of large rasters")

	segmentCmd := parser.NewCommand("segment", "Segment a raster with a model")
	input := segmentCmd.String("i", "input", &argparse.Options{Help: "Input raster (tif/png/jpeg)", Required: true})
	output := segmentCmd.String("o", "output", &argparse.Options{Help: "Output label raster (tif/png)", Required: true})
	modelName := segmentCmd.String("m", "model", &argparse.Options{Help: "Model name", Required: true})
	revision := segmentCmd.String("r", "revision", &argparse.Options{Help: "Model revision (default latest)", Default: ""})
	tileSize := segmentCmd.Int("t", "tilesize", &argparse.Options{Help: "Tile size (default: model preferred size)", Default: 0})
	batchSize := segmentCmd.Int("b", "batchsize", &argparse.Options{Help: "Tiles per inference batch", Default: 1})
	blurSize := segmentCmd.Int("", "blur", &argparse.Options{Help: "Median blur kernel for the cleanup pass (0 to disable)", Default: 5})
	morphSize := segmentCmd.Int("", "morph", &argparse.Options{Help: "Morphological open/close kernel for the cleanup pass (0 to disable)", Default: 0})
	bandOrder := segmentCmd.String("", "bands", &argparse.Options{Help: "Comma-separated 1-based source bands to feed the model, eg 3,2,1", Default: ""})
	profile := segmentCmd.String("", "profile", &argparse.Options{Help: "Blending window function (bartlett-hann, hann, triangular, blackman)", Default: "bartlett-hann"})

	modelsCmd := parser.NewCommand("models", "List available models")

	configDir := parser.String("c", "configs", &argparse.Options{Help: "Model config directory", Required: true})
	cacheDir := parser.String("", "cache", &argparse.Options{Help: "Weights cache directory", Default: model.DefaultCacheDir()})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	registry, err := model.RegistryFromConfigDir(*configDir)
	check(err)

	switch {
	case modelsCmd.Happened():
		listModels(registry)
	case segmentCmd.Happened():
		cfg, err := registry.Get(*modelName, *revision)
		check(err)
		bands, err := parseBandOrder(*bandOrder)
		check(err)
		check(runSegment(logger, cfg, *cacheDir, *input, *output, segment.Options{
			TileSize:  *tileSize,
			BatchSize: *batchSize,
			BandOrder: bands,
			BlurSize:  *blurSize,
			MorphSize: *morphSize,
			Profile:   *profile,
		}))
	}
}

func listModels(registry *model.Registry) {
	for _, name := range registry.Names() {
		latest, _ := registry.LatestRevision(name)
		fmt.Printf("%v (latest %v, revisions %v)\n", name, latest, strings.Join(registry.Revisions(name), ", "))
	}
}

func parseBandOrder(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	bands := make([]int, len(parts))
	for i, p := range parts {
		b, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("Invalid band %q: %w", p, err)
		}
		bands[i] = b
	}
	return bands, nil
}

func runSegment(logger logs.Log, cfg *model.Config, cacheDir, input, output string, opts segment.Options) error {
	m, err := model.Load(logger, cfg, cacheDir)
	if err != nil {
		return err
	}
	defer m.Close()

	pipeline, err := segment.NewPipeline(logger, m, opts)
	if err != nil {
		return err
	}

	src, err := raster.OpenReader(input)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := raster.NewFileWriter(output, src.Height(), src.Width(), cfg.NodataValue)
	if err != nil {
		return err
	}
	if err := pipeline.Run(src, dst); err != nil {
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	// Carry the source's georeferencing so GIS tools can overlay the labels.
	// No-op unless both files are TIFF.
	if err := raster.CopyGeoTags(input, output); err != nil {
		logger.Warnf("Output is not georeferenced: %v", err)
	}
	logger.Infof("Wrote %v", output)
	return nil
}
