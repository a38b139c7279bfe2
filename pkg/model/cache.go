package model

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
)

// The weights cache. Model dependencies that are URLs get downloaded once
// into <cacheDir>/<name>_<revision>/ and reused on subsequent runs. Local
// path dependencies are used in place.

// DefaultCacheDir returns the per-user weights cache directory.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "habmap", "models")
}

// FetchDependencies ensures all of a model's dependency files exist locally,
// downloading any URLs that are not yet cached. Returns filename -> local path.
func FetchDependencies(log logs.Log, cfg *Config, cacheDir string) (map[string]string, error) {
	local := map[string]string{}
	for _, dep := range cfg.Dependencies {
		if isURL(dep) {
			u, err := url.Parse(dep)
			if err != nil {
				return nil, fmt.Errorf("Model %v has invalid dependency URL %v: %w", cfg.Name, dep, err)
			}
			filename := path.Base(u.Path)
			target := filepath.Join(cacheDir, cfg.Name+"_"+cfg.Revision, filename)
			if _, err := os.Stat(target); err != nil {
				log.Infof("Downloading %v to %v", dep, target)
				size, err := downloadFile(dep, target)
				if err != nil {
					return nil, fmt.Errorf("Download failed: %w", err)
				}
				log.Infof("Downloaded %v (%v)", filename, byteSize(size))
			}
			local[filename] = target
		} else {
			if _, err := os.Stat(dep); err != nil {
				return nil, fmt.Errorf("Model %v dependency %v: %w", cfg.Name, dep, err)
			}
			local[filepath.Base(dep)] = dep
		}
	}
	if _, ok := local[cfg.ModelFilename]; !ok {
		return nil, fmt.Errorf("Model file %q not found among the dependencies of %v", cfg.ModelFilename, cfg.Name)
	}
	return local, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// downloadFile fetches to a temp file and renames, so an interrupted
// download never leaves a plausible-looking partial file in the cache.
// Returns the number of bytes downloaded.
func downloadFile(srcUrl, targetFile string) (int64, error) {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return 0, fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	size, err := io.Copy(file, resp.Body)
	if err != nil {
		return 0, err
	}
	file.Close()
	return size, os.Rename(tempFile, targetFile)
}

func byteSize(b int64) string {
	switch {
	case b < 1024:
		return fmt.Sprintf("%v bytes", b)
	case b < 1024*1024:
		return fmt.Sprintf("%v KB", b/1024)
	case b < 1024*1024*1024:
		return fmt.Sprintf("%v MB", b/1024/1024)
	default:
		return fmt.Sprintf("%v GB", b/1024/1024/1024)
	}
}
