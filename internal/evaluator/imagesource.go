package evaluator

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultImageCacheSize = 64

// ImageSource turns the imageData field of a criterion into the base64 payload the CV service expects.
// Supported forms: file://<path>, resource://<name> (resolved against Dir) and raw base64.
// Decoded files are cached by reference.
type ImageSource struct {
	Dir   string
	cache *lru.Cache[string, string]
}

func NewImageSource(dir string, size int) (*ImageSource, error) {
	if size <= 0 {
		size = defaultImageCacheSize
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("image cache: %w", err)
	}
	return &ImageSource{Dir: dir, cache: c}, nil
}

// Resolve returns base64 image data for ref.
func (s *ImageSource) Resolve(ref string) (string, error) {
	var path string
	switch {
	case strings.HasPrefix(ref, "file://"):
		path = strings.TrimPrefix(ref, "file://")
	case strings.HasPrefix(ref, "resource://"):
		if s == nil || s.Dir == "" {
			return "", fmt.Errorf("resource %q requested with no resource directory", ref)
		}
		path = filepath.Join(s.Dir, strings.TrimPrefix(ref, "resource://"))
	default:
		if _, err := base64.StdEncoding.DecodeString(ref); err != nil {
			return "", fmt.Errorf("image data is neither a reference nor base64: %w", err)
		}
		return ref, nil
	}

	if s != nil && s.cache != nil {
		if v, ok := s.cache.Get(path); ok {
			return v, nil
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	enc := base64.StdEncoding.EncodeToString(raw)
	if s != nil && s.cache != nil {
		s.cache.Add(path, enc)
	}
	return enc, nil
}
