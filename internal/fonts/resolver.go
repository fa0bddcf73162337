// Package fonts resolves logical font names to parsed TrueType fonts and
// picks a font category from a region's style.
package fonts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

// Font categories
const (
	CategoryDialogue = "dialogue"
	CategorySFX      = "sfx"
	CategoryNarrator = "narrator"
)

// GenericFontName is reported when the generic fallback font was used.
const GenericFontName = "generic"

// Resolver maps logical names (a category or a font file name) to fonts.
// Parsed fonts are cached; faces are created per call since they are not
// safe for concurrent use.
type Resolver struct {
	dir           string
	categoryFiles map[string]string
	genericPath   string

	mu    sync.Mutex
	cache map[string]*truetype.Font
}

// NewResolver creates a resolver looking up files under dir.
// genericPath may be empty, in which case the embedded Go Regular font is the last resort.
func NewResolver(dir string, categoryFiles map[string]string, genericPath string) *Resolver {
	files := make(map[string]string, len(categoryFiles))
	for k, v := range categoryFiles {
		files[k] = v
	}
	return &Resolver{
		dir:           dir,
		categoryFiles: files,
		genericPath:   genericPath,
		cache:         make(map[string]*truetype.Font),
	}
}

// Resolve walks requested -> default dialogue -> generic and returns the first
// font that loads along with the name that succeeded.
func (r *Resolver) Resolve(name string) (*truetype.Font, string, error) {
	chain := []string{name}
	if name != CategoryDialogue {
		chain = append(chain, CategoryDialogue)
	}

	for _, candidate := range chain {
		if candidate == "" {
			continue
		}
		f, err := r.load(candidate)
		if err == nil {
			return f, candidate, nil
		}
		logger.Debug("font candidate unavailable",
			logger.String("font", candidate),
			logger.Err(err))
	}

	f, err := r.generic()
	if err != nil {
		return nil, "", types.NewAppErrorWithDetails(types.ErrAssetResolution,
			"no usable font", fmt.Sprintf("requested=%q", name), err)
	}
	if name != "" {
		logger.Warn("falling back to generic font", logger.String("requested", name))
	}
	return f, GenericFontName, nil
}

// Face resolves name and opens a face at size points (72 DPI, so points equal pixels).
func (r *Resolver) Face(name string, size float64) (font.Face, string, error) {
	f, resolved, err := r.Resolve(name)
	if err != nil {
		return nil, "", err
	}
	return NewFace(f, size), resolved, nil
}

// NewFace opens a face for f at size pixels.
func NewFace(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

func (r *Resolver) path(name string) string {
	file := name
	if mapped, ok := r.categoryFiles[name]; ok {
		file = mapped
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(r.dir, file)
}

func (r *Resolver) load(name string) (*truetype.Font, error) {
	if _, isCategory := r.categoryFiles[name]; !isCategory && filepath.Ext(name) == "" {
		return nil, fmt.Errorf("unknown font %q", name)
	}
	return r.parseCached(r.path(name))
}

func (r *Resolver) generic() (*truetype.Font, error) {
	if r.genericPath != "" {
		return r.parseCached(r.genericPath)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.cache[GenericFontName]; ok {
		return f, nil
	}
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	r.cache[GenericFontName] = f
	return f, nil
}

func (r *Resolver) parseCached(path string) (*truetype.Font, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.cache[path]; ok {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	r.cache[path] = f
	return f, nil
}
