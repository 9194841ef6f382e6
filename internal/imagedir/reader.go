package imagedir

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"prism/internal/imaging"
	"prism/internal/logging"
	"prism/internal/services"
)

var supportedExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// Supported reports whether name carries an extension the reader decodes.
func Supported(name string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Reader yields decoded images from a directory. Next is meant for a single
// caller but is guarded so a stray concurrent call cannot corrupt state.
type Reader struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	files   []string
	next    int
	nextID  int64
	skipped int
}

// NewReader lists dir and prepares to decode its supported files. Hidden
// files and subdirectories are ignored.
func NewReader(dir string, logger *slog.Logger) (*Reader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalIO, "source", "list input", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !Supported(name) {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return &Reader{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "imagedir"),
		files:  files,
		nextID: 1,
	}, nil
}

// Total returns how many candidate files the directory listing produced.
func (r *Reader) Total() int {
	return len(r.files)
}

// Skipped returns how many candidates failed to decode so far.
func (r *Reader) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// Next decodes the next readable file. It returns false once the listing is
// exhausted or ctx is done, and keeps returning false on later calls.
func (r *Reader) Next(ctx context.Context) (*imaging.Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.next < len(r.files) {
		if ctx != nil && ctx.Err() != nil {
			return nil, false
		}
		name := r.files[r.next]
		r.next++

		pix, err := decodeFile(filepath.Join(r.dir, name))
		if err != nil {
			r.skipped++
			logging.WarnWithContext(logging.WithContext(ctx, r.logger), "skipping unreadable image", "image_skipped",
				logging.String(logging.FieldItemName, name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the file is a valid image"),
				logging.String(logging.FieldImpact, "file is not processed"),
			)
			continue
		}
		im := imaging.New(r.nextID, name, pix)
		r.nextID++
		return im, true
	}
	return nil, false
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalIO, "source", "open", filepath.Base(path), err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalIO, "source", "decode", filepath.Base(path), err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), imaging.ErrEmptyImage)
	}
	return img, nil
}
