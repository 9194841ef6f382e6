package imagedir

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"prism/internal/fileutil"
	"prism/internal/imaging"
	"prism/internal/logging"
	"prism/internal/services"
	"prism/internal/textutil"
)

// LockFileName is created inside the output directory while a Writer is open.
const LockFileName = ".prism.lock"

// ErrLocked reports that another run holds the output directory.
var ErrLocked = errors.New("output directory is locked by another run")

// ErrExists reports an output file that would be overwritten while overwrite
// is disabled.
var ErrExists = errors.New("output file already exists")

// WriterOptions controls encoding and collision handling.
type WriterOptions struct {
	// Format is "png" or "jpeg". Empty means png.
	Format      string
	JPEGQuality int
	Overwrite   bool
	Logger      *slog.Logger
}

// Writer commits images to an output directory.
type Writer struct {
	dir       string
	format    string
	quality   int
	overwrite bool
	logger    *slog.Logger
	lock      *flock.Flock

	written atomic.Int64
	bytes   atomic.Int64
}

// NewWriter creates dir when needed and takes its lock.
func NewWriter(dir string, opts WriterOptions) (*Writer, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	switch format {
	case "":
		format = "png"
	case "jpg":
		format = "jpeg"
	case "png", "jpeg":
	default:
		return nil, services.Wrap(services.ErrConfiguration, "sink", "open writer",
			fmt.Sprintf("unsupported output format %q", opts.Format), nil)
	}
	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExternalIO, "sink", "create output dir", dir, err)
	}
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire output lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
	}

	return &Writer{
		dir:       dir,
		format:    format,
		quality:   quality,
		overwrite: opts.Overwrite,
		logger:    logging.NewComponentLogger(opts.Logger, "imagedir"),
		lock:      lock,
	}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// FileName returns the output file name for im.
func (w *Writer) FileName(im *imaging.Image) string {
	return fmt.Sprintf("%d-%s.%s", im.ID, textutil.OutputStem(im.Name), w.extension())
}

// Commit encodes im and renames it into place. Item ids are unique within a
// run, so concurrent commits never target the same file. ctx only feeds log
// fields; a cancelled run still commits the images it has already read.
func (w *Writer) Commit(ctx context.Context, im *imaging.Image) error {
	if im.Empty() {
		return services.Wrap(services.ErrExternalIO, "sink", "commit", "", imaging.ErrEmptyImage)
	}
	name := w.FileName(im)
	path := filepath.Join(w.dir, name)

	if !w.overwrite {
		exists, err := fileutil.Exists(path)
		if err != nil {
			return services.Wrap(services.ErrExternalIO, "sink", "stat", name, err)
		}
		if exists {
			return services.Wrap(services.ErrExternalIO, "sink", "commit", name, ErrExists)
		}
	}

	n, err := fileutil.WriteAtomic(path, 0o644, func(out io.Writer) error {
		return w.encode(out, im)
	})
	if err != nil {
		return services.Wrap(services.ErrExternalIO, "sink", "write", name, err)
	}
	w.written.Add(1)
	w.bytes.Add(n)
	logging.WithContext(ctx, w.logger).Debug("image written",
		logging.String(logging.FieldPath, path),
		logging.Int64("bytes", n),
	)
	return nil
}

// Written returns the number of committed files.
func (w *Writer) Written() int64 { return w.written.Load() }

// BytesWritten returns the total encoded size of committed files.
func (w *Writer) BytesWritten() int64 { return w.bytes.Load() }

// Close releases the output directory lock.
func (w *Writer) Close() error {
	if w == nil || w.lock == nil {
		return nil
	}
	if err := w.lock.Unlock(); err != nil {
		return fmt.Errorf("release output lock: %w", err)
	}
	return nil
}

func (w *Writer) extension() string {
	if w.format == "jpeg" {
		return "jpg"
	}
	return "png"
}

func (w *Writer) encode(out io.Writer, im *imaging.Image) error {
	if w.format == "jpeg" {
		return jpeg.Encode(out, im.Pix, &jpeg.Options{Quality: w.quality})
	}
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	return enc.Encode(out, im.Pix)
}
