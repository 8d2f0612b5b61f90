// Package icon normalizes uploaded app icons to the launcher resolution
// expected by the Android build.
package icon

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Size is the edge length of every processed icon.
const Size = 512

// MaxPixels bounds the declared dimensions of an input before it is decoded.
const MaxPixels = 4096 * 4096

var (
	ErrUnsupported = errors.New("unsupported image format")
	ErrCorrupt     = errors.New("unreadable image")
)

type ProcessError struct {
	Path string
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process icon %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

type Result struct {
	Path           string
	Format         string
	OriginalWidth  int
	OriginalHeight int
}

// Processor writes processed icons to OutputDir, or next to the input when empty.
type Processor struct {
	OutputDir string
}

// Process decodes inputPath and writes a Size×Size PNG to a new file. The input
// file is never modified.
func (p *Processor) Process(inputPath string) (*Result, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, &ProcessError{Path: inputPath, Err: err}
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, &ProcessError{Path: inputPath, Err: ErrUnsupported}
		}
		return nil, &ProcessError{Path: inputPath, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &ProcessError{Path: inputPath, Err: fmt.Errorf("%w: empty image", ErrCorrupt)}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, &ProcessError{Path: inputPath, Err: fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupported, cfg.Width, cfg.Height, MaxPixels)}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &ProcessError{Path: inputPath, Err: err}
	}

	src, format, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, &ProcessError{Path: inputPath, Err: ErrUnsupported}
		}
		return nil, &ProcessError{Path: inputPath, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	bounds := src.Bounds()

	dst := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	outputPath := p.outputPath(inputPath)
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, &ProcessError{Path: inputPath, Err: err}
	}
	if err := png.Encode(out, dst); err != nil {
		out.Close()
		os.Remove(outputPath)
		return nil, &ProcessError{Path: inputPath, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return nil, &ProcessError{Path: inputPath, Err: err}
	}

	return &Result{
		Path:           outputPath,
		Format:         format,
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
	}, nil
}

func (p *Processor) outputPath(inputPath string) string {
	dir := p.OutputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	base := filepath.Base(inputPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "processed-"+base+".png")
}
