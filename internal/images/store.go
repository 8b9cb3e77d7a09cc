package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"clearskin/internal/config"
	"clearskin/internal/fileutil"
	"clearskin/internal/services"
)

const (
	defaultMaxBytes  = 10 << 20
	defaultMaxPixels = 40_000_000
)

var (
	// ErrTooLarge is returned for images above the configured byte or pixel limit.
	ErrTooLarge = fmt.Errorf("%w: image too large", services.ErrValidation)
	// ErrNotImage is returned when the upload is not a decodable JPEG or PNG.
	ErrNotImage = fmt.Errorf("%w: file is not a supported image", services.ErrValidation)
)

// Store persists captures in a single directory.
type Store struct {
	dir       string
	maxBytes  int64
	maxPixels int64
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithMaxPixels caps width*height of accepted images. Non-positive values keep the 40 MP default.
func WithMaxPixels(pixels int64) StoreOption {
	return func(s *Store) {
		if pixels > 0 {
			s.maxPixels = pixels
		}
	}
}

// NewStore returns a store rooted at dir. A non-positive maxBytes uses 10 MiB.
func NewStore(dir string, maxBytes int64, opts ...StoreOption) *Store {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	s := &Store{dir: dir, maxBytes: maxBytes, maxPixels: defaultMaxPixels}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig builds a store from the paths and detector sections.
func NewFromConfig(cfg *config.Config) *Store {
	return NewStore(cfg.Paths.ImageDir, cfg.Detector.MaxImageBytes, WithMaxPixels(cfg.Detector.MaxImagePixels))
}

// Dir returns the image directory.
func (s *Store) Dir() string { return s.dir }

// Path returns where the capture for id lives.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".jpg")
}

// Save validates the image read from r and writes it as <id>.jpg. PNG input
// is re-encoded to JPEG. It returns the stored path.
func (s *Store) Save(id string, r io.Reader) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	encoded, err := s.toJPEG(data)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	path := s.Path(id)
	if err := fileutil.WriteFileAtomic(path, encoded, 0o644); err != nil {
		return "", services.Wrap(services.ErrStorage, "capture", "write image", path, err)
	}
	return path, nil
}

// Import copies an image file from disk into the store. JPEG files are
// copied verbatim with integrity verification.
func (s *Store) Import(id, src string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrNotImage, src)
	}
	if info.Size() > s.maxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, src, info.Size(), s.maxBytes)
	}
	file, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	imgCfg, format, decodeErr := image.DecodeConfig(file)
	_ = file.Close()
	if decodeErr != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, decodeErr)
	}
	if err := s.checkPixels(imgCfg); err != nil {
		return "", err
	}
	if format != "jpeg" {
		file, err := os.Open(src)
		if err != nil {
			return "", fmt.Errorf("open image: %w", err)
		}
		defer file.Close()
		return s.Save(id, file)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	path := s.Path(id)
	if err := fileutil.CopyFileVerified(src, path); err != nil {
		return "", services.Wrap(services.ErrStorage, "capture", "copy image", path, err)
	}
	return path, nil
}

// Remove deletes the capture for id. A missing file is not an error.
func (s *Store) Remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) toJPEG(data []byte) ([]byte, error) {
	imgCfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if err := s.checkPixels(imgCfg); err != nil {
		return nil, err
	}
	if format == "jpeg" {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// checkPixels runs on the header alone so oversized images are never decoded.
func (s *Store) checkPixels(cfg image.Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: %dx%d has no pixels", ErrNotImage, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > s.maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, s.maxPixels)
	}
	return nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: invalid image id %q", services.ErrValidation, id)
	}
	return nil
}
