package pdfio

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/tiff"
)

// ErrNoPreview reports that a page carries no extractable image to
// preview.
var ErrNoPreview = errors.New("no preview image in page")

// PagePreview extracts the largest embedded image of the given 1-based
// page and downscales it to fit within maxWidth x maxHeight. Text-only
// pages return ErrNoPreview.
func PagePreview(filename string, page, maxWidth, maxHeight int) (image.Image, error) {
	images, err := extractPageImages(filename, page)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("page %d of %q: %w", page, filename, ErrNoPreview)
	}

	largest := images[0]
	for _, img := range images[1:] {
		if area(img) > area(largest) {
			largest = img
		}
	}
	return imaging.Fit(largest, maxWidth, maxHeight, imaging.Lanczos), nil
}

// SavePreview writes a preview image; the format follows the file
// extension.
func SavePreview(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save preview %q: %w", path, err)
	}
	return nil
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}

// extractPageImages pulls the embedded images of one page into memory.
func extractPageImages(filename string, page int) ([]image.Image, error) {
	tempDir, err := os.MkdirTemp("", "sopn-preview-*")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	if err := api.ExtractImagesFile(filename, tempDir, []string{strconv.Itoa(page)}, nil); err != nil {
		return nil, fmt.Errorf("extract images from %q: %w", filename, err)
	}

	return collectExtractedImages(tempDir, page)
}

// collectExtractedImages loads the images pdfcpu wrote for the given
// page. Filenames follow the pdfcpu format: page_<num>_image_<idx>.<ext>.
func collectExtractedImages(dir string, page int) ([]image.Image, error) {
	var images []image.Image

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		pageNum, err := parsePageFromFilename(info.Name())
		if err != nil || pageNum != page {
			return nil
		}

		img, err := loadImageFile(path)
		if err != nil {
			// Skip unreadable images
			return nil
		}
		images = append(images, img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

// parsePageFromFilename extracts the page number from a pdfcpu extracted
// filename.
func parsePageFromFilename(filename string) (int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, errors.New("not a page file")
	}
	parts := strings.Split(filename, "_")
	if len(parts) < 2 {
		return 0, errors.New("invalid filename format")
	}
	pageNum, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.New("invalid page number")
	}
	return pageNum, nil
}

func loadImageFile(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // G304: reading files pdfcpu just wrote
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	return img, err
}
