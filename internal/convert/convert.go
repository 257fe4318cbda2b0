// Package convert is the upload boundary: it turns whatever arrives
// (PDF, scanned image, word-processor document) into a validated
// canonical PDF, or rejects it with a message safe to show the
// uploader. Nothing downstream sees a non-PDF.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lu4p/cat"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/civiclab/sopn/internal/geometry"
	"github.com/civiclab/sopn/internal/pdfio"
)

// UploaderMessage is the only error detail shown to the person who
// uploaded the file.
const UploaderMessage = "File is invalid. Please convert to a PDF and retry"

// ConversionError reports that an upload could not be converted to PDF.
// The wrapped cause is for logs; Message is for the uploader.
type ConversionError struct {
	Filename string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %q: %v", e.Filename, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Message returns the uploader-safe description.
func (e *ConversionError) Message() string { return UploaderMessage }

// Format classifies an uploaded file.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatImage   Format = "image"
	FormatDocx    Format = "docx"
	FormatODT     Format = "odt"
	FormatRTF     Format = "rtf"
	FormatUnknown Format = "unknown"
)

// DetectFormat sniffs the leading bytes of an upload, falling back to
// the filename extension for zip-based word-processor formats.
func DetectFormat(header []byte, filename string) Format {
	switch {
	case bytes.HasPrefix(header, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(header, []byte("{\\rtf")):
		return FormatRTF
	case bytes.HasPrefix(header, []byte("\xFF\xD8\xFF")),
		bytes.HasPrefix(header, []byte("\x89PNG\r\n\x1a\n")),
		bytes.HasPrefix(header, []byte("II*\x00")),
		bytes.HasPrefix(header, []byte("MM\x00*")),
		bytes.HasPrefix(header, []byte("BM")),
		isWebP(header):
		return FormatImage
	case bytes.HasPrefix(header, []byte("PK\x03\x04")):
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".docx":
			return FormatDocx
		case ".odt":
			return FormatODT
		}
		return FormatUnknown
	default:
		return FormatUnknown
	}
}

func isWebP(header []byte) bool {
	return len(header) >= 12 &&
		bytes.HasPrefix(header, []byte("RIFF")) &&
		bytes.Equal(header[8:12], []byte("WEBP"))
}

// Converter drives uploads to canonical PDF.
type Converter struct {
	pandoc string
	logger *slog.Logger
}

// Option customizes a Converter.
type Option func(*Converter)

// WithPandoc sets the pandoc binary used for word-processor formats.
func WithPandoc(path string) Option {
	return func(c *Converter) { c.pandoc = path }
}

// WithLogger sets the converter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

// New returns a Converter. Pandoc defaults to whatever PATH resolves.
func New(options ...Option) *Converter {
	c := &Converter{
		pandoc: "pandoc",
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With("component", "convert")
	return c
}

// ToPDF converts the file at inPath into a validated PDF at outPath.
// PDFs pass through after validation; images are wrapped into a
// single-page PDF; word-processor documents are sniffed for text and
// then converted through pandoc. Failures surface as ConversionError
// except for documents that contain no text at all, which are
// ErrNoTextInDocument.
func (c *Converter) ToPDF(ctx context.Context, inPath, outPath string) error {
	header, err := readHeader(inPath)
	if err != nil {
		return &ConversionError{Filename: inPath, Err: err}
	}

	format := DetectFormat(header, inPath)
	c.logger.Debug("upload sniffed", "file", filepath.Base(inPath), "format", string(format))

	switch format {
	case FormatPDF:
		if err := pdfio.Validate(inPath); err != nil {
			return &ConversionError{Filename: inPath, Err: err}
		}
		if err := copyFile(inPath, outPath); err != nil {
			return &ConversionError{Filename: inPath, Err: err}
		}
		return nil

	case FormatImage:
		if err := api.ImportImagesFile([]string{inPath}, outPath, nil, nil); err != nil {
			return &ConversionError{Filename: inPath, Err: fmt.Errorf("import image: %w", err)}
		}

	case FormatDocx:
		text, err := sniffDocxText(inPath)
		if err != nil {
			return &ConversionError{Filename: inPath, Err: err}
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("document %q: %w", filepath.Base(inPath), geometry.ErrNoTextInDocument)
		}
		if err := c.pandocToPDF(ctx, inPath, outPath); err != nil {
			return err
		}

	case FormatODT, FormatRTF:
		text, err := cat.File(inPath)
		if err != nil {
			return &ConversionError{Filename: inPath, Err: fmt.Errorf("read %s text: %w", format, err)}
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("document %q: %w", filepath.Base(inPath), geometry.ErrNoTextInDocument)
		}
		if err := c.pandocToPDF(ctx, inPath, outPath); err != nil {
			return err
		}

	default:
		return &ConversionError{Filename: inPath, Err: fmt.Errorf("unsupported format")}
	}

	if err := pdfio.Validate(outPath); err != nil {
		_ = os.Remove(outPath)
		return &ConversionError{Filename: inPath, Err: err}
	}
	return nil
}

// pandocToPDF shells out to pandoc. The binary is resolved up front so
// a missing installation reads as a conversion failure, not a crash.
func (c *Converter) pandocToPDF(ctx context.Context, inPath, outPath string) error {
	bin, err := exec.LookPath(c.pandoc)
	if err != nil {
		return &ConversionError{Filename: inPath, Err: fmt.Errorf("pandoc not available: %w", err)}
	}

	cmd := exec.CommandContext(ctx, bin, inPath, "-o", outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		_ = os.Remove(outPath)
		return &ConversionError{Filename: inPath, Err: fmt.Errorf("pandoc: %w", err)}
	}
	return nil
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // G304: converting user-provided upload path is the job
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return header[:n], nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: copying the validated upload
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) //nolint:gosec // G304: destination is pipeline-controlled
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
