package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/civiclab/sopn/internal/pdfio"
	"github.com/civiclab/sopn/internal/segment"
	"github.com/civiclab/sopn/internal/store"
)

// SplitBallots writes one PDF per linked ballot containing that
// ballot's relevant pages, named after the ballot paper id. Ballots
// without a recorded page range are skipped. Returns the written
// paths.
func (p *Pipeline) SplitBallots(ctx context.Context, doc *store.Document, outDir string) ([]string, error) {
	if doc == nil || doc.ID == "" {
		return nil, errNilDocument
	}
	links, err := p.store.ListDocumentBallots(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	path, cleanup, err := p.fetchDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var written []string
	for _, link := range links {
		pages, err := ballotPages(link.RelevantPages, doc.PageCount)
		if err != nil {
			return written, fmt.Errorf("ballot %s: %w", link.BallotPaperID, err)
		}
		if len(pages) == 0 {
			continue
		}
		out := filepath.Join(outDir, link.BallotPaperID+".pdf")
		if err := pdfio.ExtractPages(path, out, pages); err != nil {
			return written, fmt.Errorf("ballot %s: %w", link.BallotPaperID, err)
		}
		written = append(written, out)
	}
	return written, nil
}

// ballotPages expands a relevant-pages value into 1-based page numbers.
func ballotPages(spec string, pageCount int) ([]int, error) {
	switch spec {
	case "":
		return nil, nil
	case segment.AllPages:
		pages := make([]int, pageCount)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages, nil
	default:
		return pdfio.ParsePageRange(spec)
	}
}

// WritePreview renders a thumbnail of the document's first page.
func (p *Pipeline) WritePreview(ctx context.Context, doc *store.Document, outPath string, maxWidth, maxHeight int) error {
	if doc == nil || doc.ID == "" {
		return errNilDocument
	}
	path, cleanup, err := p.fetchDocument(ctx, doc)
	if err != nil {
		return err
	}
	defer cleanup()

	img, err := pdfio.PagePreview(path, 1, maxWidth, maxHeight)
	if err != nil {
		return fmt.Errorf("preview %s: %w", doc.ID, err)
	}
	return pdfio.SavePreview(img, outPath)
}
