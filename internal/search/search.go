// Package search maintains a full-text index over parsed documents.
// Each indexed entry is one page of a document, carrying the page text
// and the candidate names reconstructed from it, so queries can be
// answered with document and page granularity.
package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/civiclab/sopn/internal/store"
)

// DefaultLimit is the number of hits returned when the caller does not
// ask for a specific limit.
const DefaultLimit = 10

// fragmentLength bounds the text fragment attached to each hit, in runes.
const fragmentLength = 160

// Index is a bleve-backed full-text index of parsed pages.
type Index struct {
	idx    bleve.Index
	logger *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the index logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// Open opens the index at path, creating it when it does not exist yet.
// An existing index is reused so unchanged documents keep their entries;
// remove the directory to force a full re-index after a mapping change.
func Open(path string, opts ...Option) (*Index, error) {
	ix := &Index{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(ix)
	}

	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open search index: %w", openErr)
		}
		ix.idx = idx
		return ix, nil
	}

	idx, err := bleve.New(path, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	ix.logger.Debug("created search index", "path", path)
	ix.idx = idx
	return ix, nil
}

// buildIndexMapping declares one document type, "page". Text fields use
// the standard analyzer (lowercase + tokenize, no stemming) so a query
// for an exact surname is not stemmed away from it.
func buildIndexMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	idField := bleve.NewKeywordFieldMapping()

	pageMapping := bleve.NewDocumentMapping()
	pageMapping.AddFieldMappingsAt("text", textField)
	pageMapping.AddFieldMappingsAt("candidates", textField)
	pageMapping.AddFieldMappingsAt("filename", textField)
	pageMapping.AddFieldMappingsAt("document_id", idField)
	pageMapping.AddFieldMappingsAt("page", bleve.NewNumericFieldMapping())

	im := bleve.NewIndexMapping()
	im.AddDocumentMapping("page", pageMapping)
	im.DefaultType = "page"
	im.DefaultMapping = pageMapping
	return im
}

// pageEntry is the shape bleve indexes for each page.
type pageEntry struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Page       int    `json:"page"`
	Text       string `json:"text"`
	Candidates string `json:"candidates"`
}

// Hit is one search result: a page of a document.
type Hit struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
	Fragment   string  `json:"fragment,omitempty"`
}

// IndexDocument replaces the index entries for doc with one entry per
// non-empty page. Candidate names are indexed alongside the page they
// were reconstructed from.
func (ix *Index) IndexDocument(ctx context.Context, doc *store.Document, pages []store.Page, candidates []store.Candidate) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("index document: missing document id")
	}
	// Drop the previous entries first: a re-parse can produce fewer
	// pages than before and overwriting alone would leave stale ones.
	if err := ix.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}

	names := make(map[int][]string)
	for _, c := range candidates {
		names[c.Page] = append(names[c.Page], c.Name)
	}

	batch := ix.idx.NewBatch()
	indexed := 0
	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" && len(names[p.Number]) == 0 {
			continue
		}
		entry := pageEntry{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			Page:       p.Number,
			Text:       text,
			Candidates: strings.Join(names[p.Number], " "),
		}
		if err := batch.Index(entryID(doc.ID, p.Number), entry); err != nil {
			return fmt.Errorf("index page %d of %s: %w", p.Number, doc.ID, err)
		}
		indexed++
	}
	if indexed == 0 {
		return nil
	}
	if err := ix.idx.Batch(batch); err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	ix.logger.Debug("indexed document", "document_id", doc.ID, "pages", indexed)
	return nil
}

// DeleteDocument removes every index entry belonging to documentID.
func (ix *Index) DeleteDocument(ctx context.Context, documentID string) error {
	q := bleve.NewTermQuery(documentID)
	q.SetField("document_id")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := bleve.NewSearchRequestOptions(q, 100, 0, false)
		res, err := ix.idx.Search(req)
		if err != nil {
			return fmt.Errorf("delete document %s from index: %w", documentID, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := ix.idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := ix.idx.Batch(batch); err != nil {
			return fmt.Errorf("delete document %s from index: %w", documentID, err)
		}
	}
}

// Search runs a match query over page text, candidate names and
// filenames, returning up to limit hits ranked by score.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), limit, 0, false)
	req.Fields = []string{"document_id", "filename", "page", "text"}
	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{Score: h.Score}
		if v, ok := h.Fields["document_id"].(string); ok {
			hit.DocumentID = v
		}
		if v, ok := h.Fields["filename"].(string); ok {
			hit.Filename = v
		}
		if v, ok := h.Fields["page"].(float64); ok {
			hit.Page = int(v)
		}
		if v, ok := h.Fields["text"].(string); ok {
			hit.Fragment = snippet(v, query, fragmentLength)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DocCount returns the number of indexed pages.
func (ix *Index) DocCount() (uint64, error) {
	return ix.idx.DocCount()
}

// Close closes the underlying index.
func (ix *Index) Close() error {
	return ix.idx.Close()
}

func entryID(documentID string, page int) string {
	return documentID + "#" + strconv.Itoa(page)
}

// snippet returns a window of at most maxLen runes from text, centred on
// the first occurrence of any query term, with whitespace collapsed.
func snippet(text, query string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return text
	}

	lower := strings.ToLower(text)
	at := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if i := strings.Index(lower, term); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	if at < 0 {
		return string(runes[:maxLen]) + "..."
	}

	centre := utf8.RuneCountInString(text[:at])
	start := centre - maxLen/2
	if start < 0 {
		start = 0
	}
	end := start + maxLen
	if end > len(runes) {
		end = len(runes)
		start = end - maxLen
	}

	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
