package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document lifecycle states.
const (
	DocStatusUploaded  = "uploaded"
	DocStatusDetecting = "detecting"
	DocStatusParsed    = "parsed"
	DocStatusFailed    = "failed"
)

// Document is one uploaded statement file and its parse lifecycle.
type Document struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	SourceURL    string    `json:"source_url,omitempty"`
	ElectionDate string    `json:"election_date,omitempty"`
	Country      string    `json:"country,omitempty"`
	ContentType  string    `json:"content_type"`
	PageCount    int       `json:"page_count"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const documentColumns = `id, filename, source_url, election_date, country,
	content_type, page_count, status, created_at, updated_at`

// CreateDocument inserts a new document record. A missing ID or
// timestamps are filled in.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.ContentType == "" {
		doc.ContentType = "application/pdf"
	}
	if doc.Status == "" {
		doc.Status = DocStatusUploaded
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.Filename, doc.SourceURL, doc.ElectionDate, doc.Country,
		doc.ContentType, doc.PageCount, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.Filename, err)
	}
	return nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	return scanDocument(row)
}

// GetDocumentByFilename fetches the most recently uploaded document with
// the given stored filename.
func (s *Store) GetDocumentByFilename(ctx context.Context, filename string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+documentColumns+` FROM documents
		WHERE filename = ? ORDER BY created_at DESC LIMIT 1`), filename)
	return scanDocument(row)
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus moves a document to a new lifecycle state.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`),
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update document %s status: %w", id, err)
	}
	return requireAffected(res, "document", id)
}

// SetDocumentPageCount records the page count discovered during parsing.
func (s *Store) SetDocumentPageCount(ctx context.Context, id string, pages int) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE documents SET page_count = ?, updated_at = ? WHERE id = ?`),
		pages, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update document %s page count: %w", id, err)
	}
	return requireAffected(res, "document", id)
}

// DeleteDocument removes a document and, through cascading foreign keys,
// its ballot links, jobs, pages and candidates.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return requireAffected(res, "document", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Filename, &doc.SourceURL, &doc.ElectionDate,
		&doc.Country, &doc.ContentType, &doc.PageCount, &doc.Status,
		&doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
