package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Page is the persisted text of one document page.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
	Blank  bool   `json:"blank"`
}

// Candidate is one reconstructed table row below the statement header.
type Candidate struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Page        int    `json:"page"`
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Address     string `json:"address,omitempty"`
}

// SavePages replaces the stored page text for a document. Re-parsing a
// document overwrites the previous result wholesale.
func (s *Store) SavePages(ctx context.Context, documentID string, pages []Page) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save pages: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM pages WHERE document_id = ?`), documentID); err != nil {
		return fmt.Errorf("clear pages for document %s: %w", documentID, err)
	}
	for _, p := range pages {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO pages (document_id, page_number, text, blank)
			VALUES (?, ?, ?, ?)`),
			documentID, p.Number, p.Text, p.Blank); err != nil {
			return fmt.Errorf("save page %d of document %s: %w", p.Number, documentID, err)
		}
	}
	return tx.Commit()
}

// GetPages returns the stored pages of a document in page order.
func (s *Store) GetPages(ctx context.Context, documentID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT page_number, text, blank FROM pages
		WHERE document_id = ? ORDER BY page_number`), documentID)
	if err != nil {
		return nil, fmt.Errorf("get pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.Number, &p.Text, &p.Blank); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// SaveCandidates replaces the stored candidate rows for a document.
func (s *Store) SaveCandidates(ctx context.Context, documentID string, candidates []Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save candidates: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM candidates WHERE document_id = ?`), documentID); err != nil {
		return fmt.Errorf("clear candidates for document %s: %w", documentID, err)
	}
	for _, c := range candidates {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO candidates (id, document_id, page_number, position,
				name, description, address)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			id, documentID, c.Page, c.Position, c.Name, c.Description, c.Address); err != nil {
			return fmt.Errorf("save candidate %q of document %s: %w", c.Name, documentID, err)
		}
	}
	return tx.Commit()
}

// ListCandidates returns a document's candidate rows ordered by page and
// table position.
func (s *Store) ListCandidates(ctx context.Context, documentID string) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, document_id, page_number, position, name, description, address
		FROM candidates WHERE document_id = ?
		ORDER BY page_number, position`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Page, &c.Position,
			&c.Name, &c.Description, &c.Address); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
