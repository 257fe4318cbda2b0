package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Ballot is an electoral contest a document may cover. BallotPaperID is
// the external identifier and the sort key for page assignment.
type Ballot struct {
	ID            string `json:"id"`
	BallotPaperID string `json:"ballot_paper_id"`
	ElectionDate  string `json:"election_date,omitempty"`
	PostLabel     string `json:"post_label,omitempty"`
}

// DocumentBallot is a ballot joined with its relevant-pages assignment
// for one document.
type DocumentBallot struct {
	Ballot
	DocumentID    string `json:"document_id"`
	RelevantPages string `json:"relevant_pages"`
}

// UpsertBallot inserts a ballot or refreshes its metadata, keyed by
// ballot paper ID. The stored row's ID is written back.
func (s *Store) UpsertBallot(ctx context.Context, b *Ballot) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO ballots (id, ballot_paper_id, election_date, post_label)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ballot_paper_id) DO UPDATE SET
			election_date = excluded.election_date,
			post_label = excluded.post_label`),
		b.ID, b.BallotPaperID, b.ElectionDate, b.PostLabel)
	if err != nil {
		return fmt.Errorf("upsert ballot %s: %w", b.BallotPaperID, err)
	}

	// The insert may have collapsed onto an existing row with its own ID.
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id FROM ballots WHERE ballot_paper_id = ?`), b.BallotPaperID)
	if err := row.Scan(&b.ID); err != nil {
		return fmt.Errorf("resolve ballot %s: %w", b.BallotPaperID, err)
	}
	return nil
}

// GetBallotByPaperID fetches a ballot by its external identifier.
func (s *Store) GetBallotByPaperID(ctx context.Context, paperID string) (*Ballot, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, ballot_paper_id, election_date, post_label
		FROM ballots WHERE ballot_paper_id = ?`), paperID)

	var b Ballot
	err := row.Scan(&b.ID, &b.BallotPaperID, &b.ElectionDate, &b.PostLabel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ballot: %w", err)
	}
	return &b, nil
}

// ListBallots returns all ballots ordered by ballot paper ID.
func (s *Store) ListBallots(ctx context.Context) ([]Ballot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ballot_paper_id, election_date, post_label
		FROM ballots ORDER BY ballot_paper_id`)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}
	defer rows.Close()

	var ballots []Ballot
	for rows.Next() {
		var b Ballot
		if err := rows.Scan(&b.ID, &b.BallotPaperID, &b.ElectionDate, &b.PostLabel); err != nil {
			return nil, fmt.Errorf("scan ballot: %w", err)
		}
		ballots = append(ballots, b)
	}
	return ballots, rows.Err()
}

// LinkBallot attaches a ballot to a document with an unset
// relevant-pages value. Linking twice is a no-op.
func (s *Store) LinkBallot(ctx context.Context, documentID, ballotID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO document_ballots (document_id, ballot_id, relevant_pages)
		VALUES (?, ?, '')
		ON CONFLICT (document_id, ballot_id) DO NOTHING`),
		documentID, ballotID)
	if err != nil {
		return fmt.Errorf("link ballot %s to document %s: %w", ballotID, documentID, err)
	}
	return nil
}

// SetRelevantPages records a page assignment for one document+ballot
// pair. The write is idempotent: an assignment that is already set is
// left untouched, and the return value reports whether this call wrote
// it.
func (s *Store) SetRelevantPages(ctx context.Context, documentID, ballotID, pages string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO document_ballots (document_id, ballot_id, relevant_pages)
		VALUES (?, ?, ?)
		ON CONFLICT (document_id, ballot_id) DO UPDATE SET
			relevant_pages = excluded.relevant_pages
		WHERE document_ballots.relevant_pages = ''`),
		documentID, ballotID, pages)
	if err != nil {
		return false, fmt.Errorf("set relevant pages for ballot %s: %w", ballotID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RelevantPages returns the stored assignment for one document+ballot
// pair. An unmatched ballot yields the empty string.
func (s *Store) RelevantPages(ctx context.Context, documentID, ballotID string) (string, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT relevant_pages FROM document_ballots
		WHERE document_id = ? AND ballot_id = ?`), documentID, ballotID)

	var pages string
	err := row.Scan(&pages)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("scan relevant pages: %w", err)
	}
	return pages, nil
}

// ListDocumentBallots returns the ballots linked to a document with
// their assignments, ordered by ballot paper ID.
func (s *Store) ListDocumentBallots(ctx context.Context, documentID string) ([]DocumentBallot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT b.id, b.ballot_paper_id, b.election_date, b.post_label,
			db.document_id, db.relevant_pages
		FROM document_ballots db
		JOIN ballots b ON b.id = db.ballot_id
		WHERE db.document_id = ?
		ORDER BY b.ballot_paper_id`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list document ballots: %w", err)
	}
	defer rows.Close()

	var links []DocumentBallot
	for rows.Next() {
		var link DocumentBallot
		if err := rows.Scan(&link.ID, &link.BallotPaperID, &link.ElectionDate,
			&link.PostLabel, &link.DocumentID, &link.RelevantPages); err != nil {
			return nil, fmt.Errorf("scan document ballot: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
