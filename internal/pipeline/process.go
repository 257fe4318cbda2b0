package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/civiclab/sopn/internal/detect"
	"github.com/civiclab/sopn/internal/export"
	"github.com/civiclab/sopn/internal/geometry"
	"github.com/civiclab/sopn/internal/pdfio"
	"github.com/civiclab/sopn/internal/segment"
	"github.com/civiclab/sopn/internal/store"
)

// Text sources of a parse.
const (
	SourceTextLayer = "text-layer"
	SourceDetection = "detection"
)

const documentKeyPrefix = "documents/"

// documentKey is the stable blob key of a document's canonical PDF.
func documentKey(id string) string {
	return documentKeyPrefix + id + ".pdf"
}

// Meta carries optional document metadata supplied at ingest.
type Meta struct {
	SourceURL    string
	ElectionDate string
	Country      string
}

// Result is the outcome of parsing one document.
type Result struct {
	Document   *store.Document
	Ballots    []store.DocumentBallot
	Pages      []store.Page
	Candidates []store.Candidate
	Warnings   []string
	// Source names where the text came from: SourceTextLayer or
	// SourceDetection.
	Source string
	// Job is the detection job used, nil on the text-layer path.
	Job *detect.Job
}

// Export converts the result to its renderable form.
func (r *Result) Export() *export.Result {
	return &export.Result{
		Document:   r.Document,
		Ballots:    r.Ballots,
		Pages:      r.Pages,
		Candidates: r.Candidates,
		Warnings:   r.Warnings,
	}
}

// Ingest converts an uploaded file to canonical PDF, stores the PDF
// under the document's blob key and records the document row. Nothing
// is persisted when conversion fails.
func (p *Pipeline) Ingest(ctx context.Context, srcPath string, meta Meta) (*store.Document, error) {
	tmp, err := os.CreateTemp("", "sopn-ingest-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", srcPath, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := p.conv.ToPDF(ctx, srcPath, tmpPath); err != nil {
		return nil, err
	}
	pageCount, err := pdfio.PageCount(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("count pages of %s: %w", srcPath, err)
	}

	country := meta.Country
	if country == "" {
		country = p.cfg.Country
	}
	doc := &store.Document{
		Filename:     filepath.Base(srcPath),
		SourceURL:    meta.SourceURL,
		ElectionDate: meta.ElectionDate,
		Country:      country,
		ContentType:  "application/pdf",
		PageCount:    pageCount,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		_ = p.store.DeleteDocument(ctx, doc.ID)
		return nil, fmt.Errorf("ingest %s: %w", srcPath, err)
	}
	err = p.blobs.Put(ctx, documentKey(doc.ID), f)
	_ = f.Close()
	if err != nil {
		_ = p.store.DeleteDocument(ctx, doc.ID)
		return nil, fmt.Errorf("store document %s: %w", doc.ID, err)
	}

	p.logger.Info("document ingested",
		"document_id", doc.ID, "filename", doc.Filename, "pages", pageCount)
	return doc, nil
}

// LinkBallots upserts the ballots by paper ID and links them to the
// document, returning the document's ballot links.
func (p *Pipeline) LinkBallots(ctx context.Context, doc *store.Document, paperIDs []string) ([]store.DocumentBallot, error) {
	if doc == nil || doc.ID == "" {
		return nil, errNilDocument
	}
	for _, paperID := range paperIDs {
		ballot := &store.Ballot{
			BallotPaperID: paperID,
			ElectionDate:  doc.ElectionDate,
		}
		if err := p.store.UpsertBallot(ctx, ballot); err != nil {
			return nil, err
		}
		if err := p.store.LinkBallot(ctx, doc.ID, ballot.ID); err != nil {
			return nil, err
		}
	}
	return p.store.ListDocumentBallots(ctx, doc.ID)
}

// ProcessFile ingests a file, links the given ballots and parses the
// document. This is the one-call path used by the CLI, batch runs and
// the watch loop.
func (p *Pipeline) ProcessFile(ctx context.Context, srcPath string, ballotIDs []string, meta Meta, progress ProgressFunc) (*Result, error) {
	emit(progress, Event{Stage: StageConvert, Status: StatusStarted, Message: filepath.Base(srcPath)})
	doc, err := p.Ingest(ctx, srcPath, meta)
	if err != nil {
		emit(progress, Event{Stage: StageConvert, Status: StatusFailed, Err: err})
		return nil, err
	}
	emit(progress, Event{Stage: StageConvert, Status: StatusCompleted,
		Message: fmt.Sprintf("%d pages", doc.PageCount)})

	if len(ballotIDs) > 0 {
		if _, err := p.LinkBallots(ctx, doc, ballotIDs); err != nil {
			return nil, err
		}
	}
	return p.Parse(ctx, doc, progress)
}

// Parse runs the stored document through text acquisition, geometry,
// segmentation, table reconstruction, persistence and indexing. The
// document row moves to "parsed" on success and "failed" on error;
// already-persisted partial results survive a failure.
func (p *Pipeline) Parse(ctx context.Context, doc *store.Document, progress ProgressFunc) (*Result, error) {
	if doc == nil || doc.ID == "" {
		return nil, errNilDocument
	}
	timer := startParseTimer()
	res, err := p.parse(ctx, doc, progress)
	timer.ObserveDuration()
	if err != nil {
		documentsParsed.WithLabelValues("error").Inc()
		// Record the failure even when the parse context is gone.
		_ = p.store.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, store.DocStatusFailed)
		return nil, err
	}
	documentsParsed.WithLabelValues("ok").Inc()
	return res, nil
}

func (p *Pipeline) parse(ctx context.Context, doc *store.Document, progress ProgressFunc) (*Result, error) {
	res := &Result{Document: doc}

	path, cleanup, err := p.fetchDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	gdoc, err := p.acquireText(ctx, doc, path, res, progress)
	if err != nil {
		return nil, err
	}

	emit(progress, Event{Stage: StageGeometry, Status: StatusStarted})
	res.Pages = buildPages(gdoc, p.seg.Options().BlankTokenMin)
	pagesProcessed.Add(float64(len(res.Pages)))
	if n := gdoc.PageCount(); n > 0 && n != doc.PageCount {
		if err := p.store.SetDocumentPageCount(ctx, doc.ID, n); err != nil {
			return nil, err
		}
		doc.PageCount = n
	}
	emit(progress, Event{Stage: StageGeometry, Status: StatusCompleted,
		Message: fmt.Sprintf("%d pages", len(res.Pages))})

	if err := p.assignBallots(ctx, doc, gdoc, res, progress); err != nil {
		return nil, err
	}

	p.extractCandidates(gdoc, res, progress)

	emit(progress, Event{Stage: StagePersist, Status: StatusStarted})
	if err := p.store.SavePages(ctx, doc.ID, res.Pages); err != nil {
		emit(progress, Event{Stage: StagePersist, Status: StatusFailed, Err: err})
		return nil, err
	}
	if err := p.store.SaveCandidates(ctx, doc.ID, res.Candidates); err != nil {
		emit(progress, Event{Stage: StagePersist, Status: StatusFailed, Err: err})
		return nil, err
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocStatusParsed); err != nil {
		emit(progress, Event{Stage: StagePersist, Status: StatusFailed, Err: err})
		return nil, err
	}
	doc.Status = store.DocStatusParsed
	emit(progress, Event{Stage: StagePersist, Status: StatusCompleted})

	if p.index != nil {
		emit(progress, Event{Stage: StageIndex, Status: StatusStarted})
		if err := p.index.IndexDocument(ctx, doc, res.Pages, res.Candidates); err != nil {
			// The parse result is already persisted; the index can be
			// rebuilt, so indexing failures degrade to a warning.
			res.Warnings = append(res.Warnings, fmt.Sprintf("search indexing failed: %v", err))
			emit(progress, Event{Stage: StageIndex, Status: StatusFailed, Err: err})
		} else {
			emit(progress, Event{Stage: StageIndex, Status: StatusCompleted})
		}
	}

	p.logger.Info("document parsed",
		"document_id", doc.ID,
		"source", res.Source,
		"pages", len(res.Pages),
		"candidates", len(res.Candidates),
		"warnings", len(res.Warnings))
	return res, nil
}

// acquireText returns the page geometry, preferring the PDF's embedded
// text layer and falling back to cloud detection for scanned documents.
func (p *Pipeline) acquireText(ctx context.Context, doc *store.Document, path string, res *Result, progress ProgressFunc) (*geometry.Document, error) {
	if !p.cfg.ForceDetection {
		ok, err := pdfio.HasText(path, p.cfg.MinTextChars)
		if err != nil {
			p.logger.Warn("text layer probe failed",
				"document_id", doc.ID, "error", err)
		} else if ok {
			texts, terr := pdfio.ExtractPageTexts(path)
			if terr == nil {
				emit(progress, Event{Stage: StageDetect, Status: StatusSkipped,
					Message: "embedded text layer"})
				res.Source = SourceTextLayer
				return geometry.FromPageTexts(texts), nil
			}
			p.logger.Warn("text layer extraction failed, falling back to detection",
				"document_id", doc.ID, "error", terr)
		}
	}

	if p.orch == nil {
		return nil, fmt.Errorf("document %s: %w: no embedded text layer and detection is disabled",
			doc.Filename, geometry.ErrNoTextInDocument)
	}

	emit(progress, Event{Stage: StageDetect, Status: StatusStarted})
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocStatusDetecting); err != nil {
		return nil, err
	}
	job, err := p.runDetection(ctx, doc, path)
	if err != nil {
		detectionJobs.WithLabelValues("failed").Inc()
		emit(progress, Event{Stage: StageDetect, Status: StatusFailed, Err: err})
		return nil, err
	}
	detectionJobs.WithLabelValues("succeeded").Inc()
	emit(progress, Event{Stage: StageDetect, Status: StatusCompleted,
		Message: fmt.Sprintf("%d blocks", len(job.Blocks))})
	res.Source = SourceDetection
	res.Job = job
	return geometry.NewDocument(job.Arena()), nil
}

// runDetection reuses the document's latest job when it can: a
// succeeded job is taken as-is and an in-progress one is polled to
// completion. A failed job is terminal, so a fresh one is started.
func (p *Pipeline) runDetection(ctx context.Context, doc *store.Document, path string) (*detect.Job, error) {
	job, err := p.store.LatestJobForDocument(ctx, doc.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		job = nil
	case err != nil:
		return nil, fmt.Errorf("load detection job: %w", err)
	case job.Status == detect.StatusSucceeded:
		return job, nil
	case job.Status == detect.StatusFailed:
		job = nil
	}

	if job == nil {
		job = detect.NewJob(doc.ID, doc.Filename)
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open document for upload: %w", err)
		}
		err = p.orch.StartDetection(ctx, job, f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}
	if err := p.orch.WaitForCompletion(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Detect starts (or resumes) cloud detection for a stored document
// without running the rest of the pipeline. With wait set it blocks
// until the job is terminal; otherwise it polls once and returns the
// current job state.
func (p *Pipeline) Detect(ctx context.Context, doc *store.Document, wait bool) (*detect.Job, error) {
	if doc == nil || doc.ID == "" {
		return nil, errNilDocument
	}
	if p.orch == nil {
		return nil, errors.New("detection is not configured")
	}

	job, err := p.store.LatestJobForDocument(ctx, doc.ID)
	if errors.Is(err, store.ErrNotFound) {
		job = nil
	} else if err != nil {
		return nil, fmt.Errorf("load detection job: %w", err)
	}
	if job != nil && job.Status == detect.StatusFailed {
		job = nil
	}

	if job == nil {
		path, cleanup, err := p.fetchDocument(ctx, doc)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open document for upload: %w", err)
		}
		job = detect.NewJob(doc.ID, doc.Filename)
		err = p.orch.StartDetection(ctx, job, f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocStatusDetecting); err != nil {
			return nil, err
		}
	}

	if wait {
		if err := p.orch.WaitForCompletion(ctx, job); err != nil {
			return job, err
		}
	} else if err := p.orch.UpdateJobStatus(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// assignBallots groups the document's pages and writes relevant_pages
// for its linked ballots. Segmentation mismatches are review flags, not
// failures: the document still parses, nothing is guessed.
func (p *Pipeline) assignBallots(ctx context.Context, doc *store.Document, gdoc *geometry.Document, res *Result, progress ProgressFunc) error {
	ballots, err := p.store.ListDocumentBallots(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(ballots) == 0 {
		emit(progress, Event{Stage: StageSegment, Status: StatusSkipped,
			Message: "no ballots linked"})
		return nil
	}

	emit(progress, Event{Stage: StageSegment, Status: StatusStarted,
		Message: fmt.Sprintf("%d ballots", len(ballots))})

	groups, groupWarnings := p.seg.GroupPages(gdoc)
	for _, w := range groupWarnings {
		res.Warnings = append(res.Warnings, w.Error())
	}

	segBallots := make([]segment.Ballot, len(ballots))
	for i, b := range ballots {
		segBallots[i] = segment.Ballot{ID: b.BallotPaperID, RelevantPages: b.RelevantPages}
	}

	assignments, err := p.seg.MatchGroups(groups, segBallots)
	if err != nil {
		var mismatch *segment.MismatchError
		if !errors.As(err, &mismatch) {
			return err
		}
		res.Warnings = append(res.Warnings, mismatch.Error())
		res.Ballots = ballots
		emit(progress, Event{Stage: StageSegment, Status: StatusCompleted,
			Message: mismatch.Error()})
		return nil
	}

	ballotID := make(map[string]string, len(ballots))
	for _, b := range ballots {
		ballotID[b.BallotPaperID] = b.ID
	}
	for _, a := range assignments {
		written, err := p.store.SetRelevantPages(ctx, doc.ID, ballotID[a.BallotID], a.Pages)
		if err != nil {
			return err
		}
		if !written {
			p.logger.Debug("relevant pages already assigned",
				"document_id", doc.ID, "ballot", a.BallotID)
		}
	}

	res.Ballots, err = p.store.ListDocumentBallots(ctx, doc.ID)
	if err != nil {
		return err
	}
	emit(progress, Event{Stage: StageSegment, Status: StatusCompleted,
		Message: fmt.Sprintf("%d assignments", len(assignments))})
	return nil
}

// extractCandidates reconstructs tables from the block arena. Synthetic
// text-layer geometry carries no word positions, so candidate rows are
// only extracted on the detection path.
func (p *Pipeline) extractCandidates(gdoc *geometry.Document, res *Result, progress ProgressFunc) {
	if res.Source != SourceDetection {
		emit(progress, Event{Stage: StageTable, Status: StatusSkipped,
			Message: "table reconstruction requires detected block geometry"})
		return
	}

	emit(progress, Event{Stage: StageTable, Status: StatusStarted})
	ambiguous := 0
	var out []store.Candidate
	for _, t := range p.tables.ReconstructAll(gdoc.Arena()) {
		for _, row := range t.Rows {
			if row.Ambiguous {
				ambiguous++
			}
		}
		for i, c := range t.Candidates() {
			out = append(out, store.Candidate{
				DocumentID:  res.Document.ID,
				Page:        c.Page,
				Position:    i + 1,
				Name:        c.Name,
				Description: c.Description,
			})
		}
	}
	res.Candidates = out
	candidatesExtracted.Add(float64(len(out)))
	if ambiguous > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d table rows flagged for review", ambiguous))
	}
	emit(progress, Event{Stage: StageTable, Status: StatusCompleted,
		Message: fmt.Sprintf("%d candidates", len(out))})
}

// fetchDocument copies the stored canonical PDF to a temporary file so
// the file-based PDF tooling can read it.
func (p *Pipeline) fetchDocument(ctx context.Context, doc *store.Document) (string, func(), error) {
	rc, err := p.blobs.Open(ctx, documentKey(doc.ID))
	if err != nil {
		return "", nil, fmt.Errorf("open stored document %s: %w", doc.ID, err)
	}

	tmp, err := os.CreateTemp("", "sopn-parse-*.pdf")
	if err != nil {
		_ = rc.Close()
		return "", nil, err
	}
	_, err = io.Copy(tmp, rc)
	if cerr := rc.Close(); err == nil {
		err = cerr
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("fetch stored document %s: %w", doc.ID, err)
	}
	return tmp.Name(), func() { _ = os.Remove(tmp.Name()) }, nil
}

// buildPages flattens the geometry into persistable page rows.
func buildPages(gdoc *geometry.Document, blankMin int) []store.Page {
	pages := make([]store.Page, 0, gdoc.PageCount())
	for i := range gdoc.Pages {
		page := &gdoc.Pages[i]
		pages = append(pages, store.Page{
			Number: page.Number,
			Text:   page.Text(),
			Blank:  page.Blank(blankMin),
		})
	}
	return pages
}
