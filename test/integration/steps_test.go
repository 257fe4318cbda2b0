package integration_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cucumber/godog"

	"github.com/civiclab/sopn/internal/config"
	"github.com/civiclab/sopn/internal/convert"
	"github.com/civiclab/sopn/internal/detect"
	"github.com/civiclab/sopn/internal/geometry"
	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/civiclab/sopn/internal/store"
	"github.com/civiclab/sopn/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// suiteContext carries one scenario's pipeline, fixtures, and outcomes.
type suiteContext struct {
	dir    string
	client *scriptedClient
	pl     *pipeline.Pipeline

	source  string
	doc     *store.Document
	job     *detect.Job
	result  *pipeline.Result
	lastErr error
	stages  map[string]bool
}

// InitializeScenario sets up a fresh context and registers the steps.
func InitializeScenario(sc *godog.ScenarioContext) {
	dir, err := os.MkdirTemp("", "sopn-integration-*")
	if err != nil {
		panic(fmt.Sprintf("failed to create scenario directory: %v", err))
	}
	tc := &suiteContext{
		dir:    dir,
		client: &scriptedClient{pages: map[string]*detect.AnalysisPage{}},
		stages: map[string]bool{},
	}

	sc.Step(`^a scanned statement image$`, tc.aScannedStatementImage)
	sc.Step(`^a stored scanned statement$`, tc.aStoredScannedStatement)
	sc.Step(`^the detection service returns the sample candidate table$`, tc.detectionReturnsSampleTable)
	sc.Step(`^a scanned statement of (\d+) pages headed "([^"]*)"$`, tc.aStatementHeaded)
	sc.Step(`^a scanned statement where pages (\d+) to (\d+) are headed "([^"]*)" and pages (\d+) to (\d+) are headed "([^"]*)"$`,
		tc.aStatementWithTwoDistricts)
	sc.Step(`^a scanned statement of (\d+) pages forming (\d+) heading groups$`, tc.aStatementWithGroups)
	sc.Step(`^a plain text file$`, tc.aPlainTextFile)
	sc.Step(`^the detection service returns its blocks across three continuation pages with overlaps$`,
		tc.detectionReturnsTokenPages)
	sc.Step(`^the detection service fails the analysis$`, tc.detectionFails)

	sc.Step(`^I parse the statement linked to ballots? "([^"]*)"$`, tc.iParseLinkedTo)
	sc.Step(`^I ingest the file$`, tc.iIngestTheFile)
	sc.Step(`^I run detection to completion$`, tc.iRunDetection)

	sc.Step(`^the parse should succeed$`, tc.theParseSucceeds)
	sc.Step(`^(\d+) pages? of text should be persisted$`, tc.pagesArePersisted)
	sc.Step(`^ballot "([^"]*)" should cover pages "([^"]*)"$`, tc.ballotCoversPages)
	sc.Step(`^ballot "([^"]*)" should have no page assignment$`, tc.ballotHasNoAssignment)
	sc.Step(`^the result should warn about a segmentation mismatch$`, tc.resultWarnsAboutSegmentation)
	sc.Step(`^(\d+) candidates should be extracted$`, tc.candidatesAreExtracted)
	sc.Step(`^candidate (\d+) should be named "([^"]*)"$`, tc.candidateIsNamed)
	sc.Step(`^the parse should report stages "([^"]*)"$`, tc.parseReportsStages)
	sc.Step(`^ingestion should be rejected with "([^"]*)"$`, tc.ingestionRejectedWith)
	sc.Step(`^no documents should be stored$`, tc.noDocumentsStored)
	sc.Step(`^the job should succeed with (\d+) unique blocks$`, tc.jobSucceedsWithBlocks)
	sc.Step(`^detection should report failure$`, tc.detectionReportsFailure)
	sc.Step(`^the stored job status should be "([^"]*)"$`, tc.storedJobStatus)
	sc.Step(`^searching for "([^"]*)" should find the document$`, tc.searchFindsDocument)

	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		if tc.pl != nil {
			_ = tc.pl.Close()
		}
		_ = os.RemoveAll(tc.dir)
		return ctx, nil
	})
}

// ensurePipeline builds the pipeline on first use, after the Given
// steps have scripted the detection service.
func (tc *suiteContext) ensurePipeline() error {
	if tc.pl != nil {
		return nil
	}
	cfg := config.DefaultConfig()
	cfg.Storage.DSN = filepath.Join(tc.dir, "sopn.db")
	cfg.Blob.Dir = filepath.Join(tc.dir, "blobs")
	cfg.Search.IndexPath = filepath.Join(tc.dir, "index.bleve")

	pl, err := pipeline.NewBuilder().
		WithConfig(&cfg).
		WithLogger(discardLogger()).
		WithForceDetection(true).
		WithDetectClient(tc.client).
		Build(context.Background())
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	tc.pl = pl
	return nil
}

func (tc *suiteContext) writeStatementImage() error {
	path := filepath.Join(tc.dir, "statement.png")
	err := testutil.RenderStatementPNG(path, 400, 600,
		"STATEMENT OF PERSONS NOMINATED",
		"Mid Ulster District Council Election")
	if err != nil {
		return err
	}
	tc.source = path
	return nil
}

func (tc *suiteContext) aScannedStatementImage() error {
	return tc.writeStatementImage()
}

func (tc *suiteContext) aStoredScannedStatement() error {
	if err := tc.writeStatementImage(); err != nil {
		return err
	}
	if err := tc.ensurePipeline(); err != nil {
		return err
	}
	doc, err := tc.pl.Ingest(context.Background(), tc.source, pipeline.Meta{ElectionDate: "2026-05-07"})
	if err != nil {
		return err
	}
	tc.doc = doc
	return nil
}

func (tc *suiteContext) detectionReturnsSampleTable() error {
	tc.client.set("", &detect.AnalysisPage{
		Status: detect.StatusSucceeded,
		Blocks: sampleStatementBlocks(),
	})
	return nil
}

func (tc *suiteContext) aStatementHeaded(pages int, heading string) error {
	if err := tc.writeStatementImage(); err != nil {
		return err
	}
	tc.client.set("", &detect.AnalysisPage{
		Status: detect.StatusSucceeded,
		Blocks: districtBlocks(pageRange{1, pages, heading}),
	})
	return nil
}

func (tc *suiteContext) aStatementWithTwoDistricts(from1, to1 int, heading1 string, from2, to2 int, heading2 string) error {
	if err := tc.writeStatementImage(); err != nil {
		return err
	}
	tc.client.set("", &detect.AnalysisPage{
		Status: detect.StatusSucceeded,
		Blocks: districtBlocks(pageRange{from1, to1, heading1}, pageRange{from2, to2, heading2}),
	})
	return nil
}

func (tc *suiteContext) aStatementWithGroups(pages, groups int) error {
	if err := tc.writeStatementImage(); err != nil {
		return err
	}
	names := []string{"Ward Alpha", "Ward Beta", "Ward Gamma", "Ward Delta", "Ward Epsilon"}
	if groups > len(names) {
		return fmt.Errorf("at most %d heading groups supported", len(names))
	}
	per := pages / groups
	var ranges []pageRange
	for g := range groups {
		from := g*per + 1
		to := from + per - 1
		if g == groups-1 {
			to = pages
		}
		ranges = append(ranges, pageRange{from, to, names[g]})
	}
	tc.client.set("", &detect.AnalysisPage{
		Status: detect.StatusSucceeded,
		Blocks: districtBlocks(ranges...),
	})
	return nil
}

func (tc *suiteContext) aPlainTextFile() error {
	path := filepath.Join(tc.dir, "notes.txt")
	if err := os.WriteFile(path, []byte("these are not nominations"), 0o600); err != nil {
		return err
	}
	tc.source = path
	return nil
}

func (tc *suiteContext) detectionReturnsTokenPages() error {
	// Eight distinct blocks over three token pages; the second page
	// replays two of the first page's blocks.
	makeLine := func(n int) geometry.Block {
		top := 0.1 + float64(n)*0.05
		return testutil.LineBlock(fmt.Sprintf("blk-%d", n), fmt.Sprintf("line %d", n), 1,
			testutil.Box(0.1, top, 0.8, 0.03))
	}
	first := []geometry.Block{makeLine(1), makeLine(2), makeLine(3), makeLine(4)}
	second := []geometry.Block{makeLine(3), makeLine(4), makeLine(5), makeLine(6)}
	third := []geometry.Block{makeLine(7), makeLine(8)}

	tc.client.set("", &detect.AnalysisPage{Status: detect.StatusSucceeded, Blocks: first, NextToken: "t1"})
	tc.client.set("t1", &detect.AnalysisPage{Blocks: second, NextToken: "t2"})
	tc.client.set("t2", &detect.AnalysisPage{Blocks: third})
	return nil
}

func (tc *suiteContext) detectionFails() error {
	tc.client.set("", &detect.AnalysisPage{Status: detect.StatusFailed, Message: "unreadable scan"})
	return nil
}

func (tc *suiteContext) iParseLinkedTo(ballotList string) error {
	if err := tc.ensurePipeline(); err != nil {
		return err
	}
	var ballots []string
	for _, b := range strings.Split(ballotList, ",") {
		if b = strings.TrimSpace(b); b != "" {
			ballots = append(ballots, b)
		}
	}
	progress := func(ev pipeline.Event) {
		tc.stages[string(ev.Stage)] = true
	}
	tc.result, tc.lastErr = tc.pl.ProcessFile(context.Background(), tc.source, ballots,
		pipeline.Meta{ElectionDate: "2026-05-07"}, progress)
	if tc.result != nil {
		tc.doc = tc.result.Document
	}
	return nil
}

func (tc *suiteContext) iIngestTheFile() error {
	if err := tc.ensurePipeline(); err != nil {
		return err
	}
	tc.doc, tc.lastErr = tc.pl.Ingest(context.Background(), tc.source, pipeline.Meta{})
	return nil
}

func (tc *suiteContext) iRunDetection() error {
	if err := tc.ensurePipeline(); err != nil {
		return err
	}
	if tc.doc == nil {
		return errors.New("no stored document to detect on")
	}
	tc.job, tc.lastErr = tc.pl.Detect(context.Background(), tc.doc, true)
	return nil
}

func (tc *suiteContext) theParseSucceeds() error {
	if tc.lastErr != nil {
		return fmt.Errorf("parse failed: %w", tc.lastErr)
	}
	if tc.result == nil || tc.result.Document == nil {
		return errors.New("parse produced no result")
	}
	return nil
}

func (tc *suiteContext) pagesArePersisted(count int) error {
	if tc.result == nil {
		return errors.New("no parse result")
	}
	if got := len(tc.result.Pages); got != count {
		return fmt.Errorf("expected %d persisted pages, got %d", count, got)
	}
	return nil
}

func (tc *suiteContext) ballotLink(paperID string) (*store.DocumentBallot, error) {
	if tc.doc == nil {
		return nil, errors.New("no stored document")
	}
	links, err := tc.pl.Store().ListDocumentBallots(context.Background(), tc.doc.ID)
	if err != nil {
		return nil, err
	}
	for i := range links {
		if links[i].BallotPaperID == paperID {
			return &links[i], nil
		}
	}
	return nil, fmt.Errorf("ballot %s is not linked to the document", paperID)
}

func (tc *suiteContext) ballotCoversPages(paperID, pages string) error {
	link, err := tc.ballotLink(paperID)
	if err != nil {
		return err
	}
	if link.RelevantPages != pages {
		return fmt.Errorf("ballot %s covers %q, expected %q", paperID, link.RelevantPages, pages)
	}
	return nil
}

func (tc *suiteContext) ballotHasNoAssignment(paperID string) error {
	link, err := tc.ballotLink(paperID)
	if err != nil {
		return err
	}
	if link.RelevantPages != "" {
		return fmt.Errorf("ballot %s unexpectedly covers %q", paperID, link.RelevantPages)
	}
	return nil
}

func (tc *suiteContext) resultWarnsAboutSegmentation() error {
	if tc.result == nil {
		return errors.New("no parse result")
	}
	for _, w := range tc.result.Warnings {
		if strings.Contains(w, "segmentation mismatch") {
			return nil
		}
	}
	return fmt.Errorf("no segmentation warning in %v", tc.result.Warnings)
}

func (tc *suiteContext) candidatesAreExtracted(count int) error {
	if tc.result == nil {
		return errors.New("no parse result")
	}
	if got := len(tc.result.Candidates); got != count {
		return fmt.Errorf("expected %d candidates, got %d", count, got)
	}
	return nil
}

func (tc *suiteContext) candidateIsNamed(position int, name string) error {
	if tc.result == nil || position < 1 || position > len(tc.result.Candidates) {
		return fmt.Errorf("no candidate at position %d", position)
	}
	if got := tc.result.Candidates[position-1].Name; got != name {
		return fmt.Errorf("candidate %d is named %q, expected %q", position, got, name)
	}
	return nil
}

func (tc *suiteContext) parseReportsStages(stageList string) error {
	for _, stage := range strings.Split(stageList, ",") {
		stage = strings.TrimSpace(stage)
		if !tc.stages[stage] {
			return fmt.Errorf("stage %q was not reported (saw %v)", stage, tc.stages)
		}
	}
	return nil
}

func (tc *suiteContext) ingestionRejectedWith(message string) error {
	if tc.lastErr == nil {
		return errors.New("ingestion unexpectedly succeeded")
	}
	var convErr *convert.ConversionError
	if !errors.As(tc.lastErr, &convErr) {
		return fmt.Errorf("expected a conversion error, got %v", tc.lastErr)
	}
	if convErr.Message() != message {
		return fmt.Errorf("uploader message %q, expected %q", convErr.Message(), message)
	}
	return nil
}

func (tc *suiteContext) noDocumentsStored() error {
	docs, err := tc.pl.Store().ListDocuments(context.Background())
	if err != nil {
		return err
	}
	if len(docs) != 0 {
		return fmt.Errorf("expected no stored documents, found %d", len(docs))
	}
	return nil
}

func (tc *suiteContext) jobSucceedsWithBlocks(count int) error {
	if tc.lastErr != nil {
		return fmt.Errorf("detection failed: %w", tc.lastErr)
	}
	if tc.job == nil {
		return errors.New("no detection job")
	}
	if tc.job.Status != detect.StatusSucceeded {
		return fmt.Errorf("job status %s, expected %s", tc.job.Status, detect.StatusSucceeded)
	}
	if got := len(tc.job.Blocks); got != count {
		return fmt.Errorf("expected %d blocks, got %d", count, got)
	}
	seen := map[string]bool{}
	for _, b := range tc.job.Blocks {
		if seen[b.ID] {
			return fmt.Errorf("duplicate block id %s", b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

func (tc *suiteContext) detectionReportsFailure() error {
	if !errors.Is(tc.lastErr, detect.ErrDetectionFailed) {
		return fmt.Errorf("expected a detection failure, got %v", tc.lastErr)
	}
	return nil
}

func (tc *suiteContext) storedJobStatus(status string) error {
	if tc.doc == nil {
		return errors.New("no stored document")
	}
	job, err := tc.pl.Store().LatestJobForDocument(context.Background(), tc.doc.ID)
	if err != nil {
		return err
	}
	if string(job.Status) != status {
		return fmt.Errorf("stored job status %s, expected %s", job.Status, status)
	}
	return nil
}

func (tc *suiteContext) searchFindsDocument(query string) error {
	if tc.doc == nil {
		return errors.New("no stored document")
	}
	index := tc.pl.SearchIndex()
	if index == nil {
		return errors.New("search index is disabled")
	}
	hits, err := index.Search(context.Background(), query, 10)
	if err != nil {
		return err
	}
	for _, hit := range hits {
		if hit.DocumentID == tc.doc.ID {
			return nil
		}
	}
	return fmt.Errorf("document %s not among %d hits for %q", tc.doc.ID, len(hits), query)
}

// scriptedClient serves canned analysis pages keyed by continuation
// token.
type scriptedClient struct {
	mu     sync.Mutex
	starts int
	pages  map[string]*detect.AnalysisPage
}

func (c *scriptedClient) set(token string, page *detect.AnalysisPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[token] = page
}

func (c *scriptedClient) StartAnalysis(_ context.Context, _ detect.S3Object) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return fmt.Sprintf("analysis-%d", c.starts), nil
}

func (c *scriptedClient) GetAnalysis(_ context.Context, _ string, nextToken string) (*detect.AnalysisPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.pages[nextToken]
	if !ok {
		return nil, fmt.Errorf("no scripted response for token %q", nextToken)
	}
	return page, nil
}

type pageRange struct {
	from, to int
	heading  string
}

// districtBlocks lays one heading line and one body line on every page
// of each range.
func districtBlocks(ranges ...pageRange) []geometry.Block {
	var blocks []geometry.Block
	for _, r := range ranges {
		for page := r.from; page <= r.to; page++ {
			headID := fmt.Sprintf("p%d-head", page)
			bodyID := fmt.Sprintf("p%d-body", page)
			blocks = append(blocks, testutil.LineWithWords(headID, r.heading, page,
				testutil.Box(0.1, 0.05, 0.8, 0.03))...)
			blocks = append(blocks, testutil.LineWithWords(bodyID, "candidates for the ward listed below", page,
				testutil.Box(0.1, 0.55, 0.8, 0.03))...)
			blocks = append(blocks, testutil.PageBlock(fmt.Sprintf("p%d", page), page, []string{headID, bodyID}))
		}
	}
	return blocks
}

// sampleStatementBlocks is a one-page statement with a header anchor
// and a two-candidate table.
func sampleStatementBlocks() []geometry.Block {
	lefts := []float64{0.05, 0.40, 0.70}
	blocks := testutil.LineWithWords("h1", "STATEMENT OF PERSONS NOMINATED", 1,
		testutil.Box(0.05, 0.05, 0.6, 0.025))
	blocks = append(blocks, testutil.LineWithWords("h2", "Mid Ulster District Council Election", 1,
		testutil.Box(0.05, 0.10, 0.6, 0.025))...)
	blocks = append(blocks, testutil.CellRow("hdr", 1, 0.45,
		[]string{"Candidate Name", "Description", "Home Address"}, lefts, 0.2)...)
	blocks = append(blocks, testutil.CellRow("r1", 1, 0.52,
		[]string{"McFADDEN Aoife", "Sinn Fein", "1 Mill Street"}, lefts, 0.2)...)
	blocks = append(blocks, testutil.CellRow("r2", 1, 0.59,
		[]string{"BURTON Robert", "Ulster Unionist Party", "2 Mill Street"}, lefts, 0.2)...)
	return blocks
}
