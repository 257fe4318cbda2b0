package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/sopn/internal/geometry"
)

type scripted struct {
	page *AnalysisPage
	err  error
}

type fakeClient struct {
	jobID      string
	startErr   error
	startCalls []S3Object
	script     []scripted
	tokens     []string
}

func (f *fakeClient) StartAnalysis(_ context.Context, doc S3Object) (string, error) {
	f.startCalls = append(f.startCalls, doc)
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.jobID, nil
}

func (f *fakeClient) GetAnalysis(_ context.Context, _, nextToken string) (*AnalysisPage, error) {
	f.tokens = append(f.tokens, nextToken)
	if len(f.script) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := f.script[0]
	f.script = f.script[1:]
	return next.page, next.err
}

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Put(_ context.Context, key string, r io.Reader) error {
	if f.err != nil {
		return f.err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.keys = append(f.keys, key)
	return nil
}

type fakeSaver struct {
	statuses []Status
}

func (f *fakeSaver) SaveJob(_ context.Context, job *Job) error {
	f.statuses = append(f.statuses, job.Status)
	return nil
}

func lineBlock(id string) geometry.Block {
	return geometry.Block{BlockType: geometry.BlockTypeLine, ID: id, Text: id, Page: 1}
}

func blockIDs(blocks []geometry.Block) []string {
	ids := make([]string, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.ID)
	}
	return ids
}

func TestObjectKeyDerivation(t *testing.T) {
	o := New(&fakeClient{}, Options{Bucket: "public-sopns", KeyPrefix: "test"})

	obj := o.Object("test_sopn.pdf")
	assert.Equal(t, S3Object{Bucket: "public-sopns", Key: "test/test_sopn.pdf"}, obj)
	assert.Equal(t, "s3://public-sopns/test/test_sopn.pdf", obj.String())

	// stored names are flattened to their base name
	assert.Equal(t, "test/nested.pdf", o.Key("uploads/2026/nested.pdf"))
}

func TestStartDetection(t *testing.T) {
	client := &fakeClient{jobID: "job-123"}
	uploader := &fakeUploader{}
	saver := &fakeSaver{}
	o := New(client, Options{Bucket: "public-sopns", KeyPrefix: "test"},
		WithUploader(uploader), WithSaver(saver))

	job := NewJob("doc-1", "test_sopn.pdf")
	require.Equal(t, StatusNotStarted, job.Status)

	err := o.StartDetection(context.Background(), job, bytes.NewReader([]byte("%PDF-1.4")))
	require.NoError(t, err)

	assert.Equal(t, StatusInProgress, job.Status)
	assert.Equal(t, "job-123", job.JobID)
	assert.False(t, job.StartedAt.IsZero())
	assert.Equal(t, []string{"test/test_sopn.pdf"}, uploader.keys)
	require.Len(t, client.startCalls, 1)
	assert.Equal(t, S3Object{Bucket: "public-sopns", Key: "test/test_sopn.pdf"}, client.startCalls[0])
	assert.Equal(t, []Status{StatusInProgress}, saver.statuses)
}

func TestStartDetectionAlreadyStarted(t *testing.T) {
	client := &fakeClient{jobID: "job-456"}
	o := New(client, Options{Bucket: "public-sopns"})

	job := NewJob("doc-1", "test_sopn.pdf")
	job.Status = StatusInProgress
	job.JobID = "job-123"

	require.NoError(t, o.StartDetection(context.Background(), job, nil))
	assert.Equal(t, "job-123", job.JobID)
	assert.Empty(t, client.startCalls)
}

func TestStartDetectionUploadFailureLeavesJobUnstarted(t *testing.T) {
	client := &fakeClient{jobID: "job-123"}
	o := New(client, Options{Bucket: "public-sopns"},
		WithUploader(&fakeUploader{err: errors.New("s3 unavailable")}))

	job := NewJob("doc-1", "test_sopn.pdf")
	err := o.StartDetection(context.Background(), job, bytes.NewReader([]byte("%PDF-1.4")))

	require.Error(t, err)
	assert.Equal(t, StatusNotStarted, job.Status)
	assert.Empty(t, client.startCalls)
}

func TestUpdateJobStatusMergesTokenPages(t *testing.T) {
	client := &fakeClient{script: []scripted{
		{page: &AnalysisPage{Status: StatusSucceeded, NextToken: "t1",
			Blocks: []geometry.Block{lineBlock("baz"), lineBlock("foo")}}},
		{page: &AnalysisPage{Status: StatusSucceeded, NextToken: "t2",
			Blocks: []geometry.Block{lineBlock("foo"), lineBlock("bar")}}},
		{page: &AnalysisPage{Status: StatusSucceeded,
			Blocks: []geometry.Block{lineBlock("bar"), lineBlock("qux")}}},
	}}
	saver := &fakeSaver{}
	o := New(client, Options{Bucket: "b"}, WithSaver(saver))

	job := NewJob("doc-1", "test_sopn.pdf")
	job.Status = StatusInProgress
	job.JobID = "job-123"

	require.NoError(t, o.UpdateJobStatus(context.Background(), job))

	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, []string{"baz", "foo", "bar", "qux"}, blockIDs(job.Blocks))
	assert.Equal(t, []string{"", "t1", "t2"}, client.tokens)
	assert.Equal(t, []Status{StatusSucceeded}, saver.statuses)
}

func TestUpdateJobStatusResumesAfterTransportFailure(t *testing.T) {
	client := &fakeClient{script: []scripted{
		{page: &AnalysisPage{Status: StatusInProgress, NextToken: "t1",
			Blocks: []geometry.Block{lineBlock("baz"), lineBlock("foo")}}},
		{err: errors.New("connection reset")},
	}}
	o := New(client, Options{Bucket: "b"})

	job := NewJob("doc-1", "test_sopn.pdf")
	job.Status = StatusInProgress
	job.JobID = "job-123"

	require.Error(t, o.UpdateJobStatus(context.Background(), job))
	assert.Equal(t, StatusInProgress, job.Status)
	assert.Equal(t, []string{"baz", "foo"}, blockIDs(job.Blocks))

	// the retry replays the first page; the dedup index absorbs it
	client.script = []scripted{
		{page: &AnalysisPage{Status: StatusSucceeded, NextToken: "t1",
			Blocks: []geometry.Block{lineBlock("baz"), lineBlock("foo")}}},
		{page: &AnalysisPage{Status: StatusSucceeded,
			Blocks: []geometry.Block{lineBlock("bar")}}},
	}
	require.NoError(t, o.UpdateJobStatus(context.Background(), job))
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, []string{"baz", "foo", "bar"}, blockIDs(job.Blocks))
}

func TestUpdateJobStatusTerminalNoOp(t *testing.T) {
	for _, status := range []Status{StatusSucceeded, StatusFailed} {
		client := &fakeClient{}
		o := New(client, Options{Bucket: "b"})

		job := NewJob("doc-1", "test_sopn.pdf")
		job.Status = status
		job.JobID = "job-123"

		require.NoError(t, o.UpdateJobStatus(context.Background(), job))
		assert.Equal(t, status, job.Status)
		assert.Empty(t, client.tokens)
	}
}

func TestUpdateJobStatusFailed(t *testing.T) {
	client := &fakeClient{script: []scripted{
		{page: &AnalysisPage{Status: StatusFailed, Message: "UNSUPPORTED_DOCUMENT"}},
	}}
	saver := &fakeSaver{}
	o := New(client, Options{Bucket: "b"}, WithSaver(saver))

	job := NewJob("doc-1", "test_sopn.pdf")
	job.Status = StatusInProgress
	job.JobID = "job-123"

	err := o.UpdateJobStatus(context.Background(), job)
	require.ErrorIs(t, err, ErrDetectionFailed)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "UNSUPPORTED_DOCUMENT", job.Message)
	assert.Equal(t, []Status{StatusFailed}, saver.statuses)

	// terminal now, further polls change nothing
	require.NoError(t, o.UpdateJobStatus(context.Background(), job))
	assert.Len(t, client.tokens, 1)
}

func TestUpdateJobStatusWithoutJobID(t *testing.T) {
	o := New(&fakeClient{}, Options{Bucket: "b"})
	job := NewJob("doc-1", "test_sopn.pdf")
	job.Status = StatusInProgress

	err := o.UpdateJobStatus(context.Background(), job)
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestWaitForCompletion(t *testing.T) {
	client := &fakeClient{script: []scripted{
		{page: &AnalysisPage{Status: StatusInProgress}},
		{page: &AnalysisPage{Status: StatusInProgress}},
		{page: &AnalysisPage{Status: StatusSucceeded,
			Blocks: []geometry.Block{lineBlock("foo")}}},
	}}
	o := New(client, Options{Bucket: "b", PollInterval: time.Millisecond, MaxPolls: 10})

	job := NewJob("doc-1", "test_sopn.pdf")
	job.Status = StatusInProgress
	job.JobID = "job-123"

	require.NoError(t, o.WaitForCompletion(context.Background(), job))
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Len(t, client.tokens, 3)
}

func TestWaitForCompletionPollLimit(t *testing.T) {
	client := &fakeClient{script: []scripted{
		{page: &AnalysisPage{Status: StatusInProgress}},
		{page: &AnalysisPage{Status: StatusInProgress}},
	}}
	o := New(client, Options{Bucket: "b", PollInterval: time.Millisecond, MaxPolls: 2})

	job := NewJob("doc-1", "test_sopn.pdf")
	job.Status = StatusInProgress
	job.JobID = "job-123"

	err := o.WaitForCompletion(context.Background(), job)
	require.ErrorIs(t, err, ErrPollLimit)
	assert.Equal(t, StatusInProgress, job.Status)
}

func TestRawPayloadRoundTrip(t *testing.T) {
	job := NewJob("doc-1", "test_sopn.pdf")
	job.Status = StatusSucceeded
	job.appendBlocks([]geometry.Block{lineBlock("baz"), lineBlock("foo")})

	data, err := job.RawPayload()
	require.NoError(t, err)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Contains(t, payload, "JobStatus")
	assert.Contains(t, payload, "Blocks")

	status, blocks, err := ParsePayload(data)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)
	assert.Equal(t, []string{"baz", "foo"}, blockIDs(blocks))
}

func TestJobArena(t *testing.T) {
	job := NewJob("doc-1", "test_sopn.pdf")
	job.appendBlocks([]geometry.Block{lineBlock("a"), lineBlock("b"), lineBlock("a")})

	arena := job.Arena()
	assert.Equal(t, 2, arena.Len())
}
