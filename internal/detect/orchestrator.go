package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"
)

var (
	// ErrDetectionFailed reports that the service finished the job in the
	// FAILED state. The job is terminal and needs manual re-submission.
	ErrDetectionFailed = errors.New("detection job failed")
	// ErrNotStarted reports a poll against a job that has no service job
	// ID yet.
	ErrNotStarted = errors.New("detection job not started")
	// ErrPollLimit reports that a blocking wait gave up before the job
	// reached a terminal state.
	ErrPollLimit = errors.New("detection poll limit reached")
)

// Options configures the orchestrator.
type Options struct {
	// Bucket is the object storage bucket documents are analyzed from.
	Bucket string
	// KeyPrefix is prepended to stored filenames when deriving keys.
	KeyPrefix string
	// PollInterval is the delay between polls when waiting for completion.
	PollInterval time.Duration
	// MaxPolls bounds a blocking wait.
	MaxPolls int
}

// DefaultOptions returns the polling defaults. Bucket has no default.
func DefaultOptions() Options {
	return Options{
		PollInterval: 5 * time.Second,
		MaxPolls:     60,
	}
}

// Uploader stores a document under a key before analysis starts.
// Satisfied by the blob backends.
type Uploader interface {
	Put(ctx context.Context, key string, r io.Reader) error
}

// Saver persists job snapshots between polls. Satisfied by the store.
type Saver interface {
	SaveJob(ctx context.Context, job *Job) error
}

// Orchestrator drives detection jobs against a Client.
type Orchestrator struct {
	client   Client
	uploader Uploader
	saver    Saver
	opts     Options
	logger   *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithUploader stores the source document before starting analysis.
func WithUploader(u Uploader) Option {
	return func(o *Orchestrator) { o.uploader = u }
}

// WithSaver persists job state after every transition.
func WithSaver(s Saver) Option {
	return func(o *Orchestrator) { o.saver = s }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New returns an Orchestrator. Zero poll options fall back to
// DefaultOptions.
func New(client Client, opts Options, options ...Option) *Orchestrator {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = def.MaxPolls
	}
	o := &Orchestrator{
		client: client,
		opts:   opts,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(o)
	}
	o.logger = o.logger.With("component", "detect")
	return o
}

// Key derives the deterministic storage key for a stored filename.
func (o *Orchestrator) Key(filename string) string {
	return path.Join(o.opts.KeyPrefix, path.Base(filename))
}

// Object locates a stored filename in the configured bucket.
func (o *Orchestrator) Object(filename string) S3Object {
	return S3Object{Bucket: o.opts.Bucket, Key: o.Key(filename)}
}

// StartDetection uploads the job's document and submits it for
// analysis, moving the job to IN_PROGRESS. Starting a job that already
// left NOT_STARTED changes nothing.
func (o *Orchestrator) StartDetection(ctx context.Context, job *Job, src io.Reader) error {
	if job.Status != StatusNotStarted {
		o.logger.Debug("start skipped, job already started",
			"job", job.ID, "status", job.Status)
		return nil
	}

	obj := o.Object(job.Filename)
	if o.uploader != nil && src != nil {
		if err := o.uploader.Put(ctx, obj.Key, src); err != nil {
			return fmt.Errorf("upload %s: %w", obj, err)
		}
	}

	jobID, err := o.client.StartAnalysis(ctx, obj)
	if err != nil {
		return fmt.Errorf("start analysis for %s: %w", obj, err)
	}

	job.JobID = jobID
	job.Status = StatusInProgress
	job.StartedAt = time.Now().UTC()
	job.UpdatedAt = job.StartedAt
	o.logger.Info("detection started", "job", job.ID, "analysis_job", jobID, "object", obj.String())
	return o.save(ctx, job)
}

// UpdateJobStatus polls the service once, following continuation tokens
// until the response is exhausted. Each page's blocks merge into the
// job's accumulated set, deduplicated by block ID. Terminal jobs are
// left untouched. A FAILED result is recorded and returned as
// ErrDetectionFailed.
func (o *Orchestrator) UpdateJobStatus(ctx context.Context, job *Job) error {
	if job.Status.Terminal() {
		o.logger.Debug("poll skipped, job terminal", "job", job.ID, "status", job.Status)
		return nil
	}
	if job.JobID == "" {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotStarted)
	}

	page, err := o.client.GetAnalysis(ctx, job.JobID, "")
	if err != nil {
		return fmt.Errorf("get analysis %s: %w", job.JobID, err)
	}
	added := job.appendBlocks(page.Blocks)
	status, message := page.Status, page.Message

	for token := page.NextToken; token != ""; {
		page, err = o.client.GetAnalysis(ctx, job.JobID, token)
		if err != nil {
			// Keep what accumulated; the next poll resumes and the dedup
			// index absorbs replayed pages.
			return fmt.Errorf("get analysis %s: %w", job.JobID, err)
		}
		added += job.appendBlocks(page.Blocks)
		if page.Status != "" {
			status, message = page.Status, page.Message
		}
		token = page.NextToken
	}

	job.UpdatedAt = time.Now().UTC()
	o.logger.Debug("analysis polled",
		"job", job.ID, "status", status, "blocks_added", added, "blocks_total", len(job.Blocks))

	switch status {
	case StatusSucceeded:
		job.Status = StatusSucceeded
		return o.save(ctx, job)
	case StatusFailed:
		job.Status = StatusFailed
		job.Message = message
		if err := o.save(ctx, job); err != nil {
			return err
		}
		return fmt.Errorf("analysis job %s: %w", job.JobID, ErrDetectionFailed)
	default:
		return o.save(ctx, job)
	}
}

// WaitForCompletion polls until the job is terminal, the context is
// canceled, or MaxPolls is exhausted.
func (o *Orchestrator) WaitForCompletion(ctx context.Context, job *Job) error {
	for attempt := 1; ; attempt++ {
		if err := o.UpdateJobStatus(ctx, job); err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
		if attempt >= o.opts.MaxPolls {
			return fmt.Errorf("job %s still %s after %d polls: %w",
				job.ID, job.Status, attempt, ErrPollLimit)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.opts.PollInterval):
		}
	}
}

func (o *Orchestrator) save(ctx context.Context, job *Job) error {
	if o.saver == nil {
		return nil
	}
	if err := o.saver.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
