// Package detect orchestrates asynchronous cloud text detection for
// scanned documents. A detection job moves NOT_STARTED -> IN_PROGRESS ->
// SUCCEEDED or FAILED; results arrive as paginated block lists that are
// merged into one append-only set keyed by block ID.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civiclab/sopn/internal/geometry"
)

// Status is the lifecycle state of a detection job. The values mirror
// the service's JobStatus strings.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// S3Object locates an uploaded document in object storage.
type S3Object struct {
	Bucket string
	Key    string
}

func (o S3Object) String() string {
	return fmt.Sprintf("s3://%s/%s", o.Bucket, o.Key)
}

// AnalysisPage is one page of a paginated analysis response. NextToken
// is empty on the last page.
type AnalysisPage struct {
	Status    Status
	Message   string
	Blocks    []geometry.Block
	NextToken string
}

// Client is the boundary to the detection service. The production
// implementation wraps the Textract API; tests script responses.
type Client interface {
	StartAnalysis(ctx context.Context, doc S3Object) (jobID string, err error)
	GetAnalysis(ctx context.Context, jobID, nextToken string) (*AnalysisPage, error)
}

// Job tracks one detection run for a document. Blocks accumulate across
// polls and are never replaced or dropped once recorded.
type Job struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"document_id"`
	Filename   string           `json:"filename"`
	JobID      string           `json:"job_id"`
	Status     Status           `json:"status"`
	Message    string           `json:"message,omitempty"`
	Blocks     []geometry.Block `json:"blocks,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	UpdatedAt  time.Time        `json:"updated_at"`

	seen map[string]struct{}
}

// NewJob returns a NOT_STARTED job for the given document and stored
// filename.
func NewJob(documentID, filename string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Filename:   filename,
		Status:     StatusNotStarted,
	}
}

// appendBlocks merges blocks into the job, skipping IDs already present.
// It returns the number actually added. The dedup index is rebuilt from
// Blocks when missing so a job reloaded from storage resumes cleanly.
func (j *Job) appendBlocks(blocks []geometry.Block) int {
	if j.seen == nil {
		j.seen = make(map[string]struct{}, len(j.Blocks))
		for _, b := range j.Blocks {
			j.seen[b.ID] = struct{}{}
		}
	}
	added := 0
	for _, b := range blocks {
		if _, ok := j.seen[b.ID]; ok {
			continue
		}
		j.seen[b.ID] = struct{}{}
		j.Blocks = append(j.Blocks, b)
		added++
	}
	return added
}

// Arena builds a block arena from the accumulated blocks.
func (j *Job) Arena() *geometry.Arena {
	return geometry.FromBlocks(j.Blocks)
}

// rawPayload is the persisted shape of a merged analysis result,
// matching the service's response format so stored payloads re-parse
// with the same schema.
type rawPayload struct {
	JobStatus Status           `json:"JobStatus"`
	Blocks    []geometry.Block `json:"Blocks"`
}

// RawPayload renders the merged result as service-shaped JSON.
func (j *Job) RawPayload() ([]byte, error) {
	data, err := json.Marshal(rawPayload{JobStatus: j.Status, Blocks: j.Blocks})
	if err != nil {
		return nil, fmt.Errorf("encode analysis payload: %w", err)
	}
	return data, nil
}

// ParsePayload decodes a persisted analysis payload back into its
// status and block list.
func ParsePayload(data []byte) (Status, []geometry.Block, error) {
	var p rawPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", nil, fmt.Errorf("decode analysis payload: %w", err)
	}
	return p.JobStatus, p.Blocks, nil
}
