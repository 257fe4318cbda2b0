// Package pipeline wires the parsing stages into one orchestrated run:
// convert, text acquisition (embedded layer or cloud detection), page
// geometry, ballot segmentation, table reconstruction, persistence and
// search indexing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/civiclab/sopn/internal/blob"
	"github.com/civiclab/sopn/internal/config"
	"github.com/civiclab/sopn/internal/convert"
	"github.com/civiclab/sopn/internal/detect"
	"github.com/civiclab/sopn/internal/search"
	"github.com/civiclab/sopn/internal/segment"
	"github.com/civiclab/sopn/internal/store"
	"github.com/civiclab/sopn/internal/table"
)

// DefaultMinTextChars is the per-page character count above which a PDF's
// embedded text layer is trusted and cloud detection is skipped.
const DefaultMinTextChars = 50

// BlobConfig selects and parameterizes the object storage backend.
type BlobConfig struct {
	Backend string // "local" or "s3"
	Dir     string
	Bucket  string
	Region  string
}

// DetectConfig parameterizes the cloud detection path.
type DetectConfig struct {
	Enabled bool
	Region  string
	Options detect.Options
}

// Config holds the component configuration for a pipeline.
type Config struct {
	Store        store.Config
	Blob         BlobConfig
	Detect       DetectConfig
	Segment      segment.Options
	Table        table.Options
	PandocPath   string
	SearchIndex  string // bleve index path, empty disables indexing
	Country      string
	MinTextChars int
	// ForceDetection sends documents to cloud detection even when an
	// embedded text layer exists.
	ForceDetection bool
}

// DefaultConfig returns a pipeline config with component defaults and
// local storage.
func DefaultConfig() Config {
	cfg := config.DefaultConfig()
	return FromConfig(&cfg)
}

// FromConfig maps the application configuration onto pipeline component
// settings.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Store: cfg.ToStoreConfig(),
		Blob: BlobConfig{
			Backend: cfg.Blob.Backend,
			Dir:     cfg.Blob.Dir,
			Bucket:  cfg.Blob.Bucket,
			Region:  cfg.Blob.Region,
		},
		Detect: DetectConfig{
			Enabled: cfg.Textract.Enabled,
			Region:  cfg.Textract.Region,
			Options: cfg.ToDetectOptions(),
		},
		Segment:      cfg.ToSegmentOptions(),
		Table:        cfg.ToTableOptions(),
		PandocPath:   cfg.Convert.Pandoc,
		SearchIndex:  cfg.Search.IndexPath,
		Country:      cfg.Election.Country,
		MinTextChars: DefaultMinTextChars,
	}
}

// Builder constructs a Pipeline with fluent configuration. Dependencies
// not supplied explicitly are built from the config.
type Builder struct {
	cfg    Config
	store  *store.Store
	blobs  blob.System
	client detect.Client
	index  *search.Index
	logger *slog.Logger
}

// NewBuilder creates a pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole component configuration from the
// application config.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	if cfg != nil {
		b.cfg = FromConfig(cfg)
	}
	return b
}

// WithStore injects an already-open store. The pipeline will not close
// it.
func (b *Builder) WithStore(s *store.Store) *Builder {
	b.store = s
	return b
}

// WithBlob injects the object storage backend.
func (b *Builder) WithBlob(bs blob.System) *Builder {
	b.blobs = bs
	return b
}

// WithDetectClient injects the detection client, replacing the AWS
// Textract client. Tests use a scripted fake here.
func (b *Builder) WithDetectClient(c detect.Client) *Builder {
	b.client = c
	if c != nil {
		b.cfg.Detect.Enabled = true
	}
	return b
}

// WithSearchIndex injects an open search index. The pipeline will not
// close it.
func (b *Builder) WithSearchIndex(ix *search.Index) *Builder {
	b.index = ix
	return b
}

// WithLogger sets the pipeline logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// WithForceDetection routes documents to cloud detection even when an
// embedded text layer exists.
func (b *Builder) WithForceDetection(force bool) *Builder {
	b.cfg.ForceDetection = force
	return b
}

// WithMinTextChars sets the embedded-text-layer threshold.
func (b *Builder) WithMinTextChars(n int) *Builder {
	if n > 0 {
		b.cfg.MinTextChars = n
	}
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Pipeline runs documents through the parsing stages.
type Pipeline struct {
	cfg    Config
	store  *store.Store
	blobs  blob.System
	orch   *detect.Orchestrator
	seg    *segment.Segmenter
	tables *table.Reconstructor
	conv   *convert.Converter
	index  *search.Index
	logger *slog.Logger

	ownsStore bool
	ownsIndex bool
}

// Build initializes the pipeline components. The context covers AWS
// client construction when cloud backends are configured.
func (b *Builder) Build(ctx context.Context) (*Pipeline, error) {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline")

	p := &Pipeline{
		cfg:    b.cfg,
		store:  b.store,
		blobs:  b.blobs,
		index:  b.index,
		seg:    segment.New(b.cfg.Segment),
		tables: table.New(b.cfg.Table),
		conv:   convert.New(convert.WithPandoc(b.cfg.PandocPath), convert.WithLogger(logger)),
		logger: logger,
	}

	if p.store == nil {
		st, err := store.Open(b.cfg.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		p.store = st
		p.ownsStore = true
	}

	if p.blobs == nil {
		bs, err := buildBlob(ctx, b.cfg.Blob, logger)
		if err != nil {
			p.closeOwned()
			return nil, err
		}
		p.blobs = bs
	}

	if b.cfg.Detect.Enabled {
		client := b.client
		if client == nil {
			tc, err := detect.NewTextractClient(ctx, b.cfg.Detect.Region)
			if err != nil {
				p.closeOwned()
				return nil, fmt.Errorf("init detection client: %w", err)
			}
			client = tc
		}
		p.orch = detect.New(&countingClient{inner: client}, b.cfg.Detect.Options,
			detect.WithUploader(p.blobs),
			detect.WithSaver(p.store),
			detect.WithLogger(logger))
	}

	if p.index == nil && b.cfg.SearchIndex != "" {
		ix, err := search.Open(b.cfg.SearchIndex, search.WithLogger(logger))
		if err != nil {
			p.closeOwned()
			return nil, fmt.Errorf("open search index: %w", err)
		}
		p.index = ix
		p.ownsIndex = true
	}

	return p, nil
}

func buildBlob(ctx context.Context, cfg BlobConfig, logger *slog.Logger) (blob.System, error) {
	switch cfg.Backend {
	case "s3":
		bs, err := blob.NewS3(ctx, cfg.Bucket, cfg.Region, logger)
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return bs, nil
	case "", "local":
		bs, err := blob.NewLocal(cfg.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// Store exposes the pipeline's store for callers that share it, such as
// the HTTP server's read endpoints.
func (p *Pipeline) Store() *store.Store { return p.store }

// SearchIndex exposes the search index, nil when indexing is disabled.
func (p *Pipeline) SearchIndex() *search.Index { return p.index }

// DetectionEnabled reports whether a detection client is configured.
func (p *Pipeline) DetectionEnabled() bool { return p.orch != nil }

// Close releases owned resources. Injected dependencies stay open.
func (p *Pipeline) Close() error {
	var firstErr error
	if p.ownsIndex && p.index != nil {
		if err := p.index.Close(); err != nil {
			firstErr = err
		}
		p.index = nil
	}
	if p.ownsStore && p.store != nil {
		if err := p.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.store = nil
	}
	return firstErr
}

func (p *Pipeline) closeOwned() {
	if p.ownsStore && p.store != nil {
		_ = p.store.Close()
		p.store = nil
	}
	if p.ownsIndex && p.index != nil {
		_ = p.index.Close()
		p.index = nil
	}
}

// Info returns key pipeline properties for diagnostics.
func (p *Pipeline) Info() map[string]any {
	return map[string]any{
		"storage_driver":  p.cfg.Store.Driver,
		"blob_backend":    p.cfg.Blob.Backend,
		"detect_enabled":  p.orch != nil,
		"search_enabled":  p.index != nil,
		"force_detection": p.cfg.ForceDetection,
		"min_text_chars":  p.cfg.MinTextChars,
		"country":         p.cfg.Country,
		"heading_band":    p.cfg.Segment.HeadingBand,
		"similarity":      p.cfg.Segment.SimilarityThreshold,
		"row_tolerance":   p.cfg.Table.RowTolerance,
		"column_gap":      p.cfg.Table.ColumnGapThreshold,
	}
}

// countingClient wraps a detection client and counts service calls.
type countingClient struct {
	inner detect.Client
}

func (c *countingClient) StartAnalysis(ctx context.Context, doc detect.S3Object) (string, error) {
	return c.inner.StartAnalysis(ctx, doc)
}

func (c *countingClient) GetAnalysis(ctx context.Context, jobID, nextToken string) (*detect.AnalysisPage, error) {
	detectionPolls.Inc()
	return c.inner.GetAnalysis(ctx, jobID, nextToken)
}

var errNilDocument = errors.New("nil document")
