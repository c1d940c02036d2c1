package polla

import (
	"context"
	"io"
	"time"
)

// FetchRequest asks the fetcher for one page under a declared identity.
type FetchRequest struct {
	URL      string
	Identity string
}

// FetchResult is a fetched page plus the metadata recorded in provenance.
type FetchResult struct {
	URL         string
	StatusCode  int
	Body        []byte
	FetchedAt   time.Time
	ContentHash string
	Identity    string
	Duration    time.Duration
}

// Fetcher performs a polite GET.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// SourceAdapter resolves and parses one draw publisher.
type SourceAdapter interface {
	Name() string
	ResolveCandidateURLs(ctx context.Context, limit int) ([]string, error)
	FetchAndParse(ctx context.Context, url string) (SourceResult, error)
}

// JackpotAdapter reads next-draw estimates from one aggregator.
type JackpotAdapter interface {
	Name() string
	URL() string
	FetchJackpot(ctx context.Context) (JackpotRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher notifies downstream consumers that a run is ready.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore keeps a history of run summaries.
type RunStore interface {
	RecordRun(ctx context.Context, summary RunSummary, report ComparisonReport) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
