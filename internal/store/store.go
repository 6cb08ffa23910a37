package store

import (
	"context"
	"time"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// Lease is a time-bounded exclusive claim on a call ID. Only the current
// lease holder may write the call record; an expired lease is assumed
// abandoned and becomes acquirable by another worker.
type Lease struct {
	CallID    string
	Token     string
	ExpiresAt time.Time
}

// Store is the durable keyed storage contract for call state and stage
// artifacts. It is the single source of truth for stage completion; workers
// must re-validate against it rather than caching progress.
//
// Every write is guarded by a lease token, which gives the compare-and-swap
// behavior the pipeline needs: a write under a lost or expired lease is
// rejected with a conflict and must not commit anything.
type Store interface {
	// Create inserts a new call record, failing with a conflict if the call
	// ID already exists.
	Create(ctx context.Context, rec types.CallRecord) error

	// Get returns the current record or a not-found error.
	Get(ctx context.Context, callID string) (types.CallRecord, error)

	// Update replaces the record under a held lease (manual resubmission).
	Update(ctx context.Context, lease Lease, rec types.CallRecord) error

	// CommitStage atomically writes the updated record together with the
	// stage artifact payloads, so status and stage output can never be
	// observed as an inconsistent pair. The final pipeline commit writes
	// both the summary and the aggregated analysis in one step.
	CommitStage(ctx context.Context, lease Lease, rec types.CallRecord, payloads map[types.Stage][]byte) error

	// StagePayload returns the persisted artifact for a stage, with a flag
	// reporting whether the stage has committed at all.
	StagePayload(ctx context.Context, callID string, stage types.Stage) ([]byte, bool, error)

	// Acquire takes the exclusive lease for a call, failing with a conflict
	// while another unexpired lease is held.
	Acquire(ctx context.Context, callID string, ttl time.Duration) (Lease, error)

	// Renew extends a still-valid lease.
	Renew(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error)

	// Release gives the lease up early. Releasing a lost lease is a no-op.
	Release(ctx context.Context, lease Lease) error
}
