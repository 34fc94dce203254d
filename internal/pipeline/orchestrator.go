package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/cache"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/metrics"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/queue"
)

// Repository is the slice of internal/storagepg.Repository the orchestrator
// needs: recording lookup, the join counter, and the status recompute
// entry point.
type Repository interface {
	GetByID(ctx context.Context, userID, rid string) (*models.Recording, error)
	SetRecordingStatus(ctx context.Context, rid string, s models.RecordingStatus) error
	JoinArrive(ctx context.Context, rid, groupKey string, groupSize int) (bool, error)
	RecomputeStatus(ctx context.Context, rid string) error
}

// Enqueuer is the slice of internal/queue.Dispatcher the orchestrator needs
// -- kept as an interface so chain submission can be tested without a real
// broker connection.
type Enqueuer interface {
	Enqueue(ctx context.Context, name queue.Name, t queue.Task, priority uint8) error
}

// Orchestrator assembles and submits DAG chains, tracking in-flight chains
// in an in-process cache the way the teacher tracks in-flight transcode
// jobs in cache.Cache[*JobInfo].
type Orchestrator struct {
	repo     Repository
	enqueuer Enqueuer
	inFlight *cache.Cache[*Chain]
}

func New(repo Repository, enqueuer Enqueuer) *Orchestrator {
	return &Orchestrator{repo: repo, enqueuer: enqueuer, inFlight: cache.New[*Chain]()}
}

// Submit assembles the chain for rec and enqueues its first step(s),
// returning an opaque chain id. It never blocks on step completion.
// Callers must apply spec.md §4.8 step 2 (blank_record short-circuit)
// before calling Submit.
func (o *Orchestrator) Submit(ctx context.Context, rec *models.Recording, flags EnabledFlags) (string, error) {
	chain := Build(rec, flags)
	chainID := uuid.NewString()
	o.inFlight.Store(chainID, chain)

	metrics.Metrics.Pipeline.ChainsStarted.Inc()
	metrics.Metrics.Pipeline.RecordingsInFlight.Inc()

	first, rest := splitFirst(chain)
	for _, s := range first {
		if err := o.enqueueStep(ctx, rec, chainID, s); err != nil {
			return "", fmt.Errorf("pipeline: submitting first step %s: %w", s.Kind, err)
		}
	}
	_ = rest // later steps are enqueued by each preceding step's completion handler, not here
	logging.Log(logging.Scope(stringer(rec.UserID), stringer(rec.ID)), "chain submitted", "chain_id", chainID, "steps", len(chain.Sequential)+len(chain.Parallel))
	return chainID, nil
}

type stringer string

func (s stringer) String() string { return string(s) }

// SubmitFromStep rebuilds rec's chain from its full enabled flags but
// enqueues only from the named step onward, instead of from the head --
// recordings.retry_stage's "§4.8 pipeline rebuild from that stage" (spec.md
// §6). A step inside the parallel fan-out group restarts the whole group
// (both members must see a fresh join count); the upload launcher restarts
// alone since it already fans out independently per platform.
func (o *Orchestrator) SubmitFromStep(ctx context.Context, rec *models.Recording, flags EnabledFlags, from StepKind) (string, error) {
	chain := Build(rec, flags)
	chainID := uuid.NewString()
	o.inFlight.Store(chainID, chain)
	metrics.Metrics.Pipeline.ChainsStarted.Inc()
	metrics.Metrics.Pipeline.RecordingsInFlight.Inc()

	if chain.UploadStep != nil && chain.UploadStep.Kind == from {
		if err := o.enqueueStep(ctx, rec, chainID, *chain.UploadStep); err != nil {
			return "", fmt.Errorf("pipeline: resubmitting %s: %w", from, err)
		}
		return chainID, nil
	}
	if _, isMember := joinGroupOf(chain, from); isMember {
		for _, s := range chain.Parallel {
			if err := o.enqueueStep(ctx, rec, chainID, s); err != nil {
				return "", fmt.Errorf("pipeline: resubmitting %s: %w", from, err)
			}
		}
		return chainID, nil
	}
	idx := sequentialIndex(chain, from)
	if idx == -1 {
		o.finishChain(chainID)
		return "", fmt.Errorf("pipeline: step %s is not part of recording %s's enabled chain", from, rec.ID)
	}
	if err := o.enqueueStep(ctx, rec, chainID, chain.Sequential[idx]); err != nil {
		return "", fmt.Errorf("pipeline: resubmitting %s: %w", from, err)
	}
	return chainID, nil
}

// splitFirst returns the steps to enqueue immediately (the head of the
// sequential prefix, or the parallel group / upload launcher if the
// sequential prefix is empty) and everything after it.
func splitFirst(c *Chain) (first []Step, rest []Step) {
	if len(c.Sequential) > 0 {
		return c.Sequential[:1], c.Sequential[1:]
	}
	if len(c.Parallel) > 0 {
		return c.Parallel, nil
	}
	if c.UploadStep != nil {
		return []Step{*c.UploadStep}, nil
	}
	return nil, nil
}

func (o *Orchestrator) enqueueStep(ctx context.Context, rec *models.Recording, chainID string, s Step) error {
	payload, err := json.Marshal(map[string]interface{}{
		"recording_id": rec.ID,
		"chain_id":     chainID,
		"platforms":    s.Platforms,
		"join_group":   s.JoinGroup,
	})
	if err != nil {
		return err
	}
	task := queue.Task{
		ID:      uuid.NewString(),
		UserID:  rec.UserID,
		Kind:    string(s.Kind),
		Payload: payload,
	}
	if err := o.enqueuer.Enqueue(ctx, s.Queue, task, 5); err != nil {
		return err
	}
	metrics.Metrics.Queue.Enqueued.WithLabelValues(string(s.Queue)).Inc()
	return nil
}

// CompleteStep advances the chain referenced by chainID past step kind.
// For ordinary sequential steps it enqueues the next one; for a member of
// the parallel fan-out group it records the join arrival and only the last
// arrival recomputes status and enqueues the upload launcher (spec.md
// §4.8's join-point resolution, SPEC_FULL.md §4.8).
func (o *Orchestrator) CompleteStep(ctx context.Context, rec *models.Recording, chainID string, kind StepKind) error {
	chain, ok := o.inFlight.Get(chainID)
	if !ok {
		return apierrors.NewNotFoundError("chain", chainID)
	}

	if joinGroup, isMember := joinGroupOf(chain, kind); isMember {
		isLast, err := o.repo.JoinArrive(ctx, rec.ID, joinGroup, chain.JoinSize())
		if err != nil {
			return err
		}
		if !isLast {
			return nil
		}
		if err := o.repo.RecomputeStatus(ctx, rec.ID); err != nil {
			return err
		}
		return o.maybeEnqueueUpload(ctx, rec, chain, chainID)
	}

	idx := sequentialIndex(chain, kind)
	if idx == -1 {
		return fmt.Errorf("pipeline: step %s is not part of chain %s", kind, chainID)
	}
	if idx+1 < len(chain.Sequential) {
		return o.enqueueStep(ctx, rec, chainID, chain.Sequential[idx+1])
	}
	if len(chain.Parallel) > 0 {
		for _, s := range chain.Parallel {
			if err := o.enqueueStep(ctx, rec, chainID, s); err != nil {
				return err
			}
		}
		return nil
	}
	return o.maybeEnqueueUpload(ctx, rec, chain, chainID)
}

func (o *Orchestrator) maybeEnqueueUpload(ctx context.Context, rec *models.Recording, chain *Chain, chainID string) error {
	if chain.UploadStep == nil {
		o.finishChain(chainID)
		return nil
	}
	if err := o.enqueueStep(ctx, rec, chainID, *chain.UploadStep); err != nil {
		return err
	}
	return nil
}

// FinishChain drops chainID from the in-flight registry. The worker's
// upload-launcher step calls it right after publishing the chain's upload
// tasks, without waiting for those uploads to resolve.
func (o *Orchestrator) FinishChain(chainID string) {
	o.finishChain(chainID)
}

func (o *Orchestrator) finishChain(chainID string) {
	o.inFlight.Remove(chainID)
	metrics.Metrics.Pipeline.RecordingsInFlight.Dec()
}

func joinGroupOf(c *Chain, kind StepKind) (string, bool) {
	for _, s := range c.Parallel {
		if s.Kind == kind {
			return s.JoinGroup, true
		}
	}
	return "", false
}

func sequentialIndex(c *Chain, kind StepKind) int {
	for i, s := range c.Sequential {
		if s.Kind == kind {
			return i
		}
	}
	return -1
}

// RunParallelGroupInProcess executes the chain's parallel group
// synchronously via errgroup, for dry-run/test contexts where steps run as
// goroutines in one process rather than independent dispatcher tasks
// (SPEC_FULL.md §4.8). members must have the same length and order as
// chain.Parallel.
func RunParallelGroupInProcess(ctx context.Context, chain *Chain, members []func(context.Context, Step) error) error {
	if len(members) != len(chain.Parallel) {
		return fmt.Errorf("pipeline: expected %d parallel member funcs, got %d", len(chain.Parallel), len(members))
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range chain.Parallel {
		i, s := i, s
		g.Go(func() error { return members[i](gctx, s) })
	}
	return g.Wait()
}
