package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

const DefaultReconcileConcurrency = 2

const (
	ReconcileOK      = "ok"
	ReconcileSkipped = "skipped"
	ReconcileFailed  = "failed"
)

type ReconcileOutcome struct {
	IntegrationID uuid.UUID `json:"integration_id"`
	Status        string    `json:"status"`
	Indexed       int64     `json:"indexed,omitempty"`
	Synced        int       `json:"synced,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// SyncTrigger is the only entry point that starts syncs. It owns the
// per-integration gate and keeps panics inside the sync boundary.
type SyncTrigger interface {
	Trigger(ctx context.Context, integrationID uuid.UUID, opts SyncOptions) (*SyncResult, error)
	ReconcileOne(ctx context.Context, integrationID uuid.UUID) ReconcileOutcome
	ReconcileAll(ctx context.Context) ([]ReconcileOutcome, error)
}

type syncTrigger struct {
	log             *logger.Logger
	syncs           CatalogSyncService
	gate            SyncGate
	integrationRepo repos.IntegrationRepo
	concurrency     int
}

func NewSyncTrigger(log *logger.Logger, syncs CatalogSyncService, gate SyncGate, integrationRepo repos.IntegrationRepo, concurrency int) SyncTrigger {
	if gate == nil {
		gate = NewLocalSyncGate()
	}
	if concurrency < 1 {
		concurrency = DefaultReconcileConcurrency
	}
	return &syncTrigger{
		log:             log.With("service", "SyncTrigger"),
		syncs:           syncs,
		gate:            gate,
		integrationRepo: integrationRepo,
		concurrency:     concurrency,
	}
}

func (t *syncTrigger) Trigger(ctx context.Context, integrationID uuid.UUID, opts SyncOptions) (res *SyncResult, err error) {
	if integrationID == uuid.Nil {
		return nil, fmt.Errorf("integration_id required: %w", apperrors.ErrInvalidArgument)
	}
	held, release, err := t.gate.Acquire(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			t.log.Error("Sync panic", "integration_id", integrationID, "panic", r)
			err = &syncPanicError{Val: r}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if ferr := t.integrationRepo.MarkSyncFailed(dbctx.Context{Ctx: wctx}, integrationID, err.Error()); ferr != nil {
				t.log.Error("Recording sync panic failed", "integration_id", integrationID, "error", ferr)
			}
			res = nil
		}
	}()
	res, err = t.syncs.FullSync(held, integrationID, opts)
	if err != nil && errors.Is(context.Cause(held), apperrors.ErrSyncLeaseLost) && !errors.Is(err, apperrors.ErrSyncLeaseLost) {
		err = fmt.Errorf("%w: %w", apperrors.ErrSyncLeaseLost, err)
	}
	return res, err
}

// ReconcileOne runs an incremental sync through the gate. A held gate is
// reported as skipped, not failed.
func (t *syncTrigger) ReconcileOne(ctx context.Context, integrationID uuid.UUID) ReconcileOutcome {
	out := ReconcileOutcome{IntegrationID: integrationID}
	res, err := t.Trigger(ctx, integrationID, SyncOptions{Incremental: true})
	switch {
	case errors.Is(err, apperrors.ErrSyncInProgress):
		out.Status = ReconcileSkipped
	case err != nil:
		out.Status = ReconcileFailed
		out.Error = err.Error()
	default:
		out.Status = ReconcileOK
		out.Indexed = res.Indexed
		out.Synced = res.Synced
	}
	return out
}

func (t *syncTrigger) ReconcileAll(ctx context.Context) ([]ReconcileOutcome, error) {
	integrations, err := t.integrationRepo.ListActive(dbctx.Context{Ctx: ctx})
	if err != nil {
		return nil, fmt.Errorf("list active integrations: %w", err)
	}
	outcomes := make([]ReconcileOutcome, len(integrations))
	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i, in := range integrations {
		i, in := i, in
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = ReconcileOutcome{IntegrationID: in.ID, Status: ReconcileSkipped, Error: ctx.Err().Error()}
				return nil
			}
			outcomes[i] = t.ReconcileOne(ctx, in.ID)
			return nil
		})
	}
	_ = g.Wait()

	var ok, skipped, failed int
	for _, o := range outcomes {
		switch o.Status {
		case ReconcileOK:
			ok++
		case ReconcileSkipped:
			skipped++
		default:
			failed++
		}
	}
	t.log.Info("Reconcile finished", "integrations", len(outcomes), "ok", ok, "skipped", skipped, "failed", failed)
	return outcomes, ctx.Err()
}

type syncPanicError struct{ Val any }

func (e *syncPanicError) Error() string { return "sync aborted: internal error" }
