// Package scheduler runs delivery passes: it leases due recipients, renders
// and sends their next message, and records the outcome.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"confcrm/internal/channel"
	"confcrm/internal/domain"
	"confcrm/internal/observability"
	"confcrm/internal/store"
	"confcrm/internal/util"
)

type Store interface {
	ClaimDueRecipients(ctx context.Context, p store.ClaimParams) ([]store.Claim, error)
	RenewLease(ctx context.Context, p store.LeaseRenewal) error
	RecordSendSuccess(ctx context.Context, in store.SendSuccess) error
	RecordSendFailure(ctx context.Context, in store.SendFailure) error
	FinishedActiveCampaigns(ctx context.Context) ([]string, error)
}

type Contacts interface {
	GetContact(ctx context.Context, id string) (domain.Contact, error)
}

type Sender interface {
	Send(ctx context.Context, m channel.Message) (channel.Receipt, error)
}

// Completer moves a finished campaign to completed through the lifecycle
// controller.
type Completer interface {
	AutoComplete(ctx context.Context, campaignID string) (bool, error)
}

type Config struct {
	WorkerID    string
	BatchSize   int
	Concurrency int
	LeaseTTL    time.Duration
	SendTimeout time.Duration
	MaxAttempts int
	// RecordRetries bounds how often a failed outcome write is retried.
	RecordRetries int
	RecordBackoff func(attempt int) time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = "scheduler"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RecordRetries <= 0 {
		c.RecordRetries = 3
	}
	if c.RecordBackoff == nil {
		c.RecordBackoff = channel.Backoff
	}
	return c
}

type Scheduler struct {
	Store     Store
	Contacts  Contacts
	Sender    Sender
	Completer Completer
	Config    Config
	Now       func() time.Time
}

// PassResult counts what one pass did.
type PassResult struct {
	Claimed   int
	Sent      int
	Retrying  int
	Failed    int
	LeaseLost int
	Completed int
}

type tally struct {
	mu sync.Mutex
	r  PassResult
}

func (t *tally) add(fn func(r *PassResult)) {
	t.mu.Lock()
	fn(&t.r)
	t.mu.Unlock()
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return util.NowUTC()
}

// RunPass delivers everything due now. Each recipient is attempted at most
// once per pass; the pass ends when a claim comes back short.
func (s *Scheduler) RunPass(ctx context.Context) (PassResult, error) {
	cfg := s.Config.withDefaults()
	start := time.Now()
	lease := cfg.WorkerID + ":" + util.NewID("pass")
	var t tally

	for ctx.Err() == nil {
		claims, err := s.Store.ClaimDueRecipients(ctx, store.ClaimParams{
			Lease:    lease,
			Now:      s.now(),
			LeaseTTL: cfg.LeaseTTL,
			Limit:    cfg.BatchSize,
		})
		if err != nil {
			observability.SchedulerPasses.WithLabelValues("error").Inc()
			return t.r, err
		}
		t.add(func(r *PassResult) { r.Claimed += len(claims) })

		var g errgroup.Group
		g.SetLimit(cfg.Concurrency)
		for _, cl := range claims {
			g.Go(func() error {
				s.deliver(ctx, cfg, lease, cl, &t)
				return nil
			})
		}
		_ = g.Wait()

		if len(claims) < cfg.BatchSize {
			break
		}
	}

	if s.Completer != nil && ctx.Err() == nil {
		n, err := s.completeFinished(ctx)
		t.add(func(r *PassResult) { r.Completed = n })
		if err != nil {
			observability.SchedulerPasses.WithLabelValues("error").Inc()
			return t.r, err
		}
	}

	observability.SchedulerPassDuration.Observe(time.Since(start).Seconds())
	observability.SchedulerPasses.WithLabelValues("ok").Inc()
	return t.r, nil
}

func (s *Scheduler) completeFinished(ctx context.Context) (int, error) {
	ids, err := s.Store.FinishedActiveCampaigns(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := s.Completer.AutoComplete(ctx, id)
		if err != nil {
			slog.Error("auto-complete failed", "campaign_id", id, "err", err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Run executes a pass immediately and then on every tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := s.RunPass(ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			slog.Error("scheduler pass failed", "err", err)
		case res.Claimed > 0 || res.Completed > 0:
			slog.Info("scheduler pass",
				"claimed", res.Claimed, "sent", res.Sent, "retrying", res.Retrying,
				"failed", res.Failed, "lease_lost", res.LeaseLost, "completed", res.Completed)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunPeriodic calls fn every interval until ctx ends, logging failures.
func RunPeriodic(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				slog.Error("periodic job failed", "job", name, "err", err)
			}
		}
	}
}
