package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/pkg/logger"
)

const (
	// DefaultRunInterval is the loop period. Minute-level latency is fine;
	// the hourly default matches the trigger windows.
	DefaultRunInterval = time.Hour

	// DefaultConcurrency bounds simultaneous per-recipient dispatches
	// within one campaign.
	DefaultConcurrency = 8
)

// Orchestrator is the top-level periodic job. Each run it lists active
// campaigns, resolves trigger-eligible recipients, unions them with
// recipients already mid-sequence, and dispatches whatever step the progress
// evaluator finds due. One failing recipient or campaign never blocks the
// others in the same run.
type Orchestrator struct {
	campaigns  CampaignStore
	log        DeliveryLog
	resolver   *TriggerResolver
	dispatcher *Dispatcher

	interval    time.Duration
	concurrency int
	clock       func() time.Time
	lock        RunLock // optional

	runs       int64
	dispatched int64
	errorCount int64
	lastRunAt  atomic.Int64 // unix seconds

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewOrchestrator wires the loop. lock may be nil; then every scheduled tick
// runs unconditionally.
func NewOrchestrator(campaigns CampaignStore, log DeliveryLog, resolver *TriggerResolver, dispatcher *Dispatcher, lock RunLock) *Orchestrator {
	return &Orchestrator{
		campaigns:   campaigns,
		log:         log,
		resolver:    resolver,
		dispatcher:  dispatcher,
		interval:    DefaultRunInterval,
		concurrency: DefaultConcurrency,
		clock:       time.Now,
		lock:        lock,
	}
}

// SetInterval overrides the loop period.
func (o *Orchestrator) SetInterval(d time.Duration) { o.interval = d }

// SetConcurrency overrides the per-campaign dispatch parallelism.
func (o *Orchestrator) SetConcurrency(n int) {
	if n > 0 {
		o.concurrency = n
	}
}

// SetClock injects the time source (tests).
func (o *Orchestrator) SetClock(clock func() time.Time) { o.clock = clock }

// Start launches the loop. Returns an error if already running.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.ctx, o.cancel = context.WithCancel(context.Background())

	o.wg.Add(1)
	go o.loop()
	logger.Info("campaign orchestrator started", "interval", o.interval.String())
	return nil
}

// Stop cancels the loop and waits for the in-flight run to complete.
// In-flight dispatches are never preempted; deactivating a campaign takes
// effect on the next run.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
	logger.Info("campaign orchestrator stopped",
		"runs", atomic.LoadInt64(&o.runs),
		"dispatched", atomic.LoadInt64(&o.dispatched),
		"errors", atomic.LoadInt64(&o.errorCount))
}

// LastRunAt returns when the last run started, for health reporting.
func (o *Orchestrator) LastRunAt() time.Time {
	s := o.lastRunAt.Load()
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0)
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	// First run immediately rather than waiting a full interval.
	o.tick()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.tick()
		}
	}
}

// tick runs one scheduled pass, skipping it when another process holds the
// run lock. The lock only trims duplicate work; the delivery log's
// uniqueness constraint is what actually prevents double sends.
func (o *Orchestrator) tick() {
	if o.lock != nil {
		ok, err := o.lock.Acquire(o.ctx)
		if err != nil {
			logger.Warn("run lock acquire failed, proceeding without it", "error", err)
		} else if !ok {
			logger.Debug("run lock held elsewhere, skipping tick")
			return
		} else {
			defer func() {
				if err := o.lock.Release(context.Background()); err != nil {
					logger.Warn("run lock release failed", "error", err)
				}
			}()
		}
	}

	if err := o.RunOnce(o.ctx, o.clock()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("orchestration run failed", "error", err)
	}
}

// RunOnce executes a single pass over all active campaigns as of the given
// wall-clock time. asOf is fixed for the whole run so trigger windows and
// delay gates are internally consistent however long the pass takes.
func (o *Orchestrator) RunOnce(ctx context.Context, asOf time.Time) error {
	atomic.AddInt64(&o.runs, 1)
	o.lastRunAt.Store(asOf.Unix())
	runID := uuid.New().String()

	active, err := o.campaigns.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}
	logger.Debug("orchestration run started", "run", runID, "campaigns", len(active))

	for i := range active {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.processCampaign(ctx, &active[i], asOf); err != nil {
			atomic.AddInt64(&o.errorCount, 1)
			logger.Error("campaign run failed", "run", runID, "campaign", active[i].ID, "error", err)
		}
	}
	return nil
}

// processCampaign resolves this run's candidates and walks each one.
// Candidates are the trigger-resolved recipients plus everyone with existing
// history, so mid-sequence recipients keep advancing after their trigger
// window has passed.
func (o *Orchestrator) processCampaign(ctx context.Context, c *domain.Campaign, asOf time.Time) error {
	triggered, err := o.resolver.Resolve(ctx, c.Trigger, asOf)
	if err != nil {
		return fmt.Errorf("resolve trigger: %w", err)
	}

	inFlight, err := o.log.Recipients(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list in-flight recipients: %w", err)
	}

	candidates := make(map[string]domain.Recipient, len(triggered)+len(inFlight))
	for _, r := range triggered {
		candidates[r.ID] = r
	}
	for _, r := range inFlight {
		if _, seen := candidates[r.ID]; !seen {
			candidates[r.ID] = r
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Recipients are independent: fan out with bounded parallelism. Errors
	// are isolated per recipient.
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	for _, rcpt := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(rcpt domain.Recipient) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.processRecipient(ctx, c, rcpt, asOf); err != nil {
				atomic.AddInt64(&o.errorCount, 1)
				logger.Warn("recipient attempt failed",
					"campaign", c.ID, "recipient", rcpt.ID, "error", err)
			}
		}(rcpt)
	}
	wg.Wait()
	return nil
}

// processRecipient dispatches the recipient's next eligible step, if any.
// Transient failures are swallowed here: the step stays eligible and the
// next run retries it.
func (o *Orchestrator) processRecipient(ctx context.Context, c *domain.Campaign, rcpt domain.Recipient, asOf time.Time) error {
	history, err := o.log.History(ctx, c.ID, rcpt.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	step := NextEligibleStep(c, history, asOf, o.dispatcher.policy)
	if step == nil {
		return nil
	}

	entry, err := o.dispatcher.Dispatch(ctx, c, step, rcpt)
	if err != nil {
		if errors.Is(err, ErrTemplateUnavailable) {
			logger.Debug("template unavailable, will retry next run",
				"campaign", c.ID, "step", step.ID, "template", step.TemplateID)
			return nil
		}
		return err
	}
	if entry != nil {
		atomic.AddInt64(&o.dispatched, 1)
	}
	return nil
}

// SeedManual dispatches a manual campaign to the given recipients. This is
// the operator action that replaces trigger resolution for manual campaigns;
// recipients already mid-sequence just advance as usual.
func (o *Orchestrator) SeedManual(ctx context.Context, campaignID string, recipients []domain.Recipient) error {
	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if !c.Active {
		return fmt.Errorf("campaign %s is not active", campaignID)
	}

	asOf := o.clock()
	for _, rcpt := range recipients {
		if err := o.processRecipient(ctx, c, rcpt, asOf); err != nil {
			atomic.AddInt64(&o.errorCount, 1)
			logger.Warn("manual seed attempt failed",
				"campaign", c.ID, "recipient", rcpt.ID, "error", err)
		}
	}
	return nil
}
