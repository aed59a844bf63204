package unison

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/model"
)

// State is one node of the per-category sync state machine.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateCooldownWait State = "cooldown"
)

// categoryState tracks one category's position in the state machine.
type categoryState struct {
	state        State
	lastFinished time.Time
}

// Coordinator serializes sync runs: at most one active run per category,
// with a per-category cooldown between completed runs. It is the sole
// concurrency-control boundary; the Reconciler behind it need not guard
// against concurrent same-category runs.
type Coordinator struct {
	reconciler *Reconciler
	store      Store
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	cooldowns  map[model.Category]time.Duration

	mu         sync.Mutex
	categories map[model.Category]*categoryState
}

// NewCoordinator creates a Coordinator. cooldowns maps each category to its
// minimum interval between completed runs; categories absent from the map
// get no cooldown.
func NewCoordinator(reconciler *Reconciler, store Store, logger Logger, clock Clock, idgen IDGenerator, cooldowns map[model.Category]time.Duration) *Coordinator {
	states := make(map[model.Category]*categoryState, len(model.Categories()))
	for _, c := range model.Categories() {
		states[c] = &categoryState{state: StateIdle}
	}
	return &Coordinator{
		reconciler: reconciler,
		store:      store,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		cooldowns:  cooldowns,
		categories: states,
	}
}

// State returns the category's current state machine node.
func (c *Coordinator) State(category model.Category) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.categories[category]
	if !ok {
		return StateIdle
	}
	c.expireCooldownLocked(category, cs)
	return cs.state
}

// StartSync runs one category's extraction and reconciliation against the
// given source. It fails synchronously with ErrAlreadyRunning if that
// category is mid-run and with ErrCooldownActive if the category's cooldown
// has not elapsed; neither is retried automatically. The run is recorded in
// the sync history regardless of outcome.
func (c *Coordinator) StartSync(ctx context.Context, category model.Category, source Source) (*ImportResult, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	if err := c.enterRunning(category); err != nil {
		return nil, err
	}

	opID := c.idgen.New()
	startedAt := c.clock.Now()
	runID, err := c.store.CreateSyncRun(ctx, category, opID, startedAt)
	if err != nil {
		c.leaveRunning(category)
		return nil, fmt.Errorf("recording sync run: %w", err)
	}

	res, runErr := c.runCategory(ctx, category, source)
	if res == nil {
		res = &ImportResult{}
	}

	status := "success"
	if runErr != nil {
		status = "error"
	}
	// History must reflect failed and cancelled runs too.
	finishCtx := context.WithoutCancel(ctx)
	if err := c.store.FinishSyncRun(finishCtx, runID, status, *res, c.clock.Now()); err != nil {
		c.logger.Error("finishing sync run record failed", "run", opID, "category", category, "error", err)
	}

	c.leaveRunning(category)

	if runErr != nil {
		return res, runErr
	}
	c.logger.Info("sync complete", "run", opID, "category", category,
		"imported", res.Imported, "skipped", res.Skipped, "errors", res.Errors)
	return res, nil
}

// SyncAll runs every category sequentially against one source, so the
// extractors never interleave against the same container handle. A missing
// category database yields zero records and continues; any other failure
// stops the run. Results are keyed by category.
func (c *Coordinator) SyncAll(ctx context.Context, source Source) (map[model.Category]*ImportResult, error) {
	results := make(map[model.Category]*ImportResult, len(model.Categories()))
	for _, category := range model.Categories() {
		res, err := c.StartSync(ctx, category, source)
		if res != nil {
			results[category] = res
		}
		if err != nil {
			return results, fmt.Errorf("syncing %s: %w", category, err)
		}
	}
	return results, nil
}

// EmergencyCleanup is the out-of-band remediation path for duplicate
// storms accumulated before signature-based dedup existed: it removes
// stored messages sharing a dedup signature (keeping the earliest of each
// group) and repairs every thread aggregate. It ignores the category state
// machine and cooldowns entirely.
func (c *Coordinator) EmergencyCleanup(ctx context.Context) (int64, error) {
	removed, err := c.store.SweepDuplicateMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeping duplicate messages: %w", err)
	}
	if err := c.store.RepairThreads(ctx, nil); err != nil {
		return removed, fmt.Errorf("repairing thread aggregates: %w", err)
	}
	c.logger.Info("emergency cleanup complete", "removed", removed)
	return removed, nil
}

// enterRunning transitions a category Idle -> Running, enforcing mutual
// exclusion and the cooldown policy.
func (c *Coordinator) enterRunning(category model.Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.categories[category]
	c.expireCooldownLocked(category, cs)
	switch cs.state {
	case StateRunning:
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, category)
	case StateCooldownWait:
		remaining := c.cooldowns[category] - c.clock.Now().Sub(cs.lastFinished)
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Errorf("%w: %s (%s remaining)", ErrCooldownActive, category, remaining.Truncate(time.Second))
	}

	cs.state = StateRunning
	return nil
}

// leaveRunning transitions Running -> CooldownWait. Categories without a
// cooldown go straight back to Idle; the rest return to Idle lazily, via
// expireCooldownLocked, on the next State or StartSync.
func (c *Coordinator) leaveRunning(category model.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.categories[category]
	cs.lastFinished = c.clock.Now()

	if c.cooldowns[category] <= 0 {
		cs.state = StateIdle
		return
	}
	cs.state = StateCooldownWait
}

// expireCooldownLocked flips CooldownWait back to Idle once the category's
// cooldown has elapsed on the injected clock. Caller holds c.mu.
func (c *Coordinator) expireCooldownLocked(category model.Category, cs *categoryState) {
	if cs.state != StateCooldownWait {
		return
	}
	cd := c.cooldowns[category]
	if cd <= 0 || c.clock.Now().Sub(cs.lastFinished) >= cd {
		cs.state = StateIdle
	}
}

// runCategory dispatches to the extractor/reconciler pair for the category.
// A missing source database is downgraded to an empty result.
func (c *Coordinator) runCategory(ctx context.Context, category model.Category, source Source) (*ImportResult, error) {
	switch category {
	case model.CategoryContacts:
		seq, err := source.Contacts(ctx)
		if err != nil {
			return c.missingSource(category, err)
		}
		return c.reconciler.ImportContacts(ctx, seq)
	case model.CategoryMessages:
		seq, err := source.Messages(ctx)
		if err != nil {
			return c.missingSource(category, err)
		}
		return c.reconciler.ImportMessages(ctx, seq)
	case model.CategoryCalls:
		seq, err := source.Calls(ctx)
		if err != nil {
			return c.missingSource(category, err)
		}
		return c.reconciler.ImportCalls(ctx, seq)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
}

// missingSource turns ErrSourceNotPresent into an empty successful result
// with a warning; everything else stays fatal for the category run.
func (c *Coordinator) missingSource(category model.Category, err error) (*ImportResult, error) {
	if errors.Is(err, ErrSourceNotPresent) {
		c.logger.Warn("source not present, skipping category", "category", category)
		return &ImportResult{}, nil
	}
	return nil, fmt.Errorf("opening %s source: %w", category, err)
}
