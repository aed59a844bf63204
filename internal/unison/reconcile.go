package unison

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/codec"
	"github.com/imthebreezy247/unison-sub001/internal/model"
)

// DefaultDedupWindow is the fallback idempotence window for message dedup
// when the configuration does not set one. Two messages with identical
// signatures whose timestamps differ by more than the window are both kept:
// legitimately repeated identical texts are possible, just rare.
const DefaultDedupWindow = 60 * time.Second

// ImportResult reports the outcome of one category import.
type ImportResult struct {
	Imported int64
	Skipped  int64
	Errors   int64
	// ErrorList holds human-readable messages for each skipped-with-error
	// record. Partial success is still success; this list never turns a
	// completed import into a failure.
	ErrorList []string
}

// Reconciler merges extracted record sequences into the store. It is
// idempotent: re-importing a sequence that is already stored changes
// nothing. It is not safe for concurrent use within one category; the
// Coordinator guarantees single-run-per-category.
type Reconciler struct {
	store  Store
	logger Logger
	clock  Clock
	window time.Duration
}

// NewReconciler creates a Reconciler. A non-positive dedupWindow selects
// DefaultDedupWindow.
func NewReconciler(store Store, logger Logger, clock Clock, dedupWindow time.Duration) *Reconciler {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &Reconciler{
		store:  store,
		logger: logger,
		clock:  clock,
		window: dedupWindow,
	}
}

// ImportContacts merges a contact sequence into the store.
// Contacts already present by source-native id are skipped.
func (r *Reconciler) ImportContacts(ctx context.Context, seq ContactIter) (*ImportResult, error) {
	res := &ImportResult{}

	for {
		c, err := r.nextContact(ctx, seq, res)
		if err != nil {
			return res, err
		}
		if c == nil {
			break
		}

		exists, err := r.store.ContactExists(ctx, c.ID)
		if err != nil {
			return res, fmt.Errorf("checking for existing contact: %w", err)
		}
		if exists {
			res.Skipped++
			continue
		}

		if err := r.store.InsertContact(ctx, c); err != nil {
			return res, fmt.Errorf("inserting contact %s: %w", c.ID, err)
		}
		res.Imported++
	}

	r.logger.Info("contacts import complete",
		"imported", res.Imported, "skipped", res.Skipped, "errors", res.Errors)
	return res, nil
}

// ImportMessages merges a message sequence into the store. A message is
// skipped when its source-native id is already stored, or when its thread
// holds a message with the same dedup signature inside the idempotence
// window (source ids are not stable across re-exports). Each insert updates
// the owning thread transactionally; a post-pass then recomputes the
// aggregates of every touched thread to self-heal drift from earlier
// partial failures.
func (r *Reconciler) ImportMessages(ctx context.Context, seq MessageIter) (*ImportResult, error) {
	res := &ImportResult{}
	touched := make(map[string]struct{})

	for {
		m, err := r.nextMessage(ctx, seq, res)
		if err != nil {
			return res, r.repairAfter(ctx, touched, err)
		}
		if m == nil {
			break
		}

		exists, err := r.store.MessageExists(ctx, m.ID)
		if err != nil {
			return res, r.repairAfter(ctx, touched, fmt.Errorf("checking for existing message: %w", err))
		}
		if exists {
			res.Skipped++
			continue
		}

		sig := codec.DedupSignature(m.Identity, m.Body)
		dup, err := r.store.HasDuplicateMessage(ctx, m.ThreadKey, sig, m.SentAt, r.window)
		if err != nil {
			return res, r.repairAfter(ctx, touched, fmt.Errorf("checking for duplicate message: %w", err))
		}
		if dup {
			r.logger.Debug("duplicate message skipped", "id", m.ID, "thread", m.ThreadKey)
			res.Skipped++
			continue
		}

		if err := r.store.InsertMessage(ctx, m); err != nil {
			return res, r.repairAfter(ctx, touched, fmt.Errorf("inserting message %s: %w", m.ID, err))
		}
		touched[m.ThreadKey] = struct{}{}
		res.Imported++
	}

	if err := r.repairAfter(ctx, touched, nil); err != nil {
		return res, err
	}

	r.logger.Info("messages import complete",
		"imported", res.Imported, "skipped", res.Skipped, "errors", res.Errors,
		"threads", len(touched))
	return res, nil
}

// ImportCalls merges a call-history sequence into the store.
func (r *Reconciler) ImportCalls(ctx context.Context, seq CallIter) (*ImportResult, error) {
	res := &ImportResult{}

	for {
		c, err := r.nextCall(ctx, seq, res)
		if err != nil {
			return res, err
		}
		if c == nil {
			break
		}

		exists, err := r.store.CallExists(ctx, c.ID)
		if err != nil {
			return res, fmt.Errorf("checking for existing call: %w", err)
		}
		if exists {
			res.Skipped++
			continue
		}

		if err := r.store.InsertCall(ctx, c); err != nil {
			return res, fmt.Errorf("inserting call %s: %w", c.ID, err)
		}
		res.Imported++
	}

	r.logger.Info("calls import complete",
		"imported", res.Imported, "skipped", res.Skipped, "errors", res.Errors)
	return res, nil
}

// repairAfter runs the self-healing post-pass over the touched threads.
// Committed inserts stay committed even when the run failed or was
// cancelled; partial progress is valid forward progress here.
func (r *Reconciler) repairAfter(ctx context.Context, touched map[string]struct{}, runErr error) error {
	if len(touched) > 0 {
		keys := make([]string, 0, len(touched))
		for k := range touched {
			keys = append(keys, k)
		}
		// The repair pass must survive the caller's cancellation, so it
		// runs without the (possibly cancelled) request context deadline.
		if err := r.store.RepairThreads(context.WithoutCancel(ctx), keys); err != nil {
			if runErr == nil {
				return fmt.Errorf("repairing thread aggregates: %w", err)
			}
			r.logger.Error("thread repair failed after import error", "error", err)
		}
	}
	return runErr
}

// nextContact advances the sequence, skipping and counting decode errors.
func (r *Reconciler) nextContact(ctx context.Context, seq ContactIter, res *ImportResult) (*model.Contact, error) {
	for {
		c, err := seq.Next(ctx)
		if err == nil {
			return c, nil
		}
		if !r.recordDecodeError(err, res) {
			return nil, err
		}
	}
}

func (r *Reconciler) nextMessage(ctx context.Context, seq MessageIter, res *ImportResult) (*model.Message, error) {
	for {
		m, err := seq.Next(ctx)
		if err == nil {
			return m, nil
		}
		if !r.recordDecodeError(err, res) {
			return nil, err
		}
	}
}

func (r *Reconciler) nextCall(ctx context.Context, seq CallIter, res *ImportResult) (*model.Call, error) {
	for {
		c, err := seq.Next(ctx)
		if err == nil {
			return c, nil
		}
		if !r.recordDecodeError(err, res) {
			return nil, err
		}
	}
}

// recordDecodeError counts a per-record decode failure and reports whether
// iteration should continue. Any other error is fatal for the sequence.
func (r *Reconciler) recordDecodeError(err error, res *ImportResult) bool {
	var decodeErr *RecordDecodeError
	if !errors.As(err, &decodeErr) {
		return false
	}
	res.Errors++
	res.ErrorList = append(res.ErrorList, decodeErr.Error())
	r.logger.Warn("record skipped", "error", decodeErr.Error())
	return true
}
