package unison_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/model"
	"github.com/imthebreezy247/unison-sub001/internal/testutil"
	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

// fakeSource serves canned iterators per category. Categories with a nil
// iterator report ErrSourceNotPresent.
type fakeSource struct {
	contacts unison.ContactIter
	messages unison.MessageIter
	calls    unison.CallIter
}

func (f *fakeSource) Manifest() model.Manifest { return model.Manifest{DeviceName: "fake"} }

func (f *fakeSource) Contacts(context.Context) (unison.ContactIter, error) {
	if f.contacts == nil {
		return nil, unison.ErrSourceNotPresent
	}
	return f.contacts, nil
}

func (f *fakeSource) Messages(context.Context) (unison.MessageIter, error) {
	if f.messages == nil {
		return nil, unison.ErrSourceNotPresent
	}
	return f.messages, nil
}

func (f *fakeSource) Calls(context.Context) (unison.CallIter, error) {
	if f.calls == nil {
		return nil, unison.ErrSourceNotPresent
	}
	return f.calls, nil
}

func (f *fakeSource) Close() error { return nil }

// blockingMessages signals when iteration starts and then blocks until
// released, keeping a sync run in the Running state.
type blockingMessages struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingMessages) Next(ctx context.Context) (*model.Message, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// seqIDs hands out deterministic run ids.
type seqIDs struct{ n int }

func (s *seqIDs) New() string {
	s.n++
	return fmt.Sprintf("run-%d", s.n)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newCoordinator(t *testing.T, cooldowns map[model.Category]time.Duration) (*unison.Coordinator, unison.Store) {
	t.Helper()
	c, s, _ := newCoordinatorWithClock(t, cooldowns, unison.RealClock{})
	return c, s
}

func newCoordinatorWithClock(t *testing.T, cooldowns map[model.Category]time.Duration, clock unison.Clock) (*unison.Coordinator, unison.Store, *seqIDs) {
	t.Helper()
	s := testutil.NewTestStore(t)
	r := unison.NewReconciler(s, unison.NewNopLogger(), clock, 0)
	ids := &seqIDs{}
	c := unison.NewCoordinator(r, s, unison.NewNopLogger(), clock, ids, cooldowns)
	return c, s, ids
}

func TestCoordinator_StartSync(t *testing.T) {
	ctx := context.Background()

	t.Run("runs a category and records the run", func(t *testing.T) {
		c, s := newCoordinator(t, nil)
		src := &fakeSource{messages: &sliceMessages{msgs: []*model.Message{
			msg("1", "5551234", "hi", baseTime),
		}}}

		res, err := c.StartSync(ctx, model.CategoryMessages, src)
		if err != nil {
			t.Fatalf("StartSync() error = %v", err)
		}
		if res.Imported != 1 {
			t.Errorf("imported = %d, want 1", res.Imported)
		}

		runs, err := s.ListSyncRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListSyncRuns() error = %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("len(runs) = %d, want 1", len(runs))
		}
		if runs[0].Status != "success" || runs[0].Imported != 1 {
			t.Errorf("run = %+v, want success with 1 imported", runs[0])
		}
		if runs[0].OpID != "run-1" {
			t.Errorf("run OpID = %q, want generated id %q", runs[0].OpID, "run-1")
		}
		if runs[0].FinishedAt == nil {
			t.Error("run FinishedAt = nil, want set")
		}
	})

	t.Run("rejects a second concurrent run of the same category", func(t *testing.T) {
		c, _ := newCoordinator(t, nil)
		blocker := &blockingMessages{started: make(chan struct{}), release: make(chan struct{})}
		src := &fakeSource{messages: blocker}

		done := make(chan error, 1)
		go func() {
			_, err := c.StartSync(ctx, model.CategoryMessages, src)
			done <- err
		}()

		<-blocker.started
		if c.State(model.CategoryMessages) != unison.StateRunning {
			t.Errorf("State() = %q, want running", c.State(model.CategoryMessages))
		}

		_, err := c.StartSync(ctx, model.CategoryMessages, src)
		if !errors.Is(err, unison.ErrAlreadyRunning) {
			t.Errorf("second StartSync() error = %v, want ErrAlreadyRunning", err)
		}

		close(blocker.release)
		if err := <-done; err != nil {
			t.Fatalf("first StartSync() error = %v", err)
		}
	})

	t.Run("rejects a run during the cooldown", func(t *testing.T) {
		c, _ := newCoordinator(t, map[model.Category]time.Duration{
			model.CategoryMessages: time.Hour,
		})
		src := &fakeSource{messages: &sliceMessages{}}

		if _, err := c.StartSync(ctx, model.CategoryMessages, src); err != nil {
			t.Fatalf("StartSync() error = %v", err)
		}
		if c.State(model.CategoryMessages) != unison.StateCooldownWait {
			t.Errorf("State() = %q, want cooldown", c.State(model.CategoryMessages))
		}

		_, err := c.StartSync(ctx, model.CategoryMessages, src)
		if !errors.Is(err, unison.ErrCooldownActive) {
			t.Errorf("StartSync() during cooldown error = %v, want ErrCooldownActive", err)
		}
	})

	t.Run("returns to idle after the cooldown elapses", func(t *testing.T) {
		clock := &fakeClock{now: baseTime}
		c, _, _ := newCoordinatorWithClock(t, map[model.Category]time.Duration{
			model.CategoryMessages: time.Hour,
		}, clock)
		src := &fakeSource{messages: &sliceMessages{}}

		if _, err := c.StartSync(ctx, model.CategoryMessages, src); err != nil {
			t.Fatalf("StartSync() error = %v", err)
		}
		if c.State(model.CategoryMessages) != unison.StateCooldownWait {
			t.Fatalf("State() = %q, want cooldown", c.State(model.CategoryMessages))
		}

		clock.Advance(30 * time.Minute)
		if c.State(model.CategoryMessages) != unison.StateCooldownWait {
			t.Errorf("State() mid-cooldown = %q, want cooldown", c.State(model.CategoryMessages))
		}
		_, err := c.StartSync(ctx, model.CategoryMessages, src)
		if !errors.Is(err, unison.ErrCooldownActive) {
			t.Fatalf("StartSync() mid-cooldown error = %v, want ErrCooldownActive", err)
		}
		if !strings.Contains(err.Error(), "30m0s remaining") {
			t.Errorf("cooldown error = %q, want remaining time in message", err)
		}

		clock.Advance(31 * time.Minute)
		if c.State(model.CategoryMessages) != unison.StateIdle {
			t.Errorf("State() after cooldown = %q, want idle", c.State(model.CategoryMessages))
		}
		if _, err := c.StartSync(ctx, model.CategoryMessages, src); err != nil {
			t.Errorf("StartSync() after cooldown error = %v", err)
		}
	})

	t.Run("missing source database yields an empty success", func(t *testing.T) {
		c, s := newCoordinator(t, nil)
		src := &fakeSource{} // no categories present

		res, err := c.StartSync(ctx, model.CategoryCalls, src)
		if err != nil {
			t.Fatalf("StartSync() error = %v", err)
		}
		if res.Imported != 0 || res.Errors != 0 {
			t.Errorf("result = %+v, want empty success", res)
		}

		runs, err := s.ListSyncRuns(ctx, 10)
		if err != nil || len(runs) != 1 || runs[0].Status != "success" {
			t.Errorf("runs = %+v (err %v), want one successful run", runs, err)
		}
	})

	t.Run("unknown category is rejected", func(t *testing.T) {
		c, _ := newCoordinator(t, nil)
		_, err := c.StartSync(ctx, model.Category("bogus"), &fakeSource{})
		if !errors.Is(err, unison.ErrUnknownCategory) {
			t.Errorf("StartSync() error = %v, want ErrUnknownCategory", err)
		}
	})

	t.Run("different categories run concurrently", func(t *testing.T) {
		c, _ := newCoordinator(t, nil)
		blocker := &blockingMessages{started: make(chan struct{}), release: make(chan struct{})}
		src := &fakeSource{
			messages: blocker,
			calls: &sliceCalls{calls: []*model.Call{
				{ID: "1", Identity: "5551234", OccurredAt: baseTime, Direction: model.CallMissed},
			}},
		}

		done := make(chan error, 1)
		go func() {
			_, err := c.StartSync(ctx, model.CategoryMessages, src)
			done <- err
		}()
		<-blocker.started

		// Calls proceed while messages are mid-run.
		res, err := c.StartSync(ctx, model.CategoryCalls, src)
		if err != nil {
			t.Fatalf("StartSync(calls) error = %v", err)
		}
		if res.Imported != 1 {
			t.Errorf("calls imported = %d, want 1", res.Imported)
		}

		close(blocker.release)
		if err := <-done; err != nil {
			t.Fatalf("StartSync(messages) error = %v", err)
		}
	})
}

func TestCoordinator_SyncAll(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, nil)

	src := &fakeSource{
		contacts: &sliceContacts{contacts: []*model.Contact{{ID: "1", GivenName: "Ada"}}},
		messages: &sliceMessages{msgs: []*model.Message{msg("1", "5551234", "hi", baseTime)}},
		// call history intentionally absent
	}

	results, err := c.SyncAll(ctx, src)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[model.CategoryContacts].Imported != 1 {
		t.Errorf("contacts imported = %d, want 1", results[model.CategoryContacts].Imported)
	}
	if results[model.CategoryMessages].Imported != 1 {
		t.Errorf("messages imported = %d, want 1", results[model.CategoryMessages].Imported)
	}
	if results[model.CategoryCalls].Imported != 0 {
		t.Errorf("calls imported = %d, want 0 for missing source", results[model.CategoryCalls].Imported)
	}
}

func TestCoordinator_EmergencyCleanup(t *testing.T) {
	ctx := context.Background()
	c, s := newCoordinator(t, map[model.Category]time.Duration{
		model.CategoryMessages: time.Hour,
	})

	// Seed a duplicate backlog directly: identical identity and content,
	// differing ids, spread beyond any dedup window.
	for i, at := range []time.Time{baseTime, baseTime.Add(24 * time.Hour), baseTime.Add(48 * time.Hour)} {
		m := msg(string(rune('a'+i)), "(941) 518-0701", "dup storm", at)
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("seeding message: %v", err)
		}
	}

	// Put the category in cooldown to prove cleanup ignores the state machine.
	if _, err := c.StartSync(ctx, model.CategoryMessages, &fakeSource{messages: &sliceMessages{}}); err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}

	removed, err := c.EmergencyCleanup(ctx)
	if err != nil {
		t.Fatalf("EmergencyCleanup() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	// The earliest survives and the thread aggregate is repaired.
	msgs, total, err := s.ListMessages(ctx, "(941) 518-0701", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("remaining messages = %d, want 1", total)
	}
	if msgs[0].ID != "a" {
		t.Errorf("surviving message id = %q, want earliest %q", msgs[0].ID, "a")
	}

	thread, err := s.GetThread(ctx, "(941) 518-0701")
	if err != nil || thread == nil {
		t.Fatalf("GetThread() = (%v, %v)", thread, err)
	}
	if thread.LastMessageID != "a" {
		t.Errorf("LastMessageID = %q, want %q after repair", thread.LastMessageID, "a")
	}
	if thread.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1 after repair", thread.UnreadCount)
	}
}
