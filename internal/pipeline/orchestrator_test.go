package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/polyhistory/internal/domain"
	"github.com/alanyoungcy/polyhistory/internal/platform/polymarket"
)

type recordingSink struct {
	events    [][]domain.EventRow
	markets   [][]domain.MarketRow
	eventErr  error
	marketErr error
	callOrder []domain.Entity
}

func (s *recordingSink) InsertEvents(_ context.Context, rows []domain.EventRow) error {
	s.callOrder = append(s.callOrder, domain.EntityEvent)
	if s.eventErr != nil {
		return s.eventErr
	}
	s.events = append(s.events, rows)
	return nil
}

func (s *recordingSink) InsertMarkets(_ context.Context, rows []domain.MarketRow) error {
	s.callOrder = append(s.callOrder, domain.EntityMarket)
	if s.marketErr != nil {
		return s.marketErr
	}
	s.markets = append(s.markets, rows)
	return nil
}

type stubLocks struct {
	err      error
	acquired int
	released int
}

func (l *stubLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type stubArchiver struct {
	keys []domain.SnapshotKey
	err  error
}

func (a *stubArchiver) ArchiveEvents(_ context.Context, key domain.SnapshotKey, _ []polymarket.APIEvent) error {
	a.keys = append(a.keys, key)
	return a.err
}

func (a *stubArchiver) ArchiveMarkets(_ context.Context, key domain.SnapshotKey, _ []polymarket.APIMarket) error {
	a.keys = append(a.keys, key)
	return a.err
}

func newTestOrchestrator(src *scriptedSource, sink domain.HistorySink, opts ...OrchestratorOption) *Orchestrator {
	f, _ := newTestFetcher(src, testConfig(10), nil)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	tr := NewTransformer(discardLogger(), fixedClock(now))
	o := NewOrchestrator(f, tr, sink, discardLogger(), opts...)
	o.newRunID = func() string { return "run-1" }
	return o
}

func TestRunOnce_EventsThenMarkets(t *testing.T) {
	src := &scriptedSource{
		events:  []eventResponse{{page: append(eventPage(0, 3), eventPage(1, 1)...)}},
		markets: []marketResponse{{page: []polymarket.APIMarket{
			{ID: optStr("m1"), Outcomes: polymarket.EncodedList{Raw: `["Yes","No"]`, Valid: true}},
			{ID: optStr("m2")},
		}}},
	}
	sink := &recordingSink{}
	o := newTestOrchestrator(src, sink)

	report, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(sink.callOrder) != 2 || sink.callOrder[0] != domain.EntityEvent || sink.callOrder[1] != domain.EntityMarket {
		t.Errorf("call order = %v, want [event market]", sink.callOrder)
	}
	if report.RunID != "run-1" {
		t.Errorf("RunID = %q", report.RunID)
	}
	if report.Events.Fetched != 4 || report.Events.Duplicates != 1 || report.Events.Inserted != 3 {
		t.Errorf("events report = %+v", report.Events)
	}
	if report.Markets.Fetched != 2 || report.Markets.Inserted != 2 {
		t.Errorf("markets report = %+v", report.Markets)
	}

	wantDate := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if !report.FetchDate.Equal(wantDate) {
		t.Errorf("FetchDate = %v, want %v", report.FetchDate, wantDate)
	}
	for _, row := range sink.events[0] {
		if !row.FetchDate.Equal(wantDate) {
			t.Errorf("event FetchDate = %v", row.FetchDate)
		}
	}
	for _, row := range sink.markets[0] {
		if !row.FetchDate.Equal(wantDate) {
			t.Errorf("market FetchDate = %v", row.FetchDate)
		}
	}
}

func TestRunOnce_TruncatedFetchStillStored(t *testing.T) {
	src := &scriptedSource{
		events: []eventResponse{
			{page: eventPage(0, 10)},
			{err: errors.New("HTTP 500: oops")},
		},
	}
	sink := &recordingSink{}
	o := newTestOrchestrator(src, sink)

	report, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !report.Events.Truncated || report.Events.Reason == "" {
		t.Errorf("events report = %+v, want truncated", report.Events)
	}
	if len(sink.events) != 1 || len(sink.events[0]) != 10 {
		t.Errorf("stored events = %v, want one batch of 10", len(sink.events))
	}
}

func TestRunOnce_MalformedPriceAbortsMarkets(t *testing.T) {
	src := &scriptedSource{
		events:  []eventResponse{{page: eventPage(0, 1)}},
		markets: []marketResponse{{page: []polymarket.APIMarket{
			{ID: optStr("m1"), OutcomePrices: polymarket.EncodedList{Raw: `["abc"]`, Valid: true}},
		}}},
	}
	sink := &recordingSink{}
	o := newTestOrchestrator(src, sink)

	_, err := o.RunOnce(context.Background())
	if !errors.Is(err, domain.ErrMalformedPrice) {
		t.Fatalf("error = %v, want ErrMalformedPrice", err)
	}
	if len(sink.events) != 1 {
		t.Errorf("events batches = %d, want 1", len(sink.events))
	}
	if len(sink.markets) != 0 {
		t.Errorf("markets batches = %d, want 0", len(sink.markets))
	}
}

func TestRunOnce_StoreFailureStopsRun(t *testing.T) {
	boom := errors.New("connection reset")
	src := &scriptedSource{events: []eventResponse{{page: eventPage(0, 1)}}}
	sink := &recordingSink{eventErr: boom}
	o := newTestOrchestrator(src, sink)

	_, err := o.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if len(sink.callOrder) != 1 {
		t.Errorf("sink calls = %v, want markets skipped", sink.callOrder)
	}
}

func TestRunOnce_LockHeldSkips(t *testing.T) {
	src := &scriptedSource{events: []eventResponse{{page: eventPage(0, 1)}}}
	sink := &recordingSink{}
	locks := &stubLocks{err: domain.ErrLockHeld}
	o := newTestOrchestrator(src, sink, WithRunLock(locks, "polyhistory:run", time.Minute))

	report, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !report.Skipped {
		t.Error("Skipped = false, want true")
	}
	if len(src.calls) != 0 || len(sink.callOrder) != 0 {
		t.Errorf("skipped run did work: calls=%v sink=%v", src.calls, sink.callOrder)
	}
}

func TestRunOnce_LockReleased(t *testing.T) {
	src := &scriptedSource{}
	locks := &stubLocks{}
	o := newTestOrchestrator(src, &recordingSink{}, WithRunLock(locks, "polyhistory:run", time.Minute))

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if locks.acquired != 1 || locks.released != 1 {
		t.Errorf("acquired=%d released=%d, want 1/1", locks.acquired, locks.released)
	}
}

func TestRunOnce_ArchiveFailureIsNotFatal(t *testing.T) {
	src := &scriptedSource{
		events:  []eventResponse{{page: eventPage(0, 2)}},
		markets: []marketResponse{{page: marketPage(0, 2)}},
	}
	sink := &recordingSink{}
	arch := &stubArchiver{err: errors.New("bucket missing")}
	o := newTestOrchestrator(src, sink, WithArchiver(arch))

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(arch.keys) != 2 {
		t.Fatalf("archive calls = %d, want 2", len(arch.keys))
	}
	if got := arch.keys[0].Path(); got != "raw/event/2024-06-01/run-1.jsonl" {
		t.Errorf("event path = %q", got)
	}
	if got := arch.keys[1].Path(); got != "raw/market/2024-06-01/run-1.jsonl" {
		t.Errorf("market path = %q", got)
	}
	if len(sink.events) != 1 || len(sink.markets) != 1 {
		t.Errorf("sink batches = %d/%d, want 1/1", len(sink.events), len(sink.markets))
	}
}

func TestRunOnce_CancelledStoresNothing(t *testing.T) {
	src := &scriptedSource{events: []eventResponse{
		{page: eventPage(0, 10)},
		{page: eventPage(10, 10)},
	}}
	sink := &recordingSink{}
	o := newTestOrchestrator(src, sink)

	ctx, cancel := context.WithCancel(context.Background())
	o.fetcher.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := o.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(sink.callOrder) != 0 {
		t.Errorf("sink calls = %v, want none", sink.callOrder)
	}
}

func TestRunLoop_StopsOnCancel(t *testing.T) {
	src := &scriptedSource{}
	sink := &recordingSink{}
	o := newTestOrchestrator(src, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunLoop(ctx, time.Hour) }()

	// The first run happens immediately; wait for it before cancelling.
	deadline := time.After(5 * time.Second)
	for {
		src.mu.Lock()
		n := len(src.calls)
		src.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first run did not happen")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunLoop() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop did not stop")
	}
}

func TestRunOnce_HooksSeeEveryOutcome(t *testing.T) {
	storeErr := errors.New("connection reset")

	tests := []struct {
		name        string
		sink        *recordingSink
		locks       *stubLocks
		wantErr     error
		wantSkipped bool
	}{
		{"success", &recordingSink{}, &stubLocks{}, nil, false},
		{"failure", &recordingSink{marketErr: storeErr}, &stubLocks{}, storeErr, false},
		{"skipped", &recordingSink{}, &stubLocks{err: domain.ErrLockHeld}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{
				events:  []eventResponse{{page: eventPage(0, 1)}},
				markets: []marketResponse{{page: marketPage(0, 1)}},
			}
			var calls []string
			hook := func(name string) RunHook {
				return func(_ context.Context, report RunReport, err error) {
					if report.RunID != "run-1" {
						t.Errorf("hook %s saw RunID %q", name, report.RunID)
					}
					if report.Skipped != tt.wantSkipped {
						t.Errorf("hook %s saw Skipped = %v", name, report.Skipped)
					}
					if !errors.Is(err, tt.wantErr) {
						t.Errorf("hook %s saw err = %v, want %v", name, err, tt.wantErr)
					}
					calls = append(calls, name)
				}
			}
			o := newTestOrchestrator(src, tt.sink,
				WithRunLock(tt.locks, "polyhistory:run", time.Minute),
				WithRunHook(hook("first")),
				WithRunHook(hook("second")),
			)

			_, _ = o.RunOnce(context.Background())

			if !equalStrings(calls, []string{"first", "second"}) {
				t.Errorf("hook calls = %v", calls)
			}
		})
	}
}
