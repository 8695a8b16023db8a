package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polyhistory/internal/domain"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	ctx := context.Background()

	c, err := New(ctx, ClientConfig{Path: filepath.Join(t.TempDir(), "data", "history.db")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)

	if err := c.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	// A second call must leave existing tables alone.
	if err := c.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() second call error = %v", err)
	}
	return NewHistoryStore(c)
}

func ptr[T any](v T) *T { return &v }

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Path: "/var/lib/polyhistory/history.db"})
	want := "/var/lib/polyhistory/history.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New(context.Background(), ClientConfig{Path: " "}); err == nil {
		t.Fatal("New() error = nil for empty path")
	}
}

func TestHistoryStore_InsertEventsReplacesSameDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	first := []domain.EventRow{
		{ID: "e1", Title: "Old", TagLabels: `["Politics"]`, TagSlugs: `["politics"]`, FetchDate: day},
		{ID: "e2", Title: "Two", TagLabels: "[]", TagSlugs: "[]", FetchDate: day},
	}
	if err := s.InsertEvents(ctx, first); err != nil {
		t.Fatalf("InsertEvents() error = %v", err)
	}

	again := []domain.EventRow{{ID: "e1", Title: "New", Volume: 12.5, TagLabels: "[]", TagSlugs: "[]", FetchDate: day}}
	if err := s.InsertEvents(ctx, again); err != nil {
		t.Fatalf("InsertEvents() second call error = %v", err)
	}

	var got []eventRecord
	if err := s.Engine().Asc("id").Find(&got); err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("stored %d events, want 2", len(got))
	}
	if got[0].Title != "New" || got[0].Volume != 12.5 || got[0].FetchDate != "2024-06-01" {
		t.Errorf("e1 = %+v", got[0])
	}
}

func TestHistoryStore_SameIDAcrossDays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, day := range []time.Time{
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	} {
		rows := []domain.MarketRow{{ID: "m1", Question: "Q?", FetchDate: day}}
		if err := s.InsertMarkets(ctx, rows); err != nil {
			t.Fatalf("InsertMarkets(%s) error = %v", day.Format(time.DateOnly), err)
		}
	}

	n, err := s.Engine().Count(new(marketRecord))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("stored %d market snapshots, want 2", n)
	}
}

func TestHistoryStore_InsertMarketsKeepsNulls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []domain.MarketRow{{
		ID:              "m1",
		Question:        "Will it rain?",
		OutcomeYes:      ptr("Yes"),
		OutcomeYesPrice: ptr(0.42),
		LastTradePrice:  0.41,
		FetchDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}}
	if err := s.InsertMarkets(ctx, rows); err != nil {
		t.Fatalf("InsertMarkets() error = %v", err)
	}

	var got []marketRecord
	if err := s.Engine().Find(&got); err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d markets, want 1", len(got))
	}
	m := got[0]
	if m.OutcomeYes == nil || *m.OutcomeYes != "Yes" {
		t.Errorf("OutcomeYes = %v, want Yes", m.OutcomeYes)
	}
	if m.OutcomeNo != nil {
		t.Errorf("OutcomeNo = %q, want NULL", *m.OutcomeNo)
	}
	if m.OutcomeYesPrice == nil || *m.OutcomeYesPrice != 0.42 {
		t.Errorf("OutcomeYesPrice = %v, want 0.42", m.OutcomeYesPrice)
	}
	if m.OutcomeNoPrice != nil {
		t.Errorf("OutcomeNoPrice = %v, want NULL", *m.OutcomeNoPrice)
	}
}

func TestHistoryStore_FailedCallStoresNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// Abort the second insert of the call after the first has gone through.
	if _, err := s.Engine().Exec(`CREATE TRIGGER fail_m2 BEFORE INSERT ON polymarket_markets
		WHEN NEW.id = 'm2' BEGIN SELECT RAISE(ABORT, 'boom'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	rows := []domain.MarketRow{
		{ID: "m1", FetchDate: day},
		{ID: "m2", FetchDate: day},
	}
	err := s.InsertMarkets(ctx, rows)
	if err == nil {
		t.Fatal("InsertMarkets() error = nil, want trigger abort")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want it to carry the abort message", err)
	}

	n, err := s.Engine().Count(new(marketRecord))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("stored %d markets after failed call, want 0", n)
	}
}

func TestHistoryStore_CancelledContextStoresNothing(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows := []domain.EventRow{{ID: "e1", TagLabels: "[]", TagSlugs: "[]", FetchDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}}
	if err := s.InsertEvents(ctx, rows); err == nil {
		t.Fatal("InsertEvents() error = nil for cancelled context")
	}

	n, err := s.Engine().Count(new(eventRecord))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("stored %d events after cancelled call, want 0", n)
	}
}

func TestHistoryStore_RepeatedKeyInCallKeepsLast(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	rows := []domain.MarketRow{
		{ID: "m1", Question: "first", FetchDate: day},
		{ID: "m2", Question: "other", FetchDate: day},
		{ID: "m1", Question: "second", FetchDate: day},
	}
	if err := s.InsertMarkets(context.Background(), rows); err != nil {
		t.Fatalf("InsertMarkets() error = %v", err)
	}

	var got []marketRecord
	if err := s.Engine().Asc("id").Find(&got); err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("stored %d markets, want one per key (2)", len(got))
	}
	if got[0].ID != "m1" || got[0].Question != "second" {
		t.Errorf("m1 = %+v, want the later row", got[0])
	}
}

func TestHistoryStore_EmptyBatchIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertEvents(context.Background(), nil); err != nil {
		t.Errorf("InsertEvents(nil) error = %v", err)
	}
	if err := s.InsertMarkets(context.Background(), []domain.MarketRow{}); err != nil {
		t.Errorf("InsertMarkets(empty) error = %v", err)
	}
}

func TestRecordsCarryFetchDateAsDay(t *testing.T) {
	hk := time.FixedZone("HKT", 8*3600)
	r := toEventRecord(&domain.EventRow{ID: "e1", FetchDate: time.Date(2024, 6, 2, 5, 0, 0, 0, hk)})
	if r.FetchDate != "2024-06-01" {
		t.Errorf("FetchDate = %q, want UTC day 2024-06-01", r.FetchDate)
	}
	if id, date := r.key(); id != "e1" || date != "2024-06-01" {
		t.Errorf("key() = (%q, %q)", id, date)
	}
}
