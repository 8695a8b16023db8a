package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyhistory/internal/domain"
	"github.com/alanyoungcy/polyhistory/internal/platform/polymarket"
)

// Transformer turns raw Gamma records into storage rows. It performs no I/O.
// Defaults for absent fields are resolved here and nowhere else. Absent text
// becomes the empty string, absent numbers zero, absent flags false and absent
// dates NULL.
type Transformer struct {
	now    func() time.Time
	logger *slog.Logger
}

// TransformerOption configures a Transformer.
type TransformerOption func(*Transformer)

// WithClock overrides the clock used to stamp the fetch date.
func WithClock(now func() time.Time) TransformerOption {
	return func(t *Transformer) {
		t.now = now
	}
}

// NewTransformer creates a Transformer.
func NewTransformer(logger *slog.Logger, opts ...TransformerOption) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transformer{
		now:    time.Now,
		logger: logger.With(slog.String("component", "transformer")),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FetchDate returns today's fetch date according to the transformer's clock.
func (t *Transformer) FetchDate() time.Time {
	return domain.FetchDate(t.now())
}

// pinned returns a copy of t whose clock always reports date.
func (t *Transformer) pinned(date time.Time) *Transformer {
	c := *t
	c.now = func() time.Time { return date }
	return &c
}

// TransformEvents reshapes events into rows, keeping the first occurrence of
// each id.
func (t *Transformer) TransformEvents(events []polymarket.APIEvent) []domain.EventRow {
	fetchDate := t.FetchDate()
	rows := make([]domain.EventRow, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	duplicates := 0

	for i := range events {
		e := &events[i]
		id := e.ID.Or("")
		if _, ok := seen[id]; ok {
			duplicates++
			continue
		}
		seen[id] = struct{}{}

		labels := make([]string, 0, len(e.Tags))
		slugs := make([]string, 0, len(e.Tags))
		for _, tag := range e.Tags {
			labels = append(labels, tag.Label.Or(""))
			slugs = append(slugs, tag.Slug.Or(""))
		}

		rows = append(rows, domain.EventRow{
			ID:         id,
			Slug:       e.Slug.Or(""),
			Title:      e.Title.Or(""),
			StartDate:  parseDate(e.StartDate),
			EndDate:    parseDate(e.EndDate),
			Volume24hr: e.Volume24hr.Or(0),
			Volume1wk:  e.Volume1wk.Or(0),
			Volume1mo:  e.Volume1mo.Or(0),
			Volume1yr:  e.Volume1yr.Or(0),
			Volume:     e.Volume.Or(0),
			Image:      e.Image.Or(""),
			New:        e.New.Or(false),
			Featured:   e.Featured.Or(false),
			NegRisk:    e.NegRisk.Or(false),
			Liquidity:  e.Liquidity.Or(0),
			TagLabels:  encodeList(labels),
			TagSlugs:   encodeList(slugs),
			FetchDate:  fetchDate,
		})
	}

	if duplicates > 0 {
		t.logger.Info("removed duplicate events", slog.Int("duplicates", duplicates))
	}
	return rows
}

type marketKey struct {
	id        string
	fetchDate time.Time
}

// TransformMarkets reshapes markets into rows, keeping the first occurrence
// of each (id, fetch date). An outcome price that is not a number fails the
// whole call; no rows are returned in that case.
func (t *Transformer) TransformMarkets(markets []polymarket.APIMarket) ([]domain.MarketRow, error) {
	fetchDate := t.FetchDate()
	rows := make([]domain.MarketRow, 0, len(markets))
	seen := make(map[marketKey]struct{}, len(markets))
	duplicates := 0

	for i := range markets {
		m := &markets[i]
		id := m.ID.Or("")
		key := marketKey{id: id, fetchDate: fetchDate}
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}

		outcomes, err := decodeOutcomes(m.Outcomes)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", id, err)
		}
		prices, err := decodeOutcomePrices(m.OutcomePrices)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", id, err)
		}

		rows = append(rows, domain.MarketRow{
			ID:                  id,
			Slug:                m.Slug.Or(""),
			Question:            m.Question.Or(""),
			StartDate:           parseDate(m.StartDate),
			EndDate:             parseDate(m.EndDate),
			Liquidity:           m.Liquidity.Or(0),
			Image:               m.Image.Or(""),
			OutcomeYes:          elementAt(outcomes, 0),
			OutcomeNo:           elementAt(outcomes, 1),
			OutcomeYesPrice:     elementAt(prices, 0),
			OutcomeNoPrice:      elementAt(prices, 1),
			Volume24hr:          m.Volume24hr.Or(0),
			Volume1wk:           m.Volume1wk.Or(0),
			Volume1mo:           m.Volume1mo.Or(0),
			Volume1yr:           m.Volume1yr.Or(0),
			Volume:              m.Volume.Or(0),
			New:                 m.New.Or(false),
			Featured:            m.Featured.Or(false),
			NegRisk:             m.NegRisk.Or(false),
			OneDayPriceChange:   m.OneDayPriceChange.Or(0),
			OneHourPriceChange:  m.OneHourPriceChange.Or(0),
			OneWeekPriceChange:  m.OneWeekPriceChange.Or(0),
			OneMonthPriceChange: m.OneMonthPriceChange.Or(0),
			LastTradePrice:      m.LastTradePrice.Or(0),
			FetchDate:           fetchDate,
		})
	}

	if duplicates > 0 {
		t.logger.Info("removed duplicate markets", slog.Int("duplicates", duplicates))
	}
	return rows, nil
}

// --------------------------------------------------------------------------
// helpers
// --------------------------------------------------------------------------

func elementAt[T any](list []T, i int) *T {
	if i >= len(list) {
		return nil
	}
	v := list[i]
	return &v
}

// encodeList renders a string list as a JSON array.
func encodeList(items []string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "[]"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate returns nil for an absent or unrecognised date.
func parseDate(s polymarket.OptString) *time.Time {
	v := strings.TrimSpace(s.Value)
	if v == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func decodeOutcomes(l polymarket.EncodedList) ([]string, error) {
	if !l.Valid || strings.TrimSpace(l.Raw) == "" {
		return nil, nil
	}
	var outcomes []string
	if err := json.Unmarshal([]byte(l.Raw), &outcomes); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrMalformedOutcomes, l.Raw, err)
	}
	return outcomes, nil
}

// decodeOutcomePrices parses each price as a decimal number. Prices arrive as
// strings ("0.55") but bare JSON numbers are accepted too.
func decodeOutcomePrices(l polymarket.EncodedList) ([]float64, error) {
	if !l.Valid || strings.TrimSpace(l.Raw) == "" {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(l.Raw), &raw); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrMalformedOutcomes, l.Raw, err)
	}

	prices := make([]float64, 0, len(raw))
	for i, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			// Not a string: accept a JSON number, reject anything else.
			var f float64
			if err := json.Unmarshal(item, &f); err != nil {
				return nil, fmt.Errorf("%w: element %d: %s", domain.ErrMalformedPrice, i, item)
			}
			prices = append(prices, f)
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", domain.ErrMalformedPrice, i, err)
		}
		prices = append(prices, f)
	}
	return prices, nil
}
