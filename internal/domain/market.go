package domain

import "time"

// Entity names the two independent pipelines.
type Entity string

const (
	EntityEvent  Entity = "event"
	EntityMarket Entity = "market"
)

// EventRow is one persisted snapshot of a Polymarket event. Rows are keyed by
// (ID, FetchDate) in storage so the same event accumulates a time series.
type EventRow struct {
	ID         string
	Slug       string
	Title      string
	StartDate  *time.Time
	EndDate    *time.Time
	Volume24hr float64
	Volume1wk  float64
	Volume1mo  float64
	Volume1yr  float64
	Volume     float64
	Image      string
	New        bool
	Featured   bool
	NegRisk    bool
	Liquidity  float64
	TagLabels  string // JSON-encoded list, e.g. ["Politics","Elections"]
	TagSlugs   string // JSON-encoded list
	FetchDate  time.Time
}

// MarketRow is one persisted snapshot of a Polymarket market.
type MarketRow struct {
	ID              string
	Slug            string
	Question        string
	StartDate       *time.Time
	EndDate         *time.Time
	Liquidity       float64
	Image           string
	OutcomeYes      *string // nil when the outcome list has no first entry
	OutcomeNo       *string // nil when the outcome list has no second entry
	OutcomeYesPrice *float64
	OutcomeNoPrice  *float64
	Volume24hr      float64
	Volume1wk       float64
	Volume1mo       float64
	Volume1yr       float64
	Volume          float64
	New             bool
	Featured        bool
	NegRisk         bool

	OneDayPriceChange   float64
	OneHourPriceChange  float64
	OneWeekPriceChange  float64
	OneMonthPriceChange float64
	LastTradePrice      float64

	FetchDate time.Time
}

// FetchDate truncates t to its UTC calendar date at 00:00 UTC, whatever zone
// t carries. All rows produced by one transform call share the same fetch
// date.
func FetchDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
