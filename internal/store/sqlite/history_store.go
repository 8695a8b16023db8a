package sqlite

import (
	"context"
	"fmt"
	"time"

	"xorm.io/xorm"

	"github.com/alanyoungcy/polyhistory/internal/domain"
)

type eventRecord struct {
	ID         string     `xorm:"'id' pk varchar(64)"`
	FetchDate  string     `xorm:"'fetch_date' pk varchar(10) index"`
	Slug       string     `xorm:"'slug' text"`
	Title      string     `xorm:"'title' text"`
	StartDate  *time.Time `xorm:"'start_date' null"`
	EndDate    *time.Time `xorm:"'end_date' null"`
	Volume24hr float64    `xorm:"'volume_24hr'"`
	Volume1wk  float64    `xorm:"'volume_1wk'"`
	Volume1mo  float64    `xorm:"'volume_1mo'"`
	Volume1yr  float64    `xorm:"'volume_1yr'"`
	Volume     float64    `xorm:"'volume'"`
	Image      string     `xorm:"'image' text"`
	New        bool       `xorm:"'new'"`
	Featured   bool       `xorm:"'featured'"`
	Liquidity  float64    `xorm:"'liquidity'"`
	NegRisk    bool       `xorm:"'neg_risk'"`
	TagLabels  string     `xorm:"'tag_labels' text"`
	TagSlugs   string     `xorm:"'tag_slugs' text"`
}

func (eventRecord) TableName() string { return "polymarket_events" }

func (r eventRecord) key() (string, string) { return r.ID, r.FetchDate }

type marketRecord struct {
	ID              string     `xorm:"'id' pk varchar(64)"`
	FetchDate       string     `xorm:"'fetch_date' pk varchar(10) index"`
	Slug            string     `xorm:"'slug' text"`
	Question        string     `xorm:"'question' text"`
	EndDate         *time.Time `xorm:"'end_date' null"`
	Liquidity       float64    `xorm:"'liquidity'"`
	StartDate       *time.Time `xorm:"'start_date' null"`
	Image           string     `xorm:"'image' text"`
	OutcomeYes      *string    `xorm:"'outcome_yes' text null"`
	OutcomeNo       *string    `xorm:"'outcome_no' text null"`
	Volume24hr      float64    `xorm:"'volume_24hr'"`
	Volume1wk       float64    `xorm:"'volume_1wk'"`
	Volume1mo       float64    `xorm:"'volume_1mo'"`
	Volume1yr       float64    `xorm:"'volume_1yr'"`
	Volume          float64    `xorm:"'volume'"`
	New             bool       `xorm:"'new'"`
	Featured        bool       `xorm:"'featured'"`
	NegRisk         bool       `xorm:"'neg_risk'"`
	OutcomeYesPrice *float64   `xorm:"'outcome_yes_price' null"`
	OutcomeNoPrice  *float64   `xorm:"'outcome_no_price' null"`

	OneDayPriceChange   float64 `xorm:"'one_day_price_change'"`
	OneHourPriceChange  float64 `xorm:"'one_hour_price_change'"`
	OneWeekPriceChange  float64 `xorm:"'one_week_price_change'"`
	OneMonthPriceChange float64 `xorm:"'one_month_price_change'"`
	LastTradePrice      float64 `xorm:"'last_trade_price'"`
}

func (marketRecord) TableName() string { return "polymarket_markets" }

func (r marketRecord) key() (string, string) { return r.ID, r.FetchDate }

// HistoryStore implements domain.HistoryStore on SQLite. Every insert call
// runs in a single transaction; a row whose (id, fetch_date) already exists
// is replaced.
type HistoryStore struct {
	*Client
}

// NewHistoryStore creates a new HistoryStore backed by the given client.
func NewHistoryStore(c *Client) *HistoryStore {
	return &HistoryStore{Client: c}
}

// InsertEvents upserts event snapshots keyed by (id, fetch_date).
func (s *HistoryStore) InsertEvents(ctx context.Context, rows []domain.EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	recs := make([]eventRecord, len(rows))
	for i := range rows {
		recs[i] = toEventRecord(&rows[i])
	}
	if err := replaceRows(ctx, s.Client, recs); err != nil {
		return fmt.Errorf("sqlite: insert %d events: %w", len(rows), err)
	}
	return nil
}

// InsertMarkets upserts market snapshots keyed by (id, fetch_date).
func (s *HistoryStore) InsertMarkets(ctx context.Context, rows []domain.MarketRow) error {
	if len(rows) == 0 {
		return nil
	}
	recs := make([]marketRecord, len(rows))
	for i := range rows {
		recs[i] = toMarketRecord(&rows[i])
	}
	if err := replaceRows(ctx, s.Client, recs); err != nil {
		return fmt.Errorf("sqlite: insert %d markets: %w", len(rows), err)
	}
	return nil
}

type keyed interface {
	key() (id, fetchDate string)
}

// replaceRows deletes any stored row with the same key and inserts the new
// one, in order, inside one transaction.
func replaceRows[T keyed](ctx context.Context, c *Client, recs []T) error {
	return c.inTx(ctx, func(session *xorm.Session) error {
		for i := range recs {
			id, date := recs[i].key()
			if _, err := session.Where("id = ? AND fetch_date = ?", id, date).Delete(new(T)); err != nil {
				return fmt.Errorf("row %d: delete %s: %w", i, id, err)
			}
			if _, err := session.Insert(&recs[i]); err != nil {
				return fmt.Errorf("row %d: insert %s: %w", i, id, err)
			}
		}
		return nil
	})
}

func formatFetchDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func toEventRecord(r *domain.EventRow) eventRecord {
	return eventRecord{
		ID:         r.ID,
		FetchDate:  formatFetchDate(r.FetchDate),
		Slug:       r.Slug,
		Title:      r.Title,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		Volume24hr: r.Volume24hr,
		Volume1wk:  r.Volume1wk,
		Volume1mo:  r.Volume1mo,
		Volume1yr:  r.Volume1yr,
		Volume:     r.Volume,
		Image:      r.Image,
		New:        r.New,
		Featured:   r.Featured,
		Liquidity:  r.Liquidity,
		NegRisk:    r.NegRisk,
		TagLabels:  r.TagLabels,
		TagSlugs:   r.TagSlugs,
	}
}

func toMarketRecord(r *domain.MarketRow) marketRecord {
	return marketRecord{
		ID:                  r.ID,
		FetchDate:           formatFetchDate(r.FetchDate),
		Slug:                r.Slug,
		Question:            r.Question,
		EndDate:             r.EndDate,
		Liquidity:           r.Liquidity,
		StartDate:           r.StartDate,
		Image:               r.Image,
		OutcomeYes:          r.OutcomeYes,
		OutcomeNo:           r.OutcomeNo,
		Volume24hr:          r.Volume24hr,
		Volume1wk:           r.Volume1wk,
		Volume1mo:           r.Volume1mo,
		Volume1yr:           r.Volume1yr,
		Volume:              r.Volume,
		New:                 r.New,
		Featured:            r.Featured,
		NegRisk:             r.NegRisk,
		OutcomeYesPrice:     r.OutcomeYesPrice,
		OutcomeNoPrice:      r.OutcomeNoPrice,
		OneDayPriceChange:   r.OneDayPriceChange,
		OneHourPriceChange:  r.OneHourPriceChange,
		OneWeekPriceChange:  r.OneWeekPriceChange,
		OneMonthPriceChange: r.OneMonthPriceChange,
		LastTradePrice:      r.LastTradePrice,
	}
}
