package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyhistory/internal/domain"
)

const upsertEventSQL = `
	INSERT INTO polymarket_events (
		id, slug, title, start_date, end_date,
		volume_24hr, volume_1wk, volume_1mo, volume_1yr, volume,
		image, new, featured, liquidity, neg_risk,
		tag_labels, tag_slugs, fetch_date
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15,
		$16, $17, $18
	)
	ON CONFLICT (id, fetch_date) DO UPDATE SET
		slug        = EXCLUDED.slug,
		title       = EXCLUDED.title,
		start_date  = EXCLUDED.start_date,
		end_date    = EXCLUDED.end_date,
		volume_24hr = EXCLUDED.volume_24hr,
		volume_1wk  = EXCLUDED.volume_1wk,
		volume_1mo  = EXCLUDED.volume_1mo,
		volume_1yr  = EXCLUDED.volume_1yr,
		volume      = EXCLUDED.volume,
		image       = EXCLUDED.image,
		new         = EXCLUDED.new,
		featured    = EXCLUDED.featured,
		liquidity   = EXCLUDED.liquidity,
		neg_risk    = EXCLUDED.neg_risk,
		tag_labels  = EXCLUDED.tag_labels,
		tag_slugs   = EXCLUDED.tag_slugs`

const upsertMarketSQL = `
	INSERT INTO polymarket_markets (
		id, slug, question, end_date, liquidity,
		start_date, image, outcome_yes, outcome_no,
		volume_24hr, volume_1wk, volume_1mo, volume_1yr, volume,
		new, featured, neg_risk, outcome_yes_price, outcome_no_price,
		one_day_price_change, one_hour_price_change,
		one_week_price_change, one_month_price_change,
		last_trade_price, fetch_date
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9,
		$10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19,
		$20, $21,
		$22, $23,
		$24, $25
	)
	ON CONFLICT (id, fetch_date) DO UPDATE SET
		slug                   = EXCLUDED.slug,
		question               = EXCLUDED.question,
		end_date               = EXCLUDED.end_date,
		liquidity              = EXCLUDED.liquidity,
		start_date             = EXCLUDED.start_date,
		image                  = EXCLUDED.image,
		outcome_yes            = EXCLUDED.outcome_yes,
		outcome_no             = EXCLUDED.outcome_no,
		volume_24hr            = EXCLUDED.volume_24hr,
		volume_1wk             = EXCLUDED.volume_1wk,
		volume_1mo             = EXCLUDED.volume_1mo,
		volume_1yr             = EXCLUDED.volume_1yr,
		volume                 = EXCLUDED.volume,
		new                    = EXCLUDED.new,
		featured               = EXCLUDED.featured,
		neg_risk               = EXCLUDED.neg_risk,
		outcome_yes_price      = EXCLUDED.outcome_yes_price,
		outcome_no_price       = EXCLUDED.outcome_no_price,
		one_day_price_change   = EXCLUDED.one_day_price_change,
		one_hour_price_change  = EXCLUDED.one_hour_price_change,
		one_week_price_change  = EXCLUDED.one_week_price_change,
		one_month_price_change = EXCLUDED.one_month_price_change,
		last_trade_price       = EXCLUDED.last_trade_price`

// HistoryStore implements domain.HistoryStore using PostgreSQL. Every insert
// call runs in a single transaction.
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

	batch := &pgx.Batch{}
	for i := range rows {
		batch.Queue(upsertEventSQL, eventArgs(&rows[i])...)
	}
	if err := sendInTx(ctx, s.pool, batch); err != nil {
		return fmt.Errorf("postgres: insert %d events: %w", len(rows), err)
	}
	return nil
}

// InsertMarkets upserts market snapshots keyed by (id, fetch_date).
func (s *HistoryStore) InsertMarkets(ctx context.Context, rows []domain.MarketRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range rows {
		batch.Queue(upsertMarketSQL, marketArgs(&rows[i])...)
	}
	if err := sendInTx(ctx, s.pool, batch); err != nil {
		return fmt.Errorf("postgres: insert %d markets: %w", len(rows), err)
	}
	return nil
}

// sendInTx executes the batch inside one transaction and rolls back on the
// first failed statement.
func sendInTx(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("batch item %d: %w", i, err)
			}
		}
		return br.Close()
	})
}

// eventArgs returns the positional arguments for upsertEventSQL.
func eventArgs(r *domain.EventRow) []any {
	return []any{
		r.ID, r.Slug, r.Title, r.StartDate, r.EndDate,
		r.Volume24hr, r.Volume1wk, r.Volume1mo, r.Volume1yr, r.Volume,
		r.Image, r.New, r.Featured, r.Liquidity, r.NegRisk,
		r.TagLabels, r.TagSlugs, r.FetchDate,
	}
}

// marketArgs returns the positional arguments for upsertMarketSQL.
func marketArgs(r *domain.MarketRow) []any {
	return []any{
		r.ID, r.Slug, r.Question, r.EndDate, r.Liquidity,
		r.StartDate, r.Image, r.OutcomeYes, r.OutcomeNo,
		r.Volume24hr, r.Volume1wk, r.Volume1mo, r.Volume1yr, r.Volume,
		r.New, r.Featured, r.NegRisk, r.OutcomeYesPrice, r.OutcomeNoPrice,
		r.OneDayPriceChange, r.OneHourPriceChange,
		r.OneWeekPriceChange, r.OneMonthPriceChange,
		r.LastTradePrice, r.FetchDate,
	}
}
