package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alanyoungcy/polyhistory/internal/domain"
)

// maxRowsPerStatement bounds the size of one multi-row INSERT so it stays
// well under the server's placeholder and packet limits.
const maxRowsPerStatement = 500

var eventColumns = []string{
	"id", "slug", "title", "start_date", "end_date",
	"volume_24hr", "volume_1wk", "volume_1mo", "volume_1yr", "volume",
	"image", "new", "featured", "liquidity", "neg_risk",
	"tag_labels", "tag_slugs", "fetch_date",
}

var marketColumns = []string{
	"id", "slug", "question", "end_date", "liquidity",
	"start_date", "image", "outcome_yes", "outcome_no",
	"volume_24hr", "volume_1wk", "volume_1mo", "volume_1yr", "volume",
	"new", "featured", "neg_risk", "outcome_yes_price", "outcome_no_price",
	"one_day_price_change", "one_hour_price_change",
	"one_week_price_change", "one_month_price_change",
	"last_trade_price", "fetch_date",
}

// HistoryStore implements domain.HistoryStore using MySQL. Every insert call
// runs in a single transaction.
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
	args := make([][]any, len(rows))
	for i := range rows {
		args[i] = eventArgs(&rows[i])
	}
	if err := s.upsert(ctx, "polymarket_events", eventColumns, args); err != nil {
		return fmt.Errorf("mysql: insert %d events: %w", len(rows), err)
	}
	return nil
}

// InsertMarkets upserts market snapshots keyed by (id, fetch_date).
func (s *HistoryStore) InsertMarkets(ctx context.Context, rows []domain.MarketRow) error {
	if len(rows) == 0 {
		return nil
	}
	args := make([][]any, len(rows))
	for i := range rows {
		args[i] = marketArgs(&rows[i])
	}
	if err := s.upsert(ctx, "polymarket_markets", marketColumns, args); err != nil {
		return fmt.Errorf("mysql: insert %d markets: %w", len(rows), err)
	}
	return nil
}

func (s *HistoryStore) upsert(ctx context.Context, table string, columns []string, rows [][]any) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < len(rows); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(rows))
		chunk := rows[start:end]

		flat := make([]any, 0, len(chunk)*len(columns))
		for _, r := range chunk {
			flat = append(flat, r...)
		}
		if _, err = tx.ExecContext(ctx, upsertSQL(table, columns, len(chunk)), flat...); err != nil {
			return fmt.Errorf("rows %d-%d: %w", start, end-1, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// upsertSQL builds a multi-row INSERT that refreshes every non-key column
// when (id, fetch_date) already exists.
func upsertSQL(table string, columns []string, rows int) string {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
	}
	b.WriteString(" ON DUPLICATE KEY UPDATE ")

	first := true
	for _, col := range columns {
		if col == "id" || col == "fetch_date" {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s = VALUES(%s)", col, col)
	}
	return b.String()
}

func eventArgs(r *domain.EventRow) []any {
	return []any{
		r.ID, r.Slug, r.Title, r.StartDate, r.EndDate,
		r.Volume24hr, r.Volume1wk, r.Volume1mo, r.Volume1yr, r.Volume,
		r.Image, r.New, r.Featured, r.Liquidity, r.NegRisk,
		r.TagLabels, r.TagSlugs, r.FetchDate,
	}
}

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
