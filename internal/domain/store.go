package domain

import "context"

// HistorySink persists transformed rows. Each call is atomic: either every
// row is committed or an error is returned and nothing is.
type HistorySink interface {
	InsertEvents(ctx context.Context, rows []EventRow) error
	InsertMarkets(ctx context.Context, rows []MarketRow) error
}

// HistoryStore is a HistorySink whose tables can be bootstrapped and whose
// connection must be released by the caller.
type HistoryStore interface {
	HistorySink
	EnsureSchema(ctx context.Context) error
	Close()
}
