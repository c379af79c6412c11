package service

import (
	"context"

	"pillar.vc/assistant/core/db"
	"pillar.vc/assistant/core/db/queries"
	"pillar.vc/assistant/internal/agenda"
	"pillar.vc/assistant/internal/store"
)

// StoreProvider exposes only the stores needed by a transactional operation.
type StoreProvider interface {
	Agendas() store.AgendaStore
	Watermarks() store.WatermarkStore
	Credentials() store.CredentialStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q *queries.Queries) error {
		stores := store.NewStores(q)
		return fn(stores)
	})
}

// AgendaTx narrows a TxRunner to what the agenda manager needs.
func AgendaTx(r TxRunner) agenda.TxRunner {
	return agendaTx{r: r}
}

type agendaTx struct {
	r TxRunner
}

func (a agendaTx) WithTx(ctx context.Context, fn func(stores agenda.StoreProvider) error) error {
	return a.r.WithTx(ctx, func(sp StoreProvider) error {
		return fn(sp)
	})
}
