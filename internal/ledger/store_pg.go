package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"grid_bot/internal/models"
	"grid_bot/pkg/db"
)

const (
	createLedgerTable = `CREATE TABLE IF NOT EXISTS grid_ledger (
	symbol     TEXT PRIMARY KEY,
	positions  JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectLedger = `SELECT positions FROM grid_ledger WHERE symbol = $1`
	upsertLedger = `INSERT INTO grid_ledger (symbol, positions, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (symbol) DO UPDATE SET positions = EXCLUDED.positions, updated_at = EXCLUDED.updated_at`
)

// PgStore держит тот же снапшот одной строкой на символ.
type PgStore struct {
	db     db.TxManager
	symbol string
}

func NewPgStore(ctx context.Context, tx db.TxManager, symbol string) (*PgStore, error) {
	if _, err := tx.Conn().Exec(ctx, createLedgerTable); err != nil {
		return nil, fmt.Errorf("PgStore create table: %w", err)
	}
	return &PgStore{db: tx, symbol: symbol}, nil
}

func (s *PgStore) Load(ctx context.Context) (out []models.Position, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.Load: %w", err)
		}
	}()

	var data []byte
	err = s.db.Conn().QueryRow(ctx, selectLedger, s.symbol).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err = sonic.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return models.NormalizePositions(out), nil
}

func (s *PgStore) Save(ctx context.Context, positions []models.Position) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.Save: %w", err)
		}
	}()

	ps := models.ClonePositions(positions)
	if ps == nil {
		ps = []models.Position{}
	}
	models.SortByPriceDesc(ps)

	var data []byte
	data, err = sonic.Marshal(ps)
	if err != nil {
		return err
	}
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, upsertLedger, s.symbol, data)
		return err
	})
}
