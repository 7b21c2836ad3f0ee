package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/defimarkets/vault-backend/internal/events"
)

// Store is the postgres implementation of every ledger interface.
type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// SQL escape: two single quotes inside a string literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			id BIGSERIAL PRIMARY KEY,
			mint TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			network TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			UNIQUE (mint, network)
		);`,
		`CREATE TABLE IF NOT EXISTS vaults (
			id BIGSERIAL PRIMARY KEY,
			address TEXT NOT NULL UNIQUE,
			vault_index BIGINT NOT NULL,
			name TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS fee_config (
			id BIGINT PRIMARY KEY CHECK (id = 1),
			entry_fee_bps INT NOT NULL,
			exit_fee_bps INT NOT NULL,
			vault_creation_fee_usdc BIGINT NOT NULL,
			min_management_fee_bps INT NOT NULL,
			max_management_fee_bps INT NOT NULL,
			vault_creator_fee_ratio_bps INT NOT NULL,
			platform_fee_ratio_bps INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_history (
			id BIGSERIAL PRIMARY KEY,
			action TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			vault_id BIGINT NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			signature TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_history_vault ON audit_history(vault_id);`,
		`CREATE TABLE IF NOT EXISTS failed_transactions (
			id BIGSERIAL PRIMARY KEY,
			vault_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL DEFAULT 0,
			usdc_amount BIGINT NOT NULL,
			asset_id BIGINT NOT NULL DEFAULT 0,
			tx_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failed_transactions_vault ON failed_transactions(vault_id);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger schema: %w", err)
		}
	}
	return nil
}

func (s *Store) FindAssetByMint(ctx context.Context, mint, network string) (*AssetRecord, error) {
	var record AssetRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mint, symbol, network, active FROM assets WHERE mint = ? AND network = ?`,
		mint, network,
	).Scan(&record.ID, &record.Mint, &record.Symbol, &record.Network, &record.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s on %s: %w", mint, network, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find asset by mint: %w", err)
	}
	return &record, nil
}

func (s *Store) FindVaultByAddress(ctx context.Context, address string) (*VaultRecord, error) {
	var record VaultRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, address, vault_index, name FROM vaults WHERE address = ?`,
		address,
	).Scan(&record.ID, &record.Address, &record.VaultIndex, &record.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find vault by address: %w", err)
	}
	return &record, nil
}

func (s *Store) UpdateFeesFromEvent(ctx context.Context, ev *events.FactoryFeesUpdated) (*FeeConfig, error) {
	if ev == nil {
		return nil, fmt.Errorf("update fees: nil event")
	}

	updatedAt := time.Unix(ev.Timestamp, 0).UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fee_config (
			id, entry_fee_bps, exit_fee_bps, vault_creation_fee_usdc,
			min_management_fee_bps, max_management_fee_bps,
			vault_creator_fee_ratio_bps, platform_fee_ratio_bps, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			entry_fee_bps = EXCLUDED.entry_fee_bps,
			exit_fee_bps = EXCLUDED.exit_fee_bps,
			vault_creation_fee_usdc = EXCLUDED.vault_creation_fee_usdc,
			min_management_fee_bps = EXCLUDED.min_management_fee_bps,
			max_management_fee_bps = EXCLUDED.max_management_fee_bps,
			vault_creator_fee_ratio_bps = EXCLUDED.vault_creator_fee_ratio_bps,
			platform_fee_ratio_bps = EXCLUDED.platform_fee_ratio_bps,
			updated_at = EXCLUDED.updated_at`,
		ev.EntryFeeBps, ev.ExitFeeBps, ev.VaultCreationFeeUsdc,
		ev.MinManagementFeeBps, ev.MaxManagementFeeBps,
		ev.VaultCreatorFeeRatioBps, ev.PlatformFeeRatioBps, updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert fee config: %w", err)
	}

	return &FeeConfig{
		EntryFeeBps:             ev.EntryFeeBps,
		ExitFeeBps:              ev.ExitFeeBps,
		VaultCreationFeeUsdc:    ev.VaultCreationFeeUsdc,
		MinManagementFeeBps:     ev.MinManagementFeeBps,
		MaxManagementFeeBps:     ev.MaxManagementFeeBps,
		VaultCreatorFeeRatioBps: ev.VaultCreatorFeeRatioBps,
		PlatformFeeRatioBps:     ev.PlatformFeeRatioBps,
		UpdatedAt:               updatedAt,
	}, nil
}

func (s *Store) RecordTransaction(ctx context.Context, entry AuditEntry) error {
	metadata := "{}"
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = string(encoded)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_history (action, description, actor, vault_id, metadata, signature)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Action, entry.Description, entry.Actor, entry.VaultID, metadata, entry.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

func (s *Store) RecordFailure(ctx context.Context, record FailedTransactionRecord) error {
	status := record.Status
	if status == "" {
		status = "failed"
	}
	createdAt := record.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_transactions (vault_id, user_id, usdc_amount, asset_id, tx_hash, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.VaultID, record.UserID, record.UsdcAmount, record.AssetID, record.TxHash, status, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert failed transaction row: %w", err)
	}
	return nil
}
