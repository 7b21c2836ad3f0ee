package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/defimarkets/vault-backend/internal/events"
)

var ErrNotFound = errors.New("ledger: not found")

type AssetRecord struct {
	ID      int64
	Mint    string
	Symbol  string
	Network string
	Active  bool
}

type VaultRecord struct {
	ID         int64
	Address    string
	VaultIndex uint32
	Name       string
}

type FeeConfig struct {
	EntryFeeBps             uint16
	ExitFeeBps              uint16
	VaultCreationFeeUsdc    uint64
	MinManagementFeeBps     uint16
	MaxManagementFeeBps     uint16
	VaultCreatorFeeRatioBps uint16
	PlatformFeeRatioBps     uint16
	UpdatedAt               time.Time
}

// FailedTransactionRecord is one append-only row per failed swap leg. The
// usdc amount is the leg target that feeds the compensating return transfer.
type FailedTransactionRecord struct {
	VaultID    int64
	UserID     int64
	UsdcAmount uint64
	AssetID    int64
	TxHash     string
	Status     string
	Timestamp  time.Time
}

type AuditEntry struct {
	Action      string
	Description string
	Actor       string
	VaultID     int64
	Metadata    map[string]any
	Signature   string
}

// AssetCatalog resolves platform asset rows, keyed by mint and network. The
// orchestrator uses it to tie price failures back to a catalog entry.
type AssetCatalog interface {
	FindAssetByMint(ctx context.Context, mint, network string) (*AssetRecord, error)
}

// VaultRegistry maps an on-chain vault address to its platform row for audit
// linkage.
type VaultRegistry interface {
	FindVaultByAddress(ctx context.Context, address string) (*VaultRecord, error)
}

// FeeScheduleStore persists the platform fee schedule from decoded
// FactoryFeesUpdated events.
type FeeScheduleStore interface {
	UpdateFeesFromEvent(ctx context.Context, ev *events.FactoryFeesUpdated) (*FeeConfig, error)
}

// AuditHistory is append-only.
type AuditHistory interface {
	RecordTransaction(ctx context.Context, entry AuditEntry) error
}

// FailedTransactionLedger is append-only.
type FailedTransactionLedger interface {
	RecordFailure(ctx context.Context, record FailedTransactionRecord) error
}
