package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/defimarkets/vault-backend/internal/cache"
	"github.com/defimarkets/vault-backend/internal/config"
	"github.com/defimarkets/vault-backend/internal/events"
	"github.com/defimarkets/vault-backend/internal/jupiter"
	"github.com/defimarkets/vault-backend/internal/ledger"
	"github.com/defimarkets/vault-backend/internal/retry"
	"github.com/defimarkets/vault-backend/internal/tasks"
)

const (
	maxBps          = uint64(10_000)
	sharePriceScale = uint64(1_000_000)
)

// ChainClient is the slice of ledger RPC the orchestrator needs. The
// production implementation wraps *rpc.Client; tests substitute fakes.
type ChainClient interface {
	AccountInfo(ctx context.Context, account solana.PublicKey) (owner solana.PublicKey, data []byte, err error)
	LamportsBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	TokenAccountBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
	Transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
	LookupTables(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error)
}

// SwapAPI is the aggregator surface used per leg. *jupiter.Client satisfies
// it.
type SwapAPI interface {
	Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (*jupiter.Quote, error)
	SwapInstructions(ctx context.Context, quote *jupiter.Quote, userPublicKey, destinationTokenAccount solana.PublicKey) (*jupiter.InstructionSet, error)
	SpotPrice(ctx context.Context, mint solana.PublicKey) (float64, error)
}

// Collaborators are the outbound stores the engine writes to. Any nil field
// is skipped; the engine runs fine with no persistence attached.
type Collaborators struct {
	Assets   ledger.AssetCatalog
	Vaults   ledger.VaultRegistry
	Fees     ledger.FeeScheduleStore
	Audit    ledger.AuditHistory
	Failures ledger.FailedTransactionLedger

	Invalidator *cache.Invalidator
	Queue       *tasks.Queue
}

// Service drives admin swap orchestration and transaction decoding against
// one vault program deployment. No process-wide state: the RPC endpoint,
// signer and program handle all arrive through the constructor.
type Service struct {
	cfg    config.EngineConfig
	chain  ChainClient
	swaps  SwapAPI
	signer solana.PrivateKey
	collab Collaborators

	decoder *events.Decoder
	retries *retry.Policy
	logger  *slog.Logger
}

func New(cfg config.EngineConfig, chain ChainClient, swaps SwapAPI, signer solana.PrivateKey, collab Collaborators, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		chain:   chain,
		swaps:   swaps,
		signer:  signer,
		collab:  collab,
		decoder: events.NewDecoder(),
		retries: retry.NewPolicy(cfg.RetryBaseDelay, logger),
		logger:  logger,
	}
}

// NewFromConfig wires the production service: RPC client, Jupiter client and
// the keypair from disk.
func NewFromConfig(cfg config.EngineConfig, collab Collaborators, logger *slog.Logger) (*Service, error) {
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", cfg.KeypairPath, err)
	}

	chain := NewRPCChain(rpc.New(cfg.RPCURL), cfg.Commitment, cfg.MaxRetries)
	swaps := jupiter.NewClient(cfg.JupiterBaseURL, cfg.JupiterPriceURL, cfg.HTTPTimeout, cfg.ExcludeDexes)
	return New(cfg, chain, swaps, signer, collab, logger), nil
}

func (s *Service) Operator() solana.PublicKey { return s.signer.PublicKey() }

// waitForConfirmation polls signature statuses until the transaction is
// confirmed, fails on-chain, or the bounded polling window closes.
func (s *Service) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	interval := s.cfg.ConfirmPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	attempts := s.cfg.ConfirmPollAttempts
	if attempts <= 0 {
		attempts = 30
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := s.chain.SignatureStatus(ctx, sig)
		if err != nil || status == nil {
			continue
		}
		if status.Err != nil {
			return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
		}
		if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return nil
		}
	}
	return fmt.Errorf("transaction %s not confirmed after %d polls", sig, attempts)
}

// checkExecution re-fetches a confirmed transaction and inspects its
// execution error. Inclusion does not imply success. A transaction that
// cannot be retrieved inside the polling window counts as successful: the
// confirmation already landed and retrieval lag is an RPC indexing artifact.
func (s *Service) checkExecution(ctx context.Context, sig solana.Signature) error {
	interval := s.cfg.FetchTxInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := s.cfg.FetchTxAttempts
	if attempts <= 0 {
		attempts = 10
	}

	for i := 0; i < attempts; i++ {
		result, err := s.chain.Transaction(ctx, sig)
		if err == nil && result != nil {
			if result.Meta != nil && result.Meta.Err != nil {
				return fmt.Errorf("transaction %s reverted: %v", sig, result.Meta.Err)
			}
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.logger.Warn("transaction confirmed but not yet retrievable, treating as success",
		"signature", sig.String(),
	)
	return nil
}

// recordFailure appends a failed-transaction row off the critical path.
func (s *Service) recordFailure(vaultAddress string, legTarget uint64, mint, signature string) {
	if s.collab.Failures == nil {
		return
	}

	write := func(ctx context.Context) error {
		record := ledger.FailedTransactionRecord{
			UsdcAmount: legTarget,
			TxHash:     signature,
			Status:     "failed",
			Timestamp:  time.Now().UTC(),
		}
		if s.collab.Vaults != nil {
			if vaultRow, err := s.collab.Vaults.FindVaultByAddress(ctx, vaultAddress); err == nil {
				record.VaultID = vaultRow.ID
			}
		}
		if s.collab.Assets != nil {
			if assetRow, err := s.collab.Assets.FindAssetByMint(ctx, mint, "solana"); err == nil {
				record.AssetID = assetRow.ID
			}
		}
		return s.collab.Failures.RecordFailure(ctx, record)
	}

	if s.collab.Queue != nil {
		s.collab.Queue.Submit("record-failure", write)
		return
	}
	if err := write(context.Background()); err != nil {
		s.logger.Warn("failed to record leg failure", "err", err)
	}
}

// audit appends an audit-history row and fires cache invalidation,
// best-effort.
func (s *Service) audit(action, description, vaultAddress, signature string, metadata map[string]any) {
	if s.collab.Audit != nil {
		write := func(ctx context.Context) error {
			entry := ledger.AuditEntry{
				Action:      action,
				Description: description,
				Actor:       s.signer.PublicKey().String(),
				Metadata:    metadata,
				Signature:   signature,
			}
			if s.collab.Vaults != nil {
				if vaultRow, err := s.collab.Vaults.FindVaultByAddress(ctx, vaultAddress); err == nil {
					entry.VaultID = vaultRow.ID
				}
			}
			return s.collab.Audit.RecordTransaction(ctx, entry)
		}
		if s.collab.Queue != nil {
			s.collab.Queue.Submit("audit", write)
		} else if err := write(context.Background()); err != nil {
			s.logger.Warn("failed to record audit entry", "err", err)
		}
	}

	if s.collab.Invalidator != nil && s.collab.Queue != nil {
		s.collab.Invalidator.EnqueueInvalidation(s.collab.Queue, "vault:"+vaultAddress, "vaults")
	}
}

// mulBpsFloor computes floor(amount * bps / 10000) without overflowing.
func mulBpsFloor(amount uint64, bps uint16) uint64 {
	return mulDivFloor(amount, uint64(bps), maxBps)
}

func mulDivFloor(amount, numerator, denominator uint64) uint64 {
	quotient := amount / denominator
	remainder := amount % denominator
	return quotient*numerator + remainder*numerator/denominator
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
