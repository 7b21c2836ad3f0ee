package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/defimarkets/vault-backend/internal/events"
	"github.com/defimarkets/vault-backend/internal/ledger"
)

const programDataPrefix = "Program data: "

// DecodeTransaction fetches a transaction and decodes every Anchor event
// emitted in its logs. Unknown discriminators come back as UnknownEvent, so
// the slice length equals the number of event payloads in the transaction.
func (s *Service) DecodeTransaction(ctx context.Context, sig solana.Signature) ([]events.Event, error) {
	result, err := s.fetchTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	if result.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no metadata", sig)
	}

	var decoded []events.Event
	for _, line := range result.Meta.LogMessages {
		payload, ok := eventPayload(line)
		if !ok {
			continue
		}
		decoded = append(decoded, s.decoder.Decode(payload))
	}
	return decoded, nil
}

// DecodeFactoryFeesEvent decodes a fee-update transaction and persists the
// new fee schedule. Errors if the transaction carries no FactoryFeesUpdated
// event.
func (s *Service) DecodeFactoryFeesEvent(ctx context.Context, sig solana.Signature) (*ledger.FeeConfig, error) {
	decoded, err := s.DecodeTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}

	for _, ev := range decoded {
		fees, ok := ev.(*events.FactoryFeesUpdated)
		if !ok {
			continue
		}
		if s.collab.Fees == nil {
			return nil, fmt.Errorf("no fee schedule store configured")
		}
		config, err := s.collab.Fees.UpdateFeesFromEvent(ctx, fees)
		if err != nil {
			return nil, fmt.Errorf("persist fee update: %w", err)
		}
		s.audit("factory_fees_updated",
			fmt.Sprintf("fee schedule updated by %s", fees.Admin),
			"", sig.String(), map[string]any{
				"entry_fee_bps": fees.EntryFeeBps,
				"exit_fee_bps":  fees.ExitFeeBps,
			})
		return config, nil
	}
	return nil, fmt.Errorf("transaction %s carries no fee update event", sig)
}

// fetchTransaction polls for a transaction until RPC indexing catches up or
// the window closes.
func (s *Service) fetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	interval := s.cfg.FetchTxInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := s.cfg.FetchTxAttempts
	if attempts <= 0 {
		attempts = 10
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := s.chain.Transaction(ctx, sig)
		if err == nil && result != nil {
			return result, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("not yet indexed")
	}
	return nil, fmt.Errorf("fetch transaction %s: %w", sig, lastErr)
}

// eventPayload extracts and decodes the base64 event payload from one log
// line, tolerating the "Program log:" wrapper some RPC providers add.
func eventPayload(line string) ([]byte, bool) {
	idx := strings.Index(line, programDataPrefix)
	if idx < 0 {
		return nil, false
	}
	encoded := strings.TrimSpace(line[idx+len(programDataPrefix):])
	if encoded == "" {
		return nil, false
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	return payload, true
}
