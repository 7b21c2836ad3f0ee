package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/defimarkets/vault-backend/internal/jupiter"
	"github.com/defimarkets/vault-backend/internal/retry"
	"github.com/defimarkets/vault-backend/internal/txbuilder"
)

const (
	defaultBatchSize        = 5
	defaultQuoteAttempts    = 3
	defaultSendAttempts     = 3
	defaultMinOperatorFunds = 50_000_000 // 0.05 SOL
)

// leg is the mutable working state of one swap leg as it moves through the
// pipeline. Failed legs keep their error and drop out of later phases.
type leg struct {
	AssetMint     solana.PublicKey
	AllocationBps uint16
	Target        uint64

	TokenProgramID solana.PublicKey
	Destination    solana.PublicKey
	SetupIxs       []solana.Instruction

	// Redeem direction only: how much of the asset leaves the vault.
	NativeAmount uint64
	Decimals     uint8

	QuoteResp *jupiter.Quote
	Ixs       *jupiter.InstructionSet
	OutAmount uint64
	Signature solana.Signature
	Status    string
	Err       error
}

func (l *leg) fail(status string, err error) {
	l.Status = status
	l.Err = err
}

func (l *leg) alive() bool {
	return l.Err == nil
}

func (l *leg) result() LegResult {
	res := LegResult{
		AssetMint:     l.AssetMint.String(),
		AllocationBps: l.AllocationBps,
		TargetAmount:  l.Target,
		OutAmount:     l.OutAmount,
		Status:        l.Status,
	}
	if !l.Destination.IsZero() {
		res.DestinationAccount = l.Destination.String()
	}
	if !l.Signature.IsZero() {
		res.Signature = l.Signature.String()
	}
	if l.Err != nil {
		res.Error = l.Err.Error()
	}
	return res
}

func (s *Service) batchSize() int {
	if s.cfg.BatchSize > 0 {
		return s.cfg.BatchSize
	}
	return defaultBatchSize
}

func (s *Service) quoteAttempts() int {
	if s.cfg.QuoteMaxAttempts > 0 {
		return s.cfg.QuoteMaxAttempts
	}
	return defaultQuoteAttempts
}

func (s *Service) sendAttempts() int {
	if s.cfg.SendMaxAttempts > 0 {
		return s.cfg.SendMaxAttempts
	}
	return defaultSendAttempts
}

func (s *Service) minOperatorBalance() uint64 {
	if s.cfg.MinOperatorBalanceLamports > 0 {
		return s.cfg.MinOperatorBalanceLamports
	}
	return defaultMinOperatorFunds
}

// runBatched applies fn to every index with at most batch goroutines in
// flight. fn owns its slot exclusively; no cross-slot synchronization needed.
func runBatched(count, batch int, fn func(i int)) {
	if batch <= 0 {
		batch = 1
	}
	sem := make(chan struct{}, batch)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// fetchQuote pulls a quote for one leg under the retry policy.
func (s *Service) fetchQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64) (*jupiter.Quote, error) {
	return retry.Do(ctx, s.retries, "fetch quote "+outputMint.String(), s.quoteAttempts(),
		func(ctx context.Context) (*jupiter.Quote, error) {
			return s.swaps.Quote(ctx, inputMint, outputMint, amount, s.cfg.SlippageBps)
		})
}

// fetchInstructions pulls the instruction set for a quote under the retry
// policy.
func (s *Service) fetchInstructions(ctx context.Context, quote *jupiter.Quote, destination solana.PublicKey) (*jupiter.InstructionSet, error) {
	return retry.Do(ctx, s.retries, "fetch swap instructions", s.quoteAttempts(),
		func(ctx context.Context) (*jupiter.InstructionSet, error) {
			return s.swaps.SwapInstructions(ctx, quote, s.signer.PublicKey(), destination)
		})
}

// assembleLegTx builds and signs one leg transaction from its current quote
// and instruction set, with a fresh blockhash.
func (s *Service) assembleLegTx(ctx context.Context, l *leg) (*solana.Transaction, error) {
	ixs, err := l.Ixs.FlattenInstructions()
	if err != nil {
		return nil, err
	}
	if len(l.SetupIxs) > 0 {
		ixs = append(append([]solana.Instruction{}, l.SetupIxs...), ixs...)
	}

	tableKeys, err := l.Ixs.LookupTableKeys()
	if err != nil {
		return nil, err
	}
	tables, err := s.chain.LookupTables(ctx, tableKeys)
	if err != nil {
		return nil, err
	}

	blockhash, err := s.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	limit, price := txbuilder.ComputeBudgetFor(l.QuoteResp)
	tx, err := txbuilder.Build(txbuilder.BuildRequest{
		Payer:                         s.signer.PublicKey(),
		Instructions:                  ixs,
		Tables:                        tables,
		Blockhash:                     blockhash,
		ComputeUnitLimit:              limit,
		ComputeUnitPriceMicroLamports: price,
	})
	if err != nil {
		return nil, err
	}
	if err := txbuilder.Sign(tx, s.signer); err != nil {
		return nil, err
	}
	return tx, nil
}

// requoteLeg refreshes the leg's quote and instruction set in place for the
// given swap direction. Quotes expire; a stale send means the old route is
// dead, not just the blockhash.
func (s *Service) requoteLeg(ctx context.Context, l *leg, inputMint, outputMint solana.PublicKey, amount uint64) error {
	quote, err := s.fetchQuote(ctx, inputMint, outputMint, amount)
	if err != nil {
		return fmt.Errorf("rebuild quote: %w", err)
	}
	ixSet, err := s.fetchInstructions(ctx, quote, l.Destination)
	if err != nil {
		return fmt.Errorf("rebuild instructions: %w", err)
	}
	l.QuoteResp = quote
	l.Ixs = ixSet
	l.OutAmount = quote.OutAmountRaw()
	return nil
}

// sendLeg submits one leg with bounded retries. A stale failure (expired
// blockhash or quote) triggers exactly one rebuild-and-resend with preflight
// off; other transient failures back off and retry, then get one rebuild on
// final exhaustion. Terminal failures propagate immediately.
func (s *Service) sendLeg(ctx context.Context, l *leg, rebuild func(context.Context) error) (solana.Signature, error) {
	tx, err := s.assembleLegTx(ctx, l)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("assemble leg transaction: %w", err)
	}

	attempts := s.sendAttempts()
	rebuilt := false
	skipPreflight := s.cfg.SkipPreflight

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := s.retries.Backoff(ctx, attempt-1); err != nil {
				return solana.Signature{}, err
			}
		}

		sig, err := s.chain.SendTransaction(ctx, tx, skipPreflight)
		if err == nil {
			return sig, nil
		}
		lastErr = err

		switch retry.Classify(err) {
		case retry.Terminal:
			return solana.Signature{}, err
		case retry.Stale:
			if rebuilt {
				continue
			}
			rebuilt = true
			if rerr := rebuild(ctx); rerr != nil {
				return solana.Signature{}, rerr
			}
			fresh, berr := s.assembleLegTx(ctx, l)
			if berr != nil {
				return solana.Signature{}, fmt.Errorf("rebuild leg transaction: %w", berr)
			}
			tx = fresh
			// Preflight simulation races the same expiry the rebuild
			// just escaped.
			skipPreflight = true
			sig, serr := s.chain.SendTransaction(ctx, tx, true)
			if serr == nil {
				return sig, nil
			}
			lastErr = serr
			if retry.Classify(serr) == retry.Terminal {
				return solana.Signature{}, serr
			}
		default:
			s.logger.Warn("leg send failed",
				"asset", l.AssetMint.String(),
				"attempt", attempt+1,
				"err", err,
			)
		}
	}

	if !rebuilt {
		if rerr := rebuild(ctx); rerr == nil {
			if fresh, berr := s.assembleLegTx(ctx, l); berr == nil {
				sig, serr := s.chain.SendTransaction(ctx, fresh, true)
				if serr == nil {
					return sig, nil
				}
				lastErr = serr
			}
		}
	}

	return solana.Signature{}, fmt.Errorf("send failed after %d attempts: %w", attempts, lastErr)
}

// executeLeg runs one already-quoted leg through send, confirmation and
// execution check, mutating the leg in place.
func (s *Service) executeLeg(ctx context.Context, l *leg, rebuild func(context.Context) error) {
	sig, err := s.sendLeg(ctx, l, rebuild)
	if err != nil {
		l.fail(LegStatusFailed, err)
		return
	}
	l.Signature = sig

	if err := s.waitForConfirmation(ctx, sig); err != nil {
		l.fail(LegStatusFailed, err)
		return
	}
	if err := s.checkExecution(ctx, sig); err != nil {
		l.fail(LegStatusFailed, err)
		return
	}
	l.Status = LegStatusSwapped
}
