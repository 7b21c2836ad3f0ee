package orchestrator

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/defimarkets/vault-backend/internal/retry"
	"github.com/defimarkets/vault-backend/internal/txbuilder"
	"github.com/defimarkets/vault-backend/internal/vaultprogram"
)

// ExecuteAdminSwap rebalances amountInRaw stablecoin units from the vault
// reserve into the vault's underlying assets according to their allocation
// weights. Partial failures come back inside the result; only validation and
// the consolidated reserve withdrawal abort the call with an error.
//
// The phases are not transactionally linked. A crash after the consolidated
// transfer leaves stablecoin in the operating wallet pending the compensating
// return or manual reconciliation.
func (s *Service) ExecuteAdminSwap(ctx context.Context, vaultIndex uint32, amountInRaw uint64) (*OrchestrationResult, error) {
	if amountInRaw == 0 {
		return nil, ErrInvalidAmount
	}

	snap, err := s.loadVaultSnapshot(ctx, vaultIndex)
	if err != nil {
		return nil, err
	}
	if len(snap.VaultState.UnderlyingAssets) == 0 {
		return nil, fmt.Errorf("vault %d: %w", vaultIndex, ErrNoUnderlyingAssets)
	}

	result := &OrchestrationResult{
		VaultIndex:      vaultIndex,
		RequestedAmount: amountInRaw,
	}

	reserveBalance, err := s.tokenAccountBalanceOrZero(ctx, snap.Reserve)
	if err != nil {
		return nil, fmt.Errorf("read vault reserve: %w", err)
	}
	result.ReserveBalance = reserveBalance
	if reserveBalance == 0 {
		result.Note = "vault reserve is empty, nothing to swap"
		return result, nil
	}
	amountToUse := minU64(amountInRaw, reserveBalance)
	result.AmountUsed = amountToUse

	operator := s.signer.PublicKey()
	lamports, err := s.chain.LamportsBalance(ctx, operator)
	if err != nil {
		return nil, fmt.Errorf("read operator balance: %w", err)
	}
	if lamports < s.minOperatorBalance() {
		return nil, fmt.Errorf("operator holds %d lamports, needs %d: %w",
			lamports, s.minOperatorBalance(), ErrInsufficientOperatorBalance)
	}

	legs := make([]*leg, 0, len(snap.VaultState.UnderlyingAssets))
	for _, asset := range snap.VaultState.UnderlyingAssets {
		if asset.MintBps == 0 {
			continue
		}
		target := mulBpsFloor(amountToUse, asset.MintBps)
		if target == 0 {
			continue
		}
		legs = append(legs, &leg{
			AssetMint:     asset.MintAddress,
			AllocationBps: asset.MintBps,
			Target:        target,
		})
	}

	batch := s.batchSize()

	// Phase 1: resolve each leg's destination, the vault's asset token
	// account. A leg that cannot resolve is dropped, not fatal.
	runBatched(len(legs), batch, func(i int) {
		l := legs[i]
		tokenProgram, _, err := s.mintInfo(ctx, l.AssetMint)
		if err != nil {
			l.fail(LegStatusDropped, err)
			return
		}
		l.TokenProgramID = tokenProgram

		destination, createIxs, err := s.ensureTokenAccount(ctx, operator, snap.Vault, l.AssetMint, tokenProgram)
		if err != nil {
			l.fail(LegStatusDropped, err)
			return
		}
		l.Destination = destination
		l.SetupIxs = createIxs
	})

	// Phase 2: quotes, then instruction sets.
	usdc := s.cfg.USDCMint
	runBatched(len(legs), batch, func(i int) {
		l := legs[i]
		if !l.alive() {
			return
		}
		quote, err := s.fetchQuote(ctx, usdc, l.AssetMint, l.Target)
		if err != nil {
			l.fail(LegStatusDropped, err)
			return
		}
		l.QuoteResp = quote
		l.OutAmount = quote.OutAmountRaw()
	})
	runBatched(len(legs), batch, func(i int) {
		l := legs[i]
		if !l.alive() {
			return
		}
		ixSet, err := s.fetchInstructions(ctx, l.QuoteResp, l.Destination)
		if err != nil {
			l.fail(LegStatusDropped, err)
			return
		}
		l.Ixs = ixSet
	})

	// Phase 3: one consolidated reserve -> operator transfer covering every
	// surviving leg. Its failure aborts the call: no funds have moved yet.
	var survivingTotal uint64
	for _, l := range legs {
		if l.alive() {
			survivingTotal += l.Target
		}
	}
	transferAmount := minU64(amountToUse, survivingTotal)
	result.TransferAmount = transferAmount

	operatorUsdc, usdcCreateIxs, err := s.ensureTokenAccount(ctx, operator, operator, usdc, vaultprogram.TokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("resolve operator stablecoin account: %w", err)
	}

	if transferAmount > 0 {
		transferIx := vaultprogram.NewTransferVaultToUserInstruction(vaultprogram.TransferVaultToUserParams{
			VaultProgramID: snap.VaultProgramID,
			User:           operator,
			Factory:        snap.Factory,
			Vault:          snap.Vault,
			VaultReserve:   snap.Reserve,
			UserStablecoin: operatorUsdc,
			VaultIndex:     vaultIndex,
			Amount:         transferAmount,
		})
		ixs := append(append([]solana.Instruction{}, usdcCreateIxs...), transferIx)
		sig, err := s.sendSimpleTx(ctx, ixs, "consolidated reserve transfer")
		if err != nil {
			return nil, fmt.Errorf("consolidated reserve transfer: %w", err)
		}
		result.TransferSig = sig.String()

		// Phase 4: submit, confirm and verify every surviving leg.
		runBatched(len(legs), batch, func(i int) {
			l := legs[i]
			if !l.alive() {
				return
			}
			s.executeLeg(ctx, l, func(ctx context.Context) error {
				return s.requoteLeg(ctx, l, usdc, l.AssetMint, l.Target)
			})
		})
	}

	// Phase 5: failure accounting and the compensating return. Exactly the
	// failed total goes back, clamped to what the operator actually holds.
	var totalFailed uint64
	for _, l := range legs {
		if l.Err == nil {
			continue
		}
		totalFailed += l.Target
		s.recordFailure(snap.Vault.String(), l.Target, l.AssetMint.String(), l.Signature.String())
	}
	result.TotalFailedUSDC = totalFailed

	if totalFailed > 0 {
		available, err := s.tokenAccountBalanceOrZero(ctx, operatorUsdc)
		if err != nil {
			s.logger.Warn("cannot read operator stablecoin balance for return", "err", err)
			available = 0
		}
		returnAmount := minU64(totalFailed, available)
		result.ReturnShortfall = totalFailed - returnAmount

		if returnAmount > 0 {
			returnIx, err := newTokenTransferInstruction(operatorUsdc, snap.Reserve, operator, returnAmount)
			if err == nil {
				var sig solana.Signature
				sig, err = s.sendSimpleTx(ctx, []solana.Instruction{returnIx}, "return failed funds")
				if err == nil {
					result.ReturnedAmount = returnAmount
					result.ReturnSig = sig.String()
				}
			}
			if err != nil {
				result.ManualRecovery = true
				s.logger.Error("failed to return funds to vault reserve, manual recovery required",
					"vault", snap.Vault.String(),
					"amount", returnAmount,
					"err", err,
				)
			}
		} else if result.ReturnShortfall > 0 {
			result.ManualRecovery = true
		}
	}

	for _, l := range legs {
		result.Legs = append(result.Legs, l.result())
	}

	s.audit("admin_swap", fmt.Sprintf("rebalanced %d stablecoin units across %d legs", transferAmount, len(legs)),
		snap.Vault.String(), result.TransferSig, map[string]any{
			"vault_index":       vaultIndex,
			"amount_used":       amountToUse,
			"total_failed_usdc": totalFailed,
		})
	return result, nil
}

// sendSimpleTx builds, signs, sends and fully verifies one legacy-account
// transaction under the retry policy.
func (s *Service) sendSimpleTx(ctx context.Context, ixs []solana.Instruction, label string) (solana.Signature, error) {
	sig, err := retry.Do(ctx, s.retries, label, s.sendAttempts(), func(ctx context.Context) (solana.Signature, error) {
		blockhash, err := s.chain.LatestBlockhash(ctx)
		if err != nil {
			return solana.Signature{}, err
		}
		tx, err := txbuilder.Build(txbuilder.BuildRequest{
			Payer:        s.signer.PublicKey(),
			Instructions: ixs,
			Blockhash:    blockhash,
		})
		if err != nil {
			return solana.Signature{}, err
		}
		if err := txbuilder.Sign(tx, s.signer); err != nil {
			return solana.Signature{}, err
		}
		return s.chain.SendTransaction(ctx, tx, s.cfg.SkipPreflight)
	})
	if err != nil {
		return solana.Signature{}, err
	}

	if err := s.waitForConfirmation(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	if err := s.checkExecution(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}
