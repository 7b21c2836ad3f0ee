package orchestrator

import (
	"context"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/defimarkets/vault-backend/internal/retry"
	"github.com/defimarkets/vault-backend/internal/vaultpda"
	"github.com/defimarkets/vault-backend/internal/vaultprogram"
)

// ExecuteRedeemSwapAdmin liquidates enough of each underlying asset to cover
// a redemption of shares at sharePriceRaw (both 1e6-scaled). Required value
// is the fee-inclusive amount; fee deduction happens in the on-chain finalize
// step, not here.
//
// When the post-swap reserve cannot cover the requirement, AdjustedShares
// reports the largest share count the reserve does cover and the caller must
// re-quote the user.
func (s *Service) ExecuteRedeemSwapAdmin(ctx context.Context, vaultIndex uint32, shares, sharePriceRaw uint64) (*RedeemResult, error) {
	if shares == 0 {
		return nil, ErrInvalidAmount
	}
	if sharePriceRaw == 0 {
		return nil, ErrInvalidSharePrice
	}

	snap, err := s.loadVaultSnapshot(ctx, vaultIndex)
	if err != nil {
		return nil, err
	}
	if len(snap.VaultState.UnderlyingAssets) == 0 {
		return nil, fmt.Errorf("vault %d: %w", vaultIndex, ErrNoUnderlyingAssets)
	}

	requiredUsdc := mulDivFloor(shares, sharePriceRaw, sharePriceScale)
	result := &RedeemResult{
		VaultIndex:    vaultIndex,
		Shares:        shares,
		SharePriceRaw: sharePriceRaw,
		RequiredUsdc:  requiredUsdc,
	}

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
		usdShare := mulBpsFloor(requiredUsdc, asset.MintBps)
		if usdShare == 0 {
			continue
		}
		legs = append(legs, &leg{
			AssetMint:     asset.MintAddress,
			AllocationBps: asset.MintBps,
			Target:        usdShare,
		})
	}

	batch := s.batchSize()

	// Phase 1: size each withdrawal. USD share -> spot price -> native units,
	// clamped to what the vault actually holds of the asset.
	runBatched(len(legs), batch, func(i int) {
		l := legs[i]

		tokenProgram, decimals, err := s.mintInfo(ctx, l.AssetMint)
		if err != nil {
			l.fail(LegStatusDropped, err)
			return
		}
		l.TokenProgramID = tokenProgram
		l.Decimals = decimals

		price, err := retry.Do(ctx, s.retries, "fetch spot price", s.quoteAttempts(),
			func(ctx context.Context) (float64, error) {
				return s.swaps.SpotPrice(ctx, l.AssetMint)
			})
		if err != nil {
			l.fail(LegStatusDropped, fmt.Errorf("spot price: %w", err))
			return
		}

		native := nativeAmountForUsd(l.Target, price, decimals)
		if native == 0 {
			l.fail(LegStatusDropped, fmt.Errorf("usd share %d too small at price %f", l.Target, price))
			return
		}

		vaultAssetAccount, _, err := vaultpda.DeriveAssociatedTokenAccount(snap.Vault, l.AssetMint, tokenProgram)
		if err != nil {
			l.fail(LegStatusDropped, err)
			return
		}
		held, err := s.tokenAccountBalanceOrZero(ctx, vaultAssetAccount)
		if err != nil {
			l.fail(LegStatusDropped, err)
			return
		}
		if held == 0 {
			l.fail(LegStatusDropped, fmt.Errorf("vault holds none of %s", l.AssetMint))
			return
		}
		l.NativeAmount = minU64(native, held)
	})

	// Phase 2: withdraw each asset to the operating wallet, then swap it into
	// stablecoin landing directly in the vault reserve.
	usdc := s.cfg.USDCMint
	runBatched(len(legs), batch, func(i int) {
		l := legs[i]
		if !l.alive() {
			return
		}

		operatorAsset, createIxs, err := s.ensureTokenAccount(ctx, operator, operator, l.AssetMint, l.TokenProgramID)
		if err != nil {
			l.fail(LegStatusFailed, err)
			return
		}

		vaultAssetAccount, _, err := vaultpda.DeriveAssociatedTokenAccount(snap.Vault, l.AssetMint, l.TokenProgramID)
		if err != nil {
			l.fail(LegStatusFailed, err)
			return
		}

		withdrawIx := vaultprogram.NewWithdrawUnderlyingToUserInstruction(vaultprogram.WithdrawUnderlyingToUserParams{
			VaultProgramID:    snap.VaultProgramID,
			User:              operator,
			Factory:           snap.Factory,
			Vault:             snap.Vault,
			VaultAssetAccount: vaultAssetAccount,
			UserAssetAccount:  operatorAsset,
			Mint:              l.AssetMint,
			TokenProgramID:    l.TokenProgramID,
			VaultIndex:        vaultIndex,
			Amount:            l.NativeAmount,
			Decimals:          l.Decimals,
		})
		ixs := append(append([]solana.Instruction{}, createIxs...), withdrawIx)
		if _, err := s.sendSimpleTx(ctx, ixs, "withdraw underlying "+l.AssetMint.String()); err != nil {
			l.fail(LegStatusFailed, fmt.Errorf("withdraw underlying: %w", err))
			return
		}

		// Swap output goes straight into the vault reserve.
		l.Destination = snap.Reserve
		quote, err := s.fetchQuote(ctx, l.AssetMint, usdc, l.NativeAmount)
		if err != nil {
			l.fail(LegStatusFailed, err)
			return
		}
		l.QuoteResp = quote
		l.OutAmount = quote.OutAmountRaw()

		ixSet, err := s.fetchInstructions(ctx, quote, snap.Reserve)
		if err != nil {
			l.fail(LegStatusFailed, err)
			return
		}
		l.Ixs = ixSet

		s.executeLeg(ctx, l, func(ctx context.Context) error {
			return s.requoteLeg(ctx, l, l.AssetMint, usdc, l.NativeAmount)
		})
	})

	// Phase 3: coverage check against the live reserve.
	reserveBalance, err := s.tokenAccountBalanceOrZero(ctx, snap.Reserve)
	if err != nil {
		return nil, fmt.Errorf("read vault reserve: %w", err)
	}
	result.ReserveBalance = reserveBalance
	result.Covered = reserveBalance >= requiredUsdc
	if result.Covered {
		result.AdjustedShares = shares
	} else {
		result.AdjustedShares = mulDivFloor(reserveBalance, sharePriceScale, sharePriceRaw)
	}

	var totalFailed uint64
	for _, l := range legs {
		if l.Err != nil {
			totalFailed += l.Target
			s.recordFailure(snap.Vault.String(), l.Target, l.AssetMint.String(), l.Signature.String())
		}
		result.Legs = append(result.Legs, l.result())
	}
	result.TotalFailedUSDC = totalFailed

	s.audit("admin_redeem_swap",
		fmt.Sprintf("liquidated %d legs toward %d stablecoin units for %d shares", len(legs), requiredUsdc, shares),
		snap.Vault.String(), "", map[string]any{
			"vault_index":     vaultIndex,
			"shares":          shares,
			"required_usdc":   requiredUsdc,
			"adjusted_shares": result.AdjustedShares,
		})
	return result, nil
}

// nativeAmountForUsd converts a 1e6-scaled USD amount into native token units
// at the given USD spot price per whole token.
func nativeAmountForUsd(usdRaw uint64, price float64, decimals uint8) uint64 {
	if price <= 0 {
		return 0
	}
	tokens := float64(usdRaw) / 1e6 / price
	native := tokens * math.Pow10(int(decimals))
	if native <= 0 || math.IsNaN(native) || math.IsInf(native, 0) {
		return 0
	}
	return uint64(native)
}
