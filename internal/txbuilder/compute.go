package txbuilder

import "github.com/defimarkets/vault-backend/internal/jupiter"

// Compute budget tiers. Routes through concentrated-liquidity or dynamic-bin
// AMMs burn far more compute than constant-product pools, so they get the
// protocol maximum and the top priority fee.
const (
	ComputeUnitLimitMax    = uint32(1_400_000)
	ComputeUnitLimitMedium = uint32(600_000)
	ComputeUnitLimitLow    = uint32(400_000)

	PriorityFeeHighMicroLamports   = uint64(500_000)
	PriorityFeeMediumMicroLamports = uint64(100_000)
	PriorityFeeLowMicroLamports    = uint64(20_000)

	mediumTierInputThreshold = uint64(1_000_000_000) // 1000 USDC at 1e6
)

var heavyAmmLabels = map[string]bool{
	"Whirlpool":    true,
	"Raydium CLMM": true,
	"Meteora DLMM": true,
	"Obric V2":     true,
	"Lifinity V2":  true,
	"Stabble":      true,
}

// ComputeBudgetFor picks a compute-unit limit and priority fee for a quoted
// route, graduated by AMM mix, hop count and input size.
func ComputeBudgetFor(quote *jupiter.Quote) (limit uint32, priceMicroLamports uint64) {
	for _, step := range quote.RoutePlan {
		if heavyAmmLabels[step.SwapInfo.Label] {
			return ComputeUnitLimitMax, PriorityFeeHighMicroLamports
		}
	}
	if len(quote.RoutePlan) >= 2 || quote.InAmountRaw() >= mediumTierInputThreshold {
		return ComputeUnitLimitMedium, PriorityFeeMediumMicroLamports
	}
	return ComputeUnitLimitLow, PriorityFeeLowMicroLamports
}
