package orchestrator

import "errors"

var (
	ErrInvalidAmount               = errors.New("amount must be positive")
	ErrInvalidSharePrice           = errors.New("share price must be positive")
	ErrNoUnderlyingAssets          = errors.New("vault has no underlying assets")
	ErrInsufficientOperatorBalance = errors.New("operator balance below fee reserve")
	ErrAccountNotFound             = errors.New("account not found")
)

const (
	LegStatusSwapped = "swapped"
	LegStatusFailed  = "failed"
	LegStatusDropped = "dropped"
)

// LegResult is the final state of one swap leg. Failed and dropped legs carry
// the error that removed them; their target feeds the fund-return accounting.
type LegResult struct {
	AssetMint          string `json:"assetMint"`
	AllocationBps      uint16 `json:"allocationBps,omitempty"`
	TargetAmount       uint64 `json:"targetAmount"`
	OutAmount          uint64 `json:"outAmount,omitempty"`
	DestinationAccount string `json:"destinationAccount,omitempty"`
	Signature          string `json:"signature,omitempty"`
	Status             string `json:"status"`
	Error              string `json:"error,omitempty"`
}

// OrchestrationResult is the structured outcome of one admin swap call. It is
// always returned for partial failures; only validation and the consolidated
// transfer raise an error instead.
type OrchestrationResult struct {
	VaultIndex      uint32      `json:"vaultIndex"`
	RequestedAmount uint64      `json:"requestedAmount"`
	AmountUsed      uint64      `json:"amountUsed"`
	ReserveBalance  uint64      `json:"reserveBalance"`
	TransferAmount  uint64      `json:"transferAmount"`
	TransferSig     string      `json:"transferSignature,omitempty"`
	Legs            []LegResult `json:"legs"`
	TotalFailedUSDC uint64      `json:"totalFailedUsdc"`
	ReturnedAmount  uint64      `json:"returnedAmount,omitempty"`
	ReturnSig       string      `json:"returnSignature,omitempty"`
	ReturnShortfall uint64      `json:"returnShortfall,omitempty"`
	ManualRecovery  bool        `json:"manualRecoveryRequired,omitempty"`
	Note            string      `json:"note,omitempty"`
}

// RedeemResult reports how much of a redemption the reserve can actually
// cover. When the post-swap reserve falls short of the required stablecoin,
// AdjustedShares is the largest share count currently redeemable and callers
// must re-quote the user.
type RedeemResult struct {
	VaultIndex      uint32      `json:"vaultIndex"`
	Shares          uint64      `json:"shares"`
	SharePriceRaw   uint64      `json:"sharePriceRaw"`
	RequiredUsdc    uint64      `json:"requiredUsdc"`
	ReserveBalance  uint64      `json:"reserveBalance"`
	Covered         bool        `json:"covered"`
	AdjustedShares  uint64      `json:"adjustedShares"`
	Legs            []LegResult `json:"legs"`
	TotalFailedUSDC uint64      `json:"totalFailedUsdc"`
}
