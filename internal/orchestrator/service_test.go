package orchestrator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defimarkets/vault-backend/internal/config"
	"github.com/defimarkets/vault-backend/internal/jupiter"
	"github.com/defimarkets/vault-backend/internal/ledger"
	"github.com/defimarkets/vault-backend/internal/vaultpda"
	"github.com/defimarkets/vault-backend/internal/vaultprogram"
)

type storedAccount struct {
	owner solana.PublicKey
	data  []byte
}

type fakeChain struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]storedAccount
	balances map[solana.PublicKey]uint64
	lamports map[solana.PublicKey]uint64

	sendErr     error
	sentCount   int
	logMessages []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		accounts: make(map[solana.PublicKey]storedAccount),
		balances: make(map[solana.PublicKey]uint64),
		lamports: make(map[solana.PublicKey]uint64),
	}
}

func (c *fakeChain) AccountInfo(_ context.Context, account solana.PublicKey) (solana.PublicKey, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored, ok := c.accounts[account]
	if !ok {
		return solana.PublicKey{}, nil, fmt.Errorf("account %s: %w", account, ErrAccountNotFound)
	}
	return stored.owner, stored.data, nil
}

func (c *fakeChain) LamportsBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lamports[account], nil
}

func (c *fakeChain) TokenAccountBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, ok := c.balances[account]
	if !ok {
		return 0, fmt.Errorf("token account %s: %w", account, ErrAccountNotFound)
	}
	return balance, nil
}

func (c *fakeChain) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

func (c *fakeChain) SendTransaction(_ context.Context, _ *solana.Transaction, _ bool) (solana.Signature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return solana.Signature{}, c.sendErr
	}
	c.sentCount++
	var sig solana.Signature
	binary.LittleEndian.PutUint64(sig[:8], uint64(c.sentCount))
	return sig, nil
}

func (c *fakeChain) SignatureStatus(context.Context, solana.Signature) (*rpc.SignatureStatusesResult, error) {
	return &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized}, nil
}

func (c *fakeChain) Transaction(context.Context, solana.Signature) (*rpc.GetTransactionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{LogMessages: c.logMessages}}, nil
}

func (c *fakeChain) LookupTables(context.Context, []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	return map[solana.PublicKey]solana.PublicKeySlice{}, nil
}

type fakeSwaps struct {
	mu           sync.Mutex
	quoteAmounts map[string][]uint64
	failQuoteFor map[string]bool
	prices       map[string]float64
}

func newFakeSwaps() *fakeSwaps {
	return &fakeSwaps{
		quoteAmounts: make(map[string][]uint64),
		failQuoteFor: make(map[string]bool),
		prices:       make(map[string]float64),
	}
}

func (f *fakeSwaps) Quote(_ context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (*jupiter.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failQuoteFor[outputMint.String()] || f.failQuoteFor[inputMint.String()] {
		return nil, fmt.Errorf("no route for %s", outputMint)
	}
	f.quoteAmounts[outputMint.String()] = append(f.quoteAmounts[outputMint.String()], amount)
	return &jupiter.Quote{
		InputMint:   inputMint.String(),
		OutputMint:  outputMint.String(),
		InAmount:    fmt.Sprintf("%d", amount),
		OutAmount:   fmt.Sprintf("%d", amount/2),
		SlippageBps: slippageBps,
		Raw:         []byte(`{}`),
	}, nil
}

func (f *fakeSwaps) SwapInstructions(_ context.Context, _ *jupiter.Quote, _, _ solana.PublicKey) (*jupiter.InstructionSet, error) {
	return &jupiter.InstructionSet{
		SwapInstruction: jupiter.WireInstruction{
			ProgramID: solana.SystemProgramID.String(),
			Data:      "AQID",
		},
	}, nil
}

func (f *fakeSwaps) SpotPrice(_ context.Context, mint solana.PublicKey) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[mint.String()]
	if !ok {
		return 0, fmt.Errorf("no price for %s", mint)
	}
	return price, nil
}

type fakeFailureLedger struct {
	mu      sync.Mutex
	records []ledger.FailedTransactionRecord
}

func (f *fakeFailureLedger) RecordFailure(_ context.Context, record ledger.FailedTransactionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

type testEnv struct {
	service  *Service
	chain    *fakeChain
	swaps    *fakeSwaps
	failures *fakeFailureLedger

	programID solana.PublicKey
	usdcMint  solana.PublicKey
	operator  solana.PrivateKey

	factory solana.PublicKey
	vault   solana.PublicKey
	reserve solana.PublicKey
}

func accountDiscriminator(name string) []byte {
	hash := sha256.Sum256([]byte("account:" + name))
	return hash[:8]
}

func encodeAccount(t *testing.T, name string, value any) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(accountDiscriminator(name))
	require.NoError(t, bin.NewBorshEncoder(&buf).Encode(value))
	return buf.Bytes()
}

func newTestEnv(t *testing.T, assets []vaultprogram.UnderlyingAsset) *testEnv {
	t.Helper()

	programID := solana.MustPublicKeyFromBase58("5tAdLifeaGj3oUVVpr7gG5ntjW6c2Lg3sY2ftBCi8MkZ")
	usdcMint := solana.NewWallet().PublicKey()
	operator := solana.NewWallet().PrivateKey

	factory, _, err := vaultpda.DeriveFactoryPDA(programID)
	require.NoError(t, err)
	vault, _, err := vaultpda.DeriveVaultPDA(programID, factory, 7)
	require.NoError(t, err)
	reserve, _, err := vaultpda.DeriveVaultReservePDA(programID, vault)
	require.NoError(t, err)

	chain := newFakeChain()
	chain.lamports[operator.PublicKey()] = 1_000_000_000

	chain.accounts[factory] = storedAccount{owner: programID, data: encodeAccount(t, "Factory", vaultprogram.Factory{
		Admin:       operator.PublicKey(),
		VaultCount:  8,
		EntryFeeBps: 25,
		ExitFeeBps:  25,
	})}
	chain.accounts[vault] = storedAccount{owner: programID, data: encodeAccount(t, "Vault", vaultprogram.Vault{
		VaultIndex:       7,
		Factory:          factory,
		Admin:            operator.PublicKey(),
		VaultName:        "Test Vault",
		VaultSymbol:      "TV",
		UnderlyingAssets: assets,
		ManagementFees:   100,
	})}

	// Every asset mint is a classic token mint with 9 decimals, and the
	// vault's token account for it already exists.
	mintData := make([]byte, 82)
	mintData[44] = 9
	for _, asset := range assets {
		chain.accounts[asset.MintAddress] = storedAccount{owner: vaultprogram.TokenProgramID, data: mintData}
		ata, _, err := vaultpda.DeriveAssociatedTokenAccount(vault, asset.MintAddress, vaultprogram.TokenProgramID)
		require.NoError(t, err)
		chain.accounts[ata] = storedAccount{owner: vaultprogram.TokenProgramID, data: make([]byte, 165)}
	}

	usdcData := make([]byte, 82)
	usdcData[44] = 6
	chain.accounts[usdcMint] = storedAccount{owner: vaultprogram.TokenProgramID, data: usdcData}
	operatorUsdc, _, err := vaultpda.DeriveAssociatedTokenAccount(operator.PublicKey(), usdcMint, vaultprogram.TokenProgramID)
	require.NoError(t, err)
	chain.accounts[operatorUsdc] = storedAccount{owner: vaultprogram.TokenProgramID, data: make([]byte, 165)}

	swaps := newFakeSwaps()
	failures := &fakeFailureLedger{}

	cfg := config.EngineConfig{
		VaultProgramID:             programID,
		USDCMint:                   usdcMint,
		SlippageBps:                50,
		BatchSize:                  2,
		QuoteMaxAttempts:           2,
		SendMaxAttempts:            2,
		RetryBaseDelay:             time.Millisecond,
		ConfirmPollAttempts:        3,
		ConfirmPollInterval:        time.Millisecond,
		FetchTxAttempts:            2,
		FetchTxInterval:            time.Millisecond,
		MinOperatorBalanceLamports: 50_000_000,
	}

	service := New(cfg, chain, swaps, operator, Collaborators{Failures: failures}, slog.New(slog.DiscardHandler))
	return &testEnv{
		service:   service,
		chain:     chain,
		swaps:     swaps,
		failures:  failures,
		programID: programID,
		usdcMint:  usdcMint,
		operator:  operator,
		factory:   factory,
		vault:     vault,
		reserve:   reserve,
	}
}

func (e *testEnv) operatorUsdcAccount(t *testing.T) solana.PublicKey {
	t.Helper()
	ata, _, err := vaultpda.DeriveAssociatedTokenAccount(e.operator.PublicKey(), e.usdcMint, vaultprogram.TokenProgramID)
	require.NoError(t, err)
	return ata
}

func twoAssetMix() []vaultprogram.UnderlyingAsset {
	return []vaultprogram.UnderlyingAsset{
		{MintAddress: solana.NewWallet().PublicKey(), MintBps: 6000},
		{MintAddress: solana.NewWallet().PublicKey(), MintBps: 4000},
	}
}

func TestExecuteAdminSwapSplitsByAllocation(t *testing.T) {
	assets := twoAssetMix()
	env := newTestEnv(t, assets)
	env.chain.balances[env.reserve] = 2_000_000

	result, err := env.service.ExecuteAdminSwap(context.Background(), 7, 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, uint64(1_000_000), result.AmountUsed)
	assert.Equal(t, uint64(2_000_000), result.ReserveBalance)
	assert.Equal(t, uint64(1_000_000), result.TransferAmount)
	assert.NotEmpty(t, result.TransferSig)
	assert.Zero(t, result.TotalFailedUSDC)

	require.Len(t, result.Legs, 2)
	byMint := map[string]LegResult{}
	for _, l := range result.Legs {
		byMint[l.AssetMint] = l
	}
	assert.Equal(t, uint64(600_000), byMint[assets[0].MintAddress.String()].TargetAmount)
	assert.Equal(t, uint64(400_000), byMint[assets[1].MintAddress.String()].TargetAmount)
	for _, l := range result.Legs {
		assert.Equal(t, LegStatusSwapped, l.Status)
		assert.NotEmpty(t, l.Signature)
	}

	assert.Equal(t, []uint64{600_000}, env.swaps.quoteAmounts[assets[0].MintAddress.String()])
	assert.Equal(t, []uint64{400_000}, env.swaps.quoteAmounts[assets[1].MintAddress.String()])
}

func TestExecuteAdminSwapClampsToReserve(t *testing.T) {
	assets := twoAssetMix()
	env := newTestEnv(t, assets)
	env.chain.balances[env.reserve] = 500_000

	result, err := env.service.ExecuteAdminSwap(context.Background(), 7, 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, uint64(500_000), result.AmountUsed)
	require.Len(t, result.Legs, 2)
	byMint := map[string]LegResult{}
	for _, l := range result.Legs {
		byMint[l.AssetMint] = l
	}
	assert.Equal(t, uint64(300_000), byMint[assets[0].MintAddress.String()].TargetAmount)
	assert.Equal(t, uint64(200_000), byMint[assets[1].MintAddress.String()].TargetAmount)
}

func TestExecuteAdminSwapEmptyReserve(t *testing.T) {
	env := newTestEnv(t, twoAssetMix())
	env.chain.balances[env.reserve] = 0

	result, err := env.service.ExecuteAdminSwap(context.Background(), 7, 1_000_000)
	require.NoError(t, err)

	assert.Zero(t, result.AmountUsed)
	assert.Empty(t, result.Legs)
	assert.NotEmpty(t, result.Note)
	assert.Zero(t, env.chain.sentCount)
}

func TestExecuteAdminSwapRejectsZeroAmount(t *testing.T) {
	env := newTestEnv(t, twoAssetMix())

	_, err := env.service.ExecuteAdminSwap(context.Background(), 7, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestExecuteAdminSwapNoUnderlyingAssets(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chain.balances[env.reserve] = 1_000_000

	_, err := env.service.ExecuteAdminSwap(context.Background(), 7, 1_000_000)
	assert.ErrorIs(t, err, ErrNoUnderlyingAssets)
}

func TestExecuteAdminSwapOperatorBalanceFailFast(t *testing.T) {
	env := newTestEnv(t, twoAssetMix())
	env.chain.balances[env.reserve] = 1_000_000
	env.chain.lamports[env.operator.PublicKey()] = 1_000

	_, err := env.service.ExecuteAdminSwap(context.Background(), 7, 1_000_000)
	assert.ErrorIs(t, err, ErrInsufficientOperatorBalance)
	assert.Zero(t, env.chain.sentCount)
}

func TestExecuteAdminSwapDropsLegOnQuoteFailure(t *testing.T) {
	assets := twoAssetMix()
	env := newTestEnv(t, assets)
	env.chain.balances[env.reserve] = 2_000_000
	env.chain.balances[env.operatorUsdcAccount(t)] = 1_000_000
	env.swaps.failQuoteFor[assets[1].MintAddress.String()] = true

	result, err := env.service.ExecuteAdminSwap(context.Background(), 7, 1_000_000)
	require.NoError(t, err)

	// Only the surviving leg's target moves out of the reserve.
	assert.Equal(t, uint64(600_000), result.TransferAmount)
	assert.Equal(t, uint64(400_000), result.TotalFailedUSDC)

	byMint := map[string]LegResult{}
	for _, l := range result.Legs {
		byMint[l.AssetMint] = l
	}
	dropped := byMint[assets[1].MintAddress.String()]
	assert.Equal(t, LegStatusDropped, dropped.Status)
	assert.NotEmpty(t, dropped.Error)
	assert.Equal(t, LegStatusSwapped, byMint[assets[0].MintAddress.String()].Status)

	assert.Equal(t, uint64(400_000), result.ReturnedAmount)
	assert.NotEmpty(t, result.ReturnSig)
	assert.False(t, result.ManualRecovery)

	require.Len(t, env.failures.records, 1)
	assert.Equal(t, uint64(400_000), env.failures.records[0].UsdcAmount)
}

func TestExecuteAdminSwapReturnShortfall(t *testing.T) {
	assets := twoAssetMix()
	env := newTestEnv(t, assets)
	env.chain.balances[env.reserve] = 2_000_000
	env.chain.balances[env.operatorUsdcAccount(t)] = 150_000
	env.swaps.failQuoteFor[assets[1].MintAddress.String()] = true

	result, err := env.service.ExecuteAdminSwap(context.Background(), 7, 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, uint64(400_000), result.TotalFailedUSDC)
	assert.Equal(t, uint64(150_000), result.ReturnedAmount)
	assert.Equal(t, uint64(250_000), result.ReturnShortfall)
}

func TestExecuteRedeemSwapAdminCoverage(t *testing.T) {
	asset := vaultprogram.UnderlyingAsset{MintAddress: solana.NewWallet().PublicKey(), MintBps: 10_000}
	env := newTestEnv(t, []vaultprogram.UnderlyingAsset{asset})

	env.swaps.prices[asset.MintAddress.String()] = 150.0
	vaultAsset, _, err := vaultpda.DeriveAssociatedTokenAccount(env.vault, asset.MintAddress, vaultprogram.TokenProgramID)
	require.NoError(t, err)
	env.chain.balances[vaultAsset] = 500_000_000
	env.chain.balances[env.reserve] = 9_000_000

	// shares and price are 1e6-scaled: 10 shares at 1.50 => 15 USDC needed.
	result, err := env.service.ExecuteRedeemSwapAdmin(context.Background(), 7, 10_000_000, 1_500_000)
	require.NoError(t, err)

	assert.Equal(t, uint64(15_000_000), result.RequiredUsdc)
	assert.Equal(t, uint64(9_000_000), result.ReserveBalance)
	assert.False(t, result.Covered)
	assert.Equal(t, uint64(6_000_000), result.AdjustedShares)

	require.Len(t, result.Legs, 1)
	assert.Equal(t, LegStatusSwapped, result.Legs[0].Status)

	// 15 USD at 150 USD/token with 9 decimals is 0.1 token.
	assert.Equal(t, []uint64{100_000_000}, env.swaps.quoteAmounts[env.usdcMint.String()])
}

func TestExecuteRedeemSwapAdminFullyCovered(t *testing.T) {
	asset := vaultprogram.UnderlyingAsset{MintAddress: solana.NewWallet().PublicKey(), MintBps: 10_000}
	env := newTestEnv(t, []vaultprogram.UnderlyingAsset{asset})

	env.swaps.prices[asset.MintAddress.String()] = 150.0
	vaultAsset, _, err := vaultpda.DeriveAssociatedTokenAccount(env.vault, asset.MintAddress, vaultprogram.TokenProgramID)
	require.NoError(t, err)
	env.chain.balances[vaultAsset] = 500_000_000
	env.chain.balances[env.reserve] = 20_000_000

	result, err := env.service.ExecuteRedeemSwapAdmin(context.Background(), 7, 10_000_000, 1_500_000)
	require.NoError(t, err)

	assert.True(t, result.Covered)
	assert.Equal(t, uint64(10_000_000), result.AdjustedShares)
	assert.Zero(t, result.TotalFailedUSDC)
}

func TestExecuteRedeemSwapAdminValidation(t *testing.T) {
	env := newTestEnv(t, twoAssetMix())

	_, err := env.service.ExecuteRedeemSwapAdmin(context.Background(), 7, 0, 1_000_000)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.service.ExecuteRedeemSwapAdmin(context.Background(), 7, 1_000_000, 0)
	assert.ErrorIs(t, err, ErrInvalidSharePrice)
}

func TestMulDivFloor(t *testing.T) {
	assert.Equal(t, uint64(600_000), mulBpsFloor(1_000_000, 6000))
	assert.Equal(t, uint64(400_000), mulBpsFloor(1_000_000, 4000))
	assert.Equal(t, uint64(0), mulBpsFloor(1, 4000))

	// Exact even when amount*numerator would overflow 64 bits.
	assert.Equal(t, uint64(12_000_000_000_000_000_000)/2, mulDivFloor(12_000_000_000_000_000_000, 5000, 10_000))
	assert.Equal(t, uint64(6_000_000), mulDivFloor(9_000_000, 1_000_000, 1_500_000))
}
