package txbuilder

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	lookup "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
)

// BuildRequest carries everything needed to assemble one signable versioned
// transaction. Retries construct a fresh request (new quote, new blockhash)
// instead of mutating a previous one.
type BuildRequest struct {
	Payer                         solana.PublicKey
	Instructions                  []solana.Instruction
	Tables                        map[solana.PublicKey]solana.PublicKeySlice
	Blockhash                     solana.Hash
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
}

// Build assembles a v0 transaction from req. Pure: no RPC, no signing.
func Build(req BuildRequest) (*solana.Transaction, error) {
	if req.Payer.IsZero() {
		return nil, fmt.Errorf("build transaction: payer is unset")
	}
	if len(req.Instructions) == 0 {
		return nil, fmt.Errorf("build transaction: no instructions")
	}

	instructions := make([]solana.Instruction, 0, len(req.Instructions)+2)
	if req.ComputeUnitLimit > 0 {
		cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(req.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		instructions = append(instructions, cuLimitIx)
	}
	if req.ComputeUnitPriceMicroLamports > 0 {
		cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(req.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		instructions = append(instructions, cuPriceIx)
	}
	instructions = append(instructions, req.Instructions...)

	tx, err := solana.NewTransaction(
		instructions,
		req.Blockhash,
		solana.TransactionPayer(req.Payer),
		solana.TransactionAddressTables(req.Tables),
	)
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	return tx, nil
}

// Sign signs tx with the given key, which must cover every required signer.
func Sign(tx *solana.Transaction, signer solana.PrivateKey) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if signer.PublicKey().Equals(key) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

// ResolveLookupTables fetches and decodes the referenced address lookup
// tables in one batched account read. Unknown or empty accounts fail the
// resolve; a transaction built against a missing table is unusable anyway.
func ResolveLookupTables(ctx context.Context, client *rpc.Client, keys []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(keys))
	if len(keys) == 0 {
		return tables, nil
	}

	result, err := client.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch lookup tables: %w", err)
	}
	if result == nil || len(result.Value) != len(keys) {
		return nil, fmt.Errorf("fetch lookup tables: short response")
	}

	for i, account := range result.Value {
		if account == nil || account.Data == nil {
			return nil, fmt.Errorf("lookup table %s not found", keys[i])
		}
		state, err := lookup.DecodeAddressLookupTableState(account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("decode lookup table %s: %w", keys[i], err)
		}
		tables[keys[i]] = state.Addresses
	}
	return tables, nil
}
