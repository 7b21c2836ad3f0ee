package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/defimarkets/vault-backend/internal/txbuilder"
)

// RPCChain adapts *rpc.Client to the ChainClient surface.
type RPCChain struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
	maxRetries *uint
}

func NewRPCChain(client *rpc.Client, commitment rpc.CommitmentType, maxRetries *uint) *RPCChain {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &RPCChain{client: client, commitment: commitment, maxRetries: maxRetries}
}

func (c *RPCChain) AccountInfo(ctx context.Context, account solana.PublicKey) (solana.PublicKey, []byte, error) {
	result, err := c.client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
	})
	if err != nil {
		if isNotFoundRPCError(err) {
			return solana.PublicKey{}, nil, fmt.Errorf("account %s: %w", account, ErrAccountNotFound)
		}
		return solana.PublicKey{}, nil, fmt.Errorf("fetch account %s: %w", account, err)
	}
	if result == nil || result.Value == nil {
		return solana.PublicKey{}, nil, fmt.Errorf("account %s: %w", account, ErrAccountNotFound)
	}
	return result.Value.Owner, result.Value.Data.GetBinary(), nil
}

func (c *RPCChain) LamportsBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	result, err := c.client.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("fetch balance of %s: %w", account, err)
	}
	return result.Value, nil
}

func (c *RPCChain) TokenAccountBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	result, err := c.client.GetTokenAccountBalance(ctx, tokenAccount, c.commitment)
	if err != nil {
		if isNotFoundRPCError(err) {
			return 0, fmt.Errorf("token account %s: %w", tokenAccount, ErrAccountNotFound)
		}
		return 0, fmt.Errorf("fetch token balance of %s: %w", tokenAccount, err)
	}
	if result == nil || result.Value == nil {
		return 0, fmt.Errorf("token account %s: %w", tokenAccount, ErrAccountNotFound)
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

func (c *RPCChain) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := c.client.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("fetch latest blockhash: %w", err)
	}
	return result.Value.Blockhash, nil
}

func (c *RPCChain) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	opts := rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: c.commitment,
	}
	if c.maxRetries != nil {
		retries := *c.maxRetries
		opts.MaxRetries = &retries
	}
	return c.client.SendTransactionWithOpts(ctx, tx, opts)
}

func (c *RPCChain) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	result, err := c.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

func (c *RPCChain) Transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	version := uint64(0)
	return c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &version,
	})
}

func (c *RPCChain) LookupTables(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	return txbuilder.ResolveLookupTables(ctx, c.client, keys)
}

func isNotFoundRPCError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not found")
}
