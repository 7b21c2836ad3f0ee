package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/defimarkets/vault-backend/internal/vaultpda"
	"github.com/defimarkets/vault-backend/internal/vaultprogram"
)

// vaultSnapshot bundles the derived addresses and decoded on-chain state one
// orchestration run works against. Balances are read separately and later;
// they can move between the read and the send.
type vaultSnapshot struct {
	Factory        solana.PublicKey
	Vault          solana.PublicKey
	Reserve        solana.PublicKey
	FactoryState   *vaultprogram.Factory
	VaultState     *vaultprogram.Vault
	VaultProgramID solana.PublicKey
}

func (s *Service) loadVaultSnapshot(ctx context.Context, vaultIndex uint32) (*vaultSnapshot, error) {
	programID := s.cfg.VaultProgramID

	factoryPDA, _, err := vaultpda.DeriveFactoryPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive factory: %w", err)
	}
	vaultPDA, _, err := vaultpda.DeriveVaultPDA(programID, factoryPDA, vaultIndex)
	if err != nil {
		return nil, fmt.Errorf("derive vault %d: %w", vaultIndex, err)
	}
	reservePDA, _, err := vaultpda.DeriveVaultReservePDA(programID, vaultPDA)
	if err != nil {
		return nil, fmt.Errorf("derive vault reserve: %w", err)
	}

	_, factoryData, err := s.chain.AccountInfo(ctx, factoryPDA)
	if err != nil {
		return nil, fmt.Errorf("load factory: %w", err)
	}
	factoryState, err := vaultprogram.ParseFactory(factoryData)
	if err != nil {
		return nil, fmt.Errorf("decode factory: %w", err)
	}

	_, vaultData, err := s.chain.AccountInfo(ctx, vaultPDA)
	if err != nil {
		return nil, fmt.Errorf("load vault %d: %w", vaultIndex, err)
	}
	vaultState, err := vaultprogram.ParseVault(vaultData)
	if err != nil {
		return nil, fmt.Errorf("decode vault %d: %w", vaultIndex, err)
	}

	return &vaultSnapshot{
		Factory:        factoryPDA,
		Vault:          vaultPDA,
		Reserve:        reservePDA,
		FactoryState:   factoryState,
		VaultState:     vaultState,
		VaultProgramID: programID,
	}, nil
}

// mintInfo reads a mint account and reports which token program owns it plus
// its decimals. Token-2022 mints are owned by a different program and every
// downstream ATA derivation depends on that.
func (s *Service) mintInfo(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	owner, data, err := s.chain.AccountInfo(ctx, mint)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("load mint %s: %w", mint, err)
	}
	if !owner.Equals(vaultprogram.TokenProgramID) && !owner.Equals(vaultprogram.Token2022ProgramID) {
		return solana.PublicKey{}, 0, fmt.Errorf("mint %s owned by %s, not a token program", mint, owner)
	}
	// SPL mint layout: decimals sits at offset 44 in both token programs.
	if len(data) < 45 {
		return solana.PublicKey{}, 0, fmt.Errorf("mint %s: account data too short (%d bytes)", mint, len(data))
	}
	return owner, data[44], nil
}

// tokenAccountBalanceOrZero treats a missing token account as an empty one.
func (s *Service) tokenAccountBalanceOrZero(ctx context.Context, account solana.PublicKey) (uint64, error) {
	balance, err := s.chain.TokenAccountBalance(ctx, account)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ensureTokenAccount derives the ATA for wallet/mint and, when it does not
// exist yet, returns the create instruction to prepend to the transaction.
func (s *Service) ensureTokenAccount(ctx context.Context, payer, wallet, mint, tokenProgramID solana.PublicKey) (solana.PublicKey, []solana.Instruction, error) {
	ata, _, err := vaultpda.DeriveAssociatedTokenAccount(wallet, mint, tokenProgramID)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("derive token account for %s/%s: %w", wallet, mint, err)
	}

	_, _, err = s.chain.AccountInfo(ctx, ata)
	if err == nil {
		return ata, nil, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return solana.PublicKey{}, nil, err
	}

	createIx := newCreateIdempotentATAInstruction(payer, ata, wallet, mint, tokenProgramID)
	return ata, []solana.Instruction{createIx}, nil
}

// newCreateIdempotentATAInstruction builds the associated token account
// program's CreateIdempotent instruction (discriminant 1). The generated
// builder in solana-go only covers plain Create and hardwires the classic
// token program.
func newCreateIdempotentATAInstruction(payer, ata, wallet, mint, tokenProgramID solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(ata).WRITE(),
		solana.Meta(wallet),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(tokenProgramID),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{1})
}

// newTokenTransferInstruction moves SPL tokens between two accounts owned by
// owner. Classic token program only; the engine uses it for the stablecoin,
// which is a classic mint.
func newTokenTransferInstruction(source, destination, owner solana.PublicKey, amount uint64) (solana.Instruction, error) {
	ix, err := token.NewTransferInstruction(amount, source, destination, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build token transfer: %w", err)
	}
	return ix, nil
}
