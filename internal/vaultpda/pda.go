package vaultpda

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed schemes mirror the on-chain vault program. All derivations are pure;
// callers that need the bump keep it, everyone else uses the Must* helpers.

func DeriveFactoryPDA(vaultProgramID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("factory_v2")}, vaultProgramID)
}

func DeriveVaultPDA(vaultProgramID, factory solana.PublicKey, vaultIndex uint32) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault"), factory.Bytes(), u32LE(vaultIndex)}, vaultProgramID)
}

func DeriveVaultReservePDA(vaultProgramID, vault solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault_stablecoin_account"), vault.Bytes()}, vaultProgramID)
}

func DeriveVaultMintPDA(vaultProgramID, vault solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault_mint"), vault.Bytes()}, vaultProgramID)
}

func DeriveVaultTokenAccountPDA(vaultProgramID, vault solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault_token_account"), vault.Bytes()}, vaultProgramID)
}

func DeriveSwapInstructionDataPDA(vaultProgramID, vault, assetMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("jup_ix"), vault.Bytes(), assetMint.Bytes()}, vaultProgramID)
}

// DeriveAssociatedTokenAccount resolves the ATA for wallet/mint under the given
// token program. solana.FindAssociatedTokenAddress assumes the classic token
// program, so Token-2022 mints need the seeds spelled out.
func DeriveAssociatedTokenAccount(wallet, mint, tokenProgramID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{wallet.Bytes(), tokenProgramID.Bytes(), mint.Bytes()},
		solana.SPLAssociatedTokenAccountProgramID,
	)
}

func MustDeriveVaultPDA(vaultProgramID, factory solana.PublicKey, vaultIndex uint32) solana.PublicKey {
	pk, _, err := DeriveVaultPDA(vaultProgramID, factory, vaultIndex)
	if err != nil {
		panic(fmt.Errorf("derive vault PDA: %w", err))
	}
	return pk
}

func u32LE(value uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return buf
}
