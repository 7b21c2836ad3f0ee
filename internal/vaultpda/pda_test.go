package vaultpda

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("5tAdLifeaGj3oUVVpr7gG5ntjW6c2Lg3sY2ftBCi8MkZ")

func TestDeriveFactoryPDADeterministic(t *testing.T) {
	first, bump1, err := DeriveFactoryPDA(testProgramID)
	require.NoError(t, err)
	second, bump2, err := DeriveFactoryPDA(testProgramID)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, bump1, bump2)
	require.False(t, first.IsZero())
	require.False(t, first.IsOnCurve())
}

func TestDeriveVaultPDAVariesByIndex(t *testing.T) {
	factory, _, err := DeriveFactoryPDA(testProgramID)
	require.NoError(t, err)

	vault0, _, err := DeriveVaultPDA(testProgramID, factory, 0)
	require.NoError(t, err)
	vault1, _, err := DeriveVaultPDA(testProgramID, factory, 1)
	require.NoError(t, err)

	require.NotEqual(t, vault0, vault1)
}

func TestDeriveVaultReservePDAVariesByVault(t *testing.T) {
	factory, _, err := DeriveFactoryPDA(testProgramID)
	require.NoError(t, err)
	vault0 := MustDeriveVaultPDA(testProgramID, factory, 0)
	vault1 := MustDeriveVaultPDA(testProgramID, factory, 1)

	reserve0, _, err := DeriveVaultReservePDA(testProgramID, vault0)
	require.NoError(t, err)
	reserve1, _, err := DeriveVaultReservePDA(testProgramID, vault1)
	require.NoError(t, err)

	require.NotEqual(t, reserve0, reserve1)
}

func TestDeriveAssociatedTokenAccountMatchesClassicDerivation(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	expected, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	require.NoError(t, err)

	got, _, err := DeriveAssociatedTokenAccount(wallet, mint, solana.TokenProgramID)
	require.NoError(t, err)
	require.Equal(t, expected, got)
}
