package vaultprogram

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	MaxBps = uint16(10_000)

	DefaultEntryFeeBps         = uint16(25)
	DefaultExitFeeBps          = uint16(25)
	DefaultVaultCreationFee    = uint64(10_000_000)
	DefaultMinManagementFeeBps = uint16(50)
	DefaultMaxManagementFeeBps = uint16(300)
)

var (
	// The two token programs the vault program accepts for underlying assets.
	TokenProgramID     = solana.TokenProgramID
	Token2022ProgramID = solana.Token2022ProgramID

	accountFactoryDiscriminator = [8]byte{0x9f, 0x44, 0xc0, 0x3d, 0x30, 0xf9, 0xd8, 0xca}
	accountVaultDiscriminator   = [8]byte{0xd3, 0x08, 0xe8, 0x2b, 0x02, 0x98, 0x75, 0x77}
)

type UnderlyingAsset struct {
	MintAddress solana.PublicKey
	MintBps     uint16
}

type Factory struct {
	Bump                    uint8
	Admin                   solana.PublicKey
	FeeRecipient            solana.PublicKey
	VaultCount              uint32
	State                   uint8
	EntryFeeBps             uint16
	ExitFeeBps              uint16
	VaultCreationFeeUsdc    uint64
	MinManagementFeeBps     uint16
	MaxManagementFeeBps     uint16
	VaultCreatorFeeRatioBps uint16
	PlatformFeeRatioBps     uint16
}

type Vault struct {
	Bump                      uint8
	VaultIndex                uint32
	Factory                   solana.PublicKey
	Admin                     solana.PublicKey
	VaultName                 string
	VaultSymbol               string
	UnderlyingAssets          []UnderlyingAsset
	ManagementFees            uint16
	State                     uint8
	TotalAssets               uint64
	TotalSupply               uint64
	CreatedAt                 int64
	LastFeeAccrualTs          int64
	AccruedManagementFeesUsdc uint64
}

const (
	VaultStateActive = uint8(0)
	VaultStatePaused = uint8(1)
	VaultStateClosed = uint8(2)
)

func ParseFactory(data []byte) (*Factory, error) {
	payload, err := stripDiscriminator(data, accountFactoryDiscriminator, "Factory")
	if err != nil {
		return nil, err
	}

	var factory Factory
	if err := bin.NewBorshDecoder(payload).Decode(&factory); err != nil {
		return nil, fmt.Errorf("decode Factory account: %w", err)
	}
	return &factory, nil
}

func ParseVault(data []byte) (*Vault, error) {
	payload, err := stripDiscriminator(data, accountVaultDiscriminator, "Vault")
	if err != nil {
		return nil, err
	}

	var vault Vault
	if err := bin.NewBorshDecoder(payload).Decode(&vault); err != nil {
		return nil, fmt.Errorf("decode Vault account: %w", err)
	}
	return &vault, nil
}

func stripDiscriminator(data []byte, want [8]byte, name string) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%s account data too short: %d bytes", name, len(data))
	}
	if !bytes.Equal(data[:8], want[:]) {
		return nil, fmt.Errorf("%s account discriminator mismatch", name)
	}
	return data[8:], nil
}
