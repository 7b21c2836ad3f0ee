package events

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDiscriminators(t *testing.T) {
	assert.Equal(t, discVaultDeposited, EventDiscriminator("VaultDeposited"))
	assert.Equal(t, discVaultCreated, EventDiscriminator("VaultCreated"))
	assert.Equal(t, discFactoryInitialized, EventDiscriminator("FactoryInitialized"))
	assert.Equal(t, discFactoryFeesUpdated, EventDiscriminator("FactoryFeesUpdated"))
	assert.Equal(t, discVaultFeesUpdated, EventDiscriminator("VaultFeesUpdated"))
	assert.Equal(t, discFactoryAssetsUpdated, EventDiscriminator("FactoryAssetsUpdated"))
	assert.Equal(t, discProtocolFeesCollected, EventDiscriminator("ProtocolFeesCollected"))
}

func TestDecodeVaultDeposited(t *testing.T) {
	vault := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()

	payload, err := hex.DecodeString(discVaultDeposited)
	require.NoError(t, err)
	payload = append(payload, vault.Bytes()...)
	payload = append(payload, user.Bytes()...)
	for _, v := range []uint64{50_000_000, 125_000, 49_875_000, 1_049_875_000, 1_000_000_000, 1_049_875} {
		payload = binary.LittleEndian.AppendUint64(payload, v)
	}
	payload = binary.LittleEndian.AppendUint64(payload, uint64(1_717_200_000))

	ev, ok := NewDecoder().Decode(payload).(*VaultDeposited)
	require.True(t, ok)
	assert.Equal(t, vault.String(), ev.Vault)
	assert.Equal(t, user.String(), ev.User)
	assert.Equal(t, uint64(50_000_000), ev.Amount)
	assert.Equal(t, uint64(125_000), ev.EntryFee)
	assert.Equal(t, uint64(49_875_000), ev.VaultTokensMinted)
	assert.Equal(t, uint64(1_049_875_000), ev.TotalAssets)
	assert.Equal(t, uint64(1_000_000_000), ev.TotalSupply)
	assert.Equal(t, uint64(1_049_875), ev.SharePrice)
	assert.Equal(t, int64(1_717_200_000), ev.Timestamp)
	assert.Equal(t, "2024-06-01T00:00:00Z", ev.TimestampUTC)
}

func TestDecodeIsIdempotent(t *testing.T) {
	encoded, err := EncodeVaultFeesUpdated(&VaultFeesUpdated{
		Vault:            solana.NewWallet().PublicKey().String(),
		Admin:            solana.NewWallet().PublicKey().String(),
		ManagementFeeBps: 200,
		Timestamp:        1_717_200_000,
	})
	require.NoError(t, err)

	decoder := NewDecoder()
	first := decoder.Decode(encoded)
	second := decoder.Decode(encoded)
	assert.Equal(t, first, second)
}

func TestRoundTripFixedLayoutEvents(t *testing.T) {
	adminKey := solana.NewWallet().PublicKey().String()
	vaultKey := solana.NewWallet().PublicKey().String()

	cases := []struct {
		name   string
		encode func() ([]byte, error)
		again  func(Event) ([]byte, error)
	}{
		{
			name: "FactoryInitialized",
			encode: func() ([]byte, error) {
				return EncodeFactoryInitialized(&FactoryInitialized{
					Admin:                   adminKey,
					FeeRecipient:            vaultKey,
					EntryFeeBps:             25,
					ExitFeeBps:              25,
					VaultCreationFeeUsdc:    10_000_000,
					MinManagementFeeBps:     50,
					MaxManagementFeeBps:     300,
					VaultCreatorFeeRatioBps: 7000,
					PlatformFeeRatioBps:     3000,
					Timestamp:               1_717_200_000,
				})
			},
			again: func(ev Event) ([]byte, error) {
				return EncodeFactoryInitialized(ev.(*FactoryInitialized))
			},
		},
		{
			name: "FactoryFeesUpdated",
			encode: func() ([]byte, error) {
				return EncodeFactoryFeesUpdated(&FactoryFeesUpdated{
					Admin:                   adminKey,
					EntryFeeBps:             30,
					ExitFeeBps:              20,
					VaultCreationFeeUsdc:    5_000_000,
					MinManagementFeeBps:     50,
					MaxManagementFeeBps:     500,
					VaultCreatorFeeRatioBps: 6000,
					PlatformFeeRatioBps:     4000,
					Timestamp:               1_720_000_000,
				})
			},
			again: func(ev Event) ([]byte, error) {
				return EncodeFactoryFeesUpdated(ev.(*FactoryFeesUpdated))
			},
		},
		{
			name: "VaultFeesUpdated",
			encode: func() ([]byte, error) {
				return EncodeVaultFeesUpdated(&VaultFeesUpdated{
					Vault: vaultKey, Admin: adminKey, ManagementFeeBps: 150, Timestamp: 1_718_000_000,
				})
			},
			again: func(ev Event) ([]byte, error) {
				return EncodeVaultFeesUpdated(ev.(*VaultFeesUpdated))
			},
		},
		{
			name: "FactoryAssetsUpdated",
			encode: func() ([]byte, error) {
				return EncodeFactoryAssetsUpdated(&FactoryAssetsUpdated{
					Factory: vaultKey, Admin: adminKey, AssetCount: 12, Timestamp: 1_718_000_000,
				})
			},
			again: func(ev Event) ([]byte, error) {
				return EncodeFactoryAssetsUpdated(ev.(*FactoryAssetsUpdated))
			},
		},
		{
			name: "ProtocolFeesCollected",
			encode: func() ([]byte, error) {
				return EncodeProtocolFeesCollected(&ProtocolFeesCollected{
					Vault: vaultKey, Collector: adminKey,
					TotalFeesUsdc: 1_000_000, CreatorShare: 700_000, PlatformShare: 300_000,
					VaultCreatorFeeRatioBps: 7000, PlatformFeeRatioBps: 3000,
					Timestamp: 1_719_000_000,
				})
			},
			again: func(ev Event) ([]byte, error) {
				return EncodeProtocolFeesCollected(ev.(*ProtocolFeesCollected))
			},
		},
		{
			name: "VaultDeposited",
			encode: func() ([]byte, error) {
				return EncodeVaultDeposited(&VaultDeposited{
					Vault: vaultKey, User: adminKey,
					Amount: 1, EntryFee: 2, VaultTokensMinted: 3,
					TotalAssets: 4, TotalSupply: 5, SharePrice: 6,
					Timestamp: 1_719_000_000,
				})
			},
			again: func(ev Event) ([]byte, error) {
				return EncodeVaultDeposited(ev.(*VaultDeposited))
			},
		},
	}

	decoder := NewDecoder()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			original, err := tc.encode()
			require.NoError(t, err)

			decoded := decoder.Decode(original)
			reencoded, err := tc.again(decoded)
			require.NoError(t, err)
			assert.Equal(t, original, reencoded)
		})
	}
}

func TestDecodeVaultCreatedHeuristic(t *testing.T) {
	vault := solana.NewWallet().PublicKey()
	factory := solana.NewWallet().PublicKey()
	admin := solana.NewWallet().PublicKey()

	payload, err := hex.DecodeString(discVaultCreated)
	require.NoError(t, err)
	payload = append(payload, vault.Bytes()...)
	payload = append(payload, factory.Bytes()...)
	payload = append(payload, admin.Bytes()...)
	payload = binary.LittleEndian.AppendUint32(payload, 42)
	payload = binary.LittleEndian.AppendUint32(payload, 10)
	payload = append(payload, []byte("Index Fund")...)
	payload = binary.LittleEndian.AppendUint32(payload, 3)
	payload = append(payload, []byte("IDX")...)
	payload = binary.LittleEndian.AppendUint16(payload, 150)
	payload = binary.LittleEndian.AppendUint64(payload, uint64(1_717_200_000))

	ev, ok := NewDecoder().Decode(payload).(*VaultCreated)
	require.True(t, ok)
	assert.Equal(t, vault.String(), ev.Vault)
	assert.Equal(t, factory.String(), ev.Factory)
	assert.Equal(t, admin.String(), ev.Admin)
	assert.Equal(t, uint32(42), ev.VaultIndex)
	assert.Equal(t, "Index Fund", ev.VaultName)
	assert.Equal(t, "IDX", ev.VaultSymbol)
	assert.Equal(t, uint16(150), ev.ManagementFeeBps)
	assert.Equal(t, int64(1_717_200_000), ev.Timestamp)
}

func TestDecodeUnknownDiscriminator(t *testing.T) {
	pk := solana.NewWallet().PublicKey()
	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x11, 0x22, 0x33}
	payload = append(payload, pk.Bytes()...)

	ev, ok := NewDecoder().Decode(payload).(*UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, "deadbeef00112233", ev.Discriminator)
	assert.Contains(t, ev.CandidatePubkeys, pk.String())
}

func TestDecodeTruncatedPayloadFallsBack(t *testing.T) {
	payload, err := hex.DecodeString(discVaultDeposited)
	require.NoError(t, err)
	payload = append(payload, make([]byte, 40)...) // far short of the full layout

	_, ok := NewDecoder().Decode(payload).(*UnknownEvent)
	assert.True(t, ok)

	_, ok = NewDecoder().Decode([]byte{0x01, 0x02}).(*UnknownEvent)
	assert.True(t, ok)
}
