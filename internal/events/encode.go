package events

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// Encoders are the exact inverses of the fixed-layout decoders. They exist
// for fixture generation and for the round-trip checks the decoders are held
// to; VaultCreated and Unknown have no encoder because their layouts are not
// fixed.

func EncodeFactoryInitialized(ev *FactoryInitialized) ([]byte, error) {
	enc := newEventEncoder(discFactoryInitialized)
	enc.pubkey(ev.Admin)
	enc.pubkey(ev.FeeRecipient)
	enc.u16(ev.EntryFeeBps)
	enc.u16(ev.ExitFeeBps)
	enc.u64(ev.VaultCreationFeeUsdc)
	enc.u16(ev.MinManagementFeeBps)
	enc.u16(ev.MaxManagementFeeBps)
	enc.u16(ev.VaultCreatorFeeRatioBps)
	enc.u16(ev.PlatformFeeRatioBps)
	enc.i64(ev.Timestamp)
	return enc.bytes()
}

func EncodeFactoryFeesUpdated(ev *FactoryFeesUpdated) ([]byte, error) {
	enc := newEventEncoder(discFactoryFeesUpdated)
	enc.pubkey(ev.Admin)
	enc.u16(ev.EntryFeeBps)
	enc.u16(ev.ExitFeeBps)
	enc.u64(ev.VaultCreationFeeUsdc)
	enc.u16(ev.MinManagementFeeBps)
	enc.u16(ev.MaxManagementFeeBps)
	enc.u16(ev.VaultCreatorFeeRatioBps)
	enc.u16(ev.PlatformFeeRatioBps)
	enc.i64(ev.Timestamp)
	return enc.bytes()
}

func EncodeVaultFeesUpdated(ev *VaultFeesUpdated) ([]byte, error) {
	enc := newEventEncoder(discVaultFeesUpdated)
	enc.pubkey(ev.Vault)
	enc.pubkey(ev.Admin)
	enc.u16(ev.ManagementFeeBps)
	enc.i64(ev.Timestamp)
	return enc.bytes()
}

func EncodeFactoryAssetsUpdated(ev *FactoryAssetsUpdated) ([]byte, error) {
	enc := newEventEncoder(discFactoryAssetsUpdated)
	enc.pubkey(ev.Factory)
	enc.pubkey(ev.Admin)
	enc.u64(ev.AssetCount)
	enc.i64(ev.Timestamp)
	return enc.bytes()
}

func EncodeProtocolFeesCollected(ev *ProtocolFeesCollected) ([]byte, error) {
	enc := newEventEncoder(discProtocolFeesCollected)
	enc.pubkey(ev.Vault)
	enc.pubkey(ev.Collector)
	enc.u64(ev.TotalFeesUsdc)
	enc.u64(ev.CreatorShare)
	enc.u64(ev.PlatformShare)
	enc.u16(ev.VaultCreatorFeeRatioBps)
	enc.u16(ev.PlatformFeeRatioBps)
	enc.i64(ev.Timestamp)
	return enc.bytes()
}

func EncodeVaultDeposited(ev *VaultDeposited) ([]byte, error) {
	enc := newEventEncoder(discVaultDeposited)
	enc.pubkey(ev.Vault)
	enc.pubkey(ev.User)
	enc.u64(ev.Amount)
	enc.u64(ev.EntryFee)
	enc.u64(ev.VaultTokensMinted)
	enc.u64(ev.TotalAssets)
	enc.u64(ev.TotalSupply)
	enc.u64(ev.SharePrice)
	enc.i64(ev.Timestamp)
	return enc.bytes()
}

type eventEncoder struct {
	buf []byte
	err error
}

func newEventEncoder(discHex string) *eventEncoder {
	disc, err := hex.DecodeString(discHex)
	return &eventEncoder{buf: disc, err: err}
}

func (e *eventEncoder) pubkey(b58 string) {
	if e.err != nil {
		return
	}
	raw, err := base58.Decode(b58)
	if err != nil {
		e.err = fmt.Errorf("decode pubkey %q: %w", b58, err)
		return
	}
	if len(raw) != 32 {
		e.err = fmt.Errorf("pubkey %q is %d bytes, want 32", b58, len(raw))
		return
	}
	e.buf = append(e.buf, raw...)
}

func (e *eventEncoder) u16(v uint16) {
	if e.err == nil {
		e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	}
}

func (e *eventEncoder) u64(v uint64) {
	if e.err == nil {
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	}
}

func (e *eventEncoder) i64(v int64) { e.u64(uint64(v)) }

func (e *eventEncoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}
