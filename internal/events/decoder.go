package events

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"unicode"

	"github.com/mr-tron/base58"
)

// Anchor event discriminators: sha256("event:<Name>")[0:8], hex-keyed.
const (
	discFactoryInitialized    = "1456674b14dca23f"
	discVaultCreated          = "751978fe4bec4e73"
	discFactoryFeesUpdated    = "97883a29bd5908f0"
	discVaultFeesUpdated      = "fbdd7e181ed864cf"
	discFactoryAssetsUpdated  = "ed363f30d7c928d7"
	discProtocolFeesCollected = "a5227d9b0f5663bf"
	discVaultDeposited        = "3b3e2bc8dc686443"
)

// EventDiscriminator computes sha256("event:"+name)[0:8] as a hex string.
func EventDiscriminator(name string) string {
	hash := sha256.Sum256([]byte("event:" + name))
	return hex.EncodeToString(hash[:8])
}

// Decoder maps 8-byte discriminators onto per-event payload decoders. The
// zero value is ready to use; NewDecoder exists so the VaultCreated schema can
// be swapped once its wire layout is confirmed.
type Decoder struct {
	vaultCreated vaultCreatedSchema
}

func NewDecoder() *Decoder {
	return &Decoder{vaultCreated: heuristicVaultCreatedSchema{}}
}

// Decode turns one raw event payload into a structured event. It never
// returns an error: unrecognized discriminators and truncated bodies come
// back as *UnknownEvent.
func (d *Decoder) Decode(data []byte) Event {
	if len(data) < 8 {
		return &UnknownEvent{
			Discriminator: hex.EncodeToString(data),
			Raw:           hex.EncodeToString(data),
		}
	}

	disc := hex.EncodeToString(data[:8])
	payload := data[8:]

	var (
		event Event
		ok    bool
	)
	switch disc {
	case discFactoryInitialized:
		event, ok = decodeFactoryInitialized(payload)
	case discFactoryFeesUpdated:
		event, ok = decodeFactoryFeesUpdated(payload)
	case discVaultFeesUpdated:
		event, ok = decodeVaultFeesUpdated(payload)
	case discFactoryAssetsUpdated:
		event, ok = decodeFactoryAssetsUpdated(payload)
	case discProtocolFeesCollected:
		event, ok = decodeProtocolFeesCollected(payload)
	case discVaultDeposited:
		event, ok = decodeVaultDeposited(payload)
	case discVaultCreated:
		schema := d.vaultCreated
		if schema == nil {
			schema = heuristicVaultCreatedSchema{}
		}
		event, ok = schema.decodeVaultCreated(payload)
	}
	if !ok {
		return unknownEvent(disc, payload)
	}
	return event
}

func decodeFactoryInitialized(payload []byte) (Event, bool) {
	cur := newCursor(payload)
	ev := &FactoryInitialized{
		Admin:                   cur.pubkey(),
		FeeRecipient:            cur.pubkey(),
		EntryFeeBps:             cur.u16(),
		ExitFeeBps:              cur.u16(),
		VaultCreationFeeUsdc:    cur.u64(),
		MinManagementFeeBps:     cur.u16(),
		MaxManagementFeeBps:     cur.u16(),
		VaultCreatorFeeRatioBps: cur.u16(),
		PlatformFeeRatioBps:     cur.u16(),
		Timestamp:               cur.i64(),
	}
	ev.TimestampUTC = isoUTC(ev.Timestamp)
	return ev, cur.ok()
}

func decodeFactoryFeesUpdated(payload []byte) (Event, bool) {
	cur := newCursor(payload)
	ev := &FactoryFeesUpdated{
		Admin:                   cur.pubkey(),
		EntryFeeBps:             cur.u16(),
		ExitFeeBps:              cur.u16(),
		VaultCreationFeeUsdc:    cur.u64(),
		MinManagementFeeBps:     cur.u16(),
		MaxManagementFeeBps:     cur.u16(),
		VaultCreatorFeeRatioBps: cur.u16(),
		PlatformFeeRatioBps:     cur.u16(),
		Timestamp:               cur.i64(),
	}
	ev.TimestampUTC = isoUTC(ev.Timestamp)
	return ev, cur.ok()
}

func decodeVaultFeesUpdated(payload []byte) (Event, bool) {
	cur := newCursor(payload)
	ev := &VaultFeesUpdated{
		Vault:            cur.pubkey(),
		Admin:            cur.pubkey(),
		ManagementFeeBps: cur.u16(),
		Timestamp:        cur.i64(),
	}
	ev.TimestampUTC = isoUTC(ev.Timestamp)
	return ev, cur.ok()
}

func decodeFactoryAssetsUpdated(payload []byte) (Event, bool) {
	cur := newCursor(payload)
	ev := &FactoryAssetsUpdated{
		Factory:    cur.pubkey(),
		Admin:      cur.pubkey(),
		AssetCount: cur.u64(),
		Timestamp:  cur.i64(),
	}
	ev.TimestampUTC = isoUTC(ev.Timestamp)
	return ev, cur.ok()
}

func decodeProtocolFeesCollected(payload []byte) (Event, bool) {
	cur := newCursor(payload)
	ev := &ProtocolFeesCollected{
		Vault:                   cur.pubkey(),
		Collector:               cur.pubkey(),
		TotalFeesUsdc:           cur.u64(),
		CreatorShare:            cur.u64(),
		PlatformShare:           cur.u64(),
		VaultCreatorFeeRatioBps: cur.u16(),
		PlatformFeeRatioBps:     cur.u16(),
		Timestamp:               cur.i64(),
	}
	ev.TimestampUTC = isoUTC(ev.Timestamp)
	return ev, cur.ok()
}

func decodeVaultDeposited(payload []byte) (Event, bool) {
	cur := newCursor(payload)
	ev := &VaultDeposited{
		Vault:             cur.pubkey(),
		User:              cur.pubkey(),
		Amount:            cur.u64(),
		EntryFee:          cur.u64(),
		VaultTokensMinted: cur.u64(),
		TotalAssets:       cur.u64(),
		TotalSupply:       cur.u64(),
		SharePrice:        cur.u64(),
		Timestamp:         cur.i64(),
	}
	ev.TimestampUTC = isoUTC(ev.Timestamp)
	return ev, cur.ok()
}

// vaultCreatedSchema isolates the VaultCreated body decoding. The current
// implementation is heuristic because the trailing string/vector layout is
// unconfirmed on the deployed program.
type vaultCreatedSchema interface {
	decodeVaultCreated(payload []byte) (Event, bool)
}

type heuristicVaultCreatedSchema struct{}

func (heuristicVaultCreatedSchema) decodeVaultCreated(payload []byte) (Event, bool) {
	cur := newCursor(payload)
	ev := &VaultCreated{
		Vault:      cur.pubkey(),
		Factory:    cur.pubkey(),
		Admin:      cur.pubkey(),
		VaultIndex: cur.u32(),
	}
	if !cur.ok() {
		return nil, false
	}

	tail := payload[cur.pos:]
	var rest []byte
	ev.VaultName, ev.VaultSymbol, rest = recoverNameSymbol(tail)
	ev.ManagementFeeBps = scanManagementFeeBps(rest)
	ev.Timestamp = scanPlausibleTimestamp(rest)
	if ev.Timestamp != 0 {
		ev.TimestampUTC = isoUTC(ev.Timestamp)
	}
	return ev, true
}

// recoverNameSymbol looks for two borsh length-prefixed printable strings and
// falls back to the first printable-ASCII runs. It returns the bytes after the
// consumed strings so later scans do not trip over length prefixes.
func recoverNameSymbol(tail []byte) (name, symbol string, rest []byte) {
	if first, afterFirst, ok := readPrefixedString(tail); ok {
		if second, afterSecond, ok := readPrefixedString(afterFirst); ok {
			return first, second, afterSecond
		}
		name = first
		rest = afterFirst
	}

	if name == "" {
		rest = tail
		runs := printableRuns(tail, 2)
		if len(runs) > 0 {
			name = runs[0]
		}
		if len(runs) > 1 {
			symbol = runs[1]
		}
	}
	return name, symbol, rest
}

func readPrefixedString(data []byte) (string, []byte, bool) {
	if len(data) < 4 {
		return "", nil, false
	}
	length := binary.LittleEndian.Uint32(data)
	if length == 0 || length > 64 || int(length) > len(data)-4 {
		return "", nil, false
	}
	candidate := data[4 : 4+length]
	for _, b := range candidate {
		if b > unicode.MaxASCII || !unicode.IsPrint(rune(b)) {
			return "", nil, false
		}
	}
	return string(candidate), data[4+length:], true
}

func printableRuns(data []byte, minLen int) []string {
	var runs []string
	start := -1
	for i, b := range data {
		printable := b <= unicode.MaxASCII && unicode.IsPrint(rune(b))
		if printable && start < 0 {
			start = i
		}
		if (!printable || i == len(data)-1) && start >= 0 {
			end := i
			if printable {
				end = i + 1
			}
			if end-start >= minLen {
				runs = append(runs, string(data[start:end]))
			}
			start = -1
		}
	}
	return runs
}

// scanManagementFeeBps returns the first little-endian u16 in the plausible
// management fee range 50..2000, or 0 when nothing matches.
func scanManagementFeeBps(tail []byte) uint16 {
	for i := 0; i+2 <= len(tail); i++ {
		v := binary.LittleEndian.Uint16(tail[i:])
		if v >= 50 && v <= 2000 {
			return v
		}
	}
	return 0
}

// scanPlausibleTimestamp returns the first little-endian i64 that lands in a
// plausible unix-seconds window, or 0.
func scanPlausibleTimestamp(tail []byte) int64 {
	const (
		lo = int64(1_388_534_400) // 2014-01-01
		hi = int64(2_019_686_400) // 2034-01-01
	)
	for i := 0; i+8 <= len(tail); i++ {
		v := int64(binary.LittleEndian.Uint64(tail[i:]))
		if v >= lo && v <= hi {
			return v
		}
	}
	return 0
}

func unknownEvent(disc string, payload []byte) *UnknownEvent {
	ev := &UnknownEvent{
		Discriminator: disc,
		Raw:           hex.EncodeToString(payload),
	}
	for i := 0; i+32 <= len(payload); i += 32 {
		chunk := payload[i : i+32]
		if allZero(chunk) {
			continue
		}
		ev.CandidatePubkeys = append(ev.CandidatePubkeys, base58.Encode(chunk))
	}
	return ev
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// cursor walks a payload with fixed-width little-endian reads. Any overrun
// flips failed and every later read returns a zero value.
type cursor struct {
	data   []byte
	pos    int
	failed bool
}

func newCursor(data []byte) *cursor { return &cursor{data: data} }

func (c *cursor) ok() bool { return !c.failed }

func (c *cursor) take(n int) []byte {
	if c.failed || c.pos+n > len(c.data) {
		c.failed = true
		return nil
	}
	out := c.data[c.pos : c.pos+n]
	c.pos += n
	return out
}

func (c *cursor) pubkey() string {
	b := c.take(32)
	if b == nil {
		return ""
	}
	return base58.Encode(b)
}

func (c *cursor) u16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) u64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (c *cursor) i64() int64 { return int64(c.u64()) }
