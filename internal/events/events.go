package events

import "time"

// Event is one structured record recovered from an on-chain program log.
// Decoding never fails; payloads with no matching discriminator or a broken
// body come back as *UnknownEvent.
type Event interface {
	EventName() string
}

type FactoryInitialized struct {
	Admin                   string `json:"admin"`
	FeeRecipient            string `json:"feeRecipient"`
	EntryFeeBps             uint16 `json:"entryFeeBps"`
	ExitFeeBps              uint16 `json:"exitFeeBps"`
	VaultCreationFeeUsdc    uint64 `json:"vaultCreationFeeUsdc"`
	MinManagementFeeBps     uint16 `json:"minManagementFeeBps"`
	MaxManagementFeeBps     uint16 `json:"maxManagementFeeBps"`
	VaultCreatorFeeRatioBps uint16 `json:"vaultCreatorFeeRatioBps"`
	PlatformFeeRatioBps     uint16 `json:"platformFeeRatioBps"`
	Timestamp               int64  `json:"timestamp"`
	TimestampUTC            string `json:"timestampUtc"`
}

func (*FactoryInitialized) EventName() string { return "FactoryInitialized" }

type FactoryFeesUpdated struct {
	Admin                   string `json:"admin"`
	EntryFeeBps             uint16 `json:"entryFeeBps"`
	ExitFeeBps              uint16 `json:"exitFeeBps"`
	VaultCreationFeeUsdc    uint64 `json:"vaultCreationFeeUsdc"`
	MinManagementFeeBps     uint16 `json:"minManagementFeeBps"`
	MaxManagementFeeBps     uint16 `json:"maxManagementFeeBps"`
	VaultCreatorFeeRatioBps uint16 `json:"vaultCreatorFeeRatioBps"`
	PlatformFeeRatioBps     uint16 `json:"platformFeeRatioBps"`
	Timestamp               int64  `json:"timestamp"`
	TimestampUTC            string `json:"timestampUtc"`
}

func (*FactoryFeesUpdated) EventName() string { return "FactoryFeesUpdated" }

type VaultFeesUpdated struct {
	Vault            string `json:"vault"`
	Admin            string `json:"admin"`
	ManagementFeeBps uint16 `json:"managementFeeBps"`
	Timestamp        int64  `json:"timestamp"`
	TimestampUTC     string `json:"timestampUtc"`
}

func (*VaultFeesUpdated) EventName() string { return "VaultFeesUpdated" }

type FactoryAssetsUpdated struct {
	Factory      string `json:"factory"`
	Admin        string `json:"admin"`
	AssetCount   uint64 `json:"assetCount"`
	Timestamp    int64  `json:"timestamp"`
	TimestampUTC string `json:"timestampUtc"`
}

func (*FactoryAssetsUpdated) EventName() string { return "FactoryAssetsUpdated" }

type ProtocolFeesCollected struct {
	Vault                   string `json:"vault"`
	Collector               string `json:"collector"`
	TotalFeesUsdc           uint64 `json:"totalFeesUsdc"`
	CreatorShare            uint64 `json:"creatorShare"`
	PlatformShare           uint64 `json:"platformShare"`
	VaultCreatorFeeRatioBps uint16 `json:"vaultCreatorFeeRatioBps"`
	PlatformFeeRatioBps     uint16 `json:"platformFeeRatioBps"`
	Timestamp               int64  `json:"timestamp"`
	TimestampUTC            string `json:"timestampUtc"`
}

func (*ProtocolFeesCollected) EventName() string { return "ProtocolFeesCollected" }

type VaultDeposited struct {
	Vault             string `json:"vault"`
	User              string `json:"user"`
	Amount            uint64 `json:"amount"`
	EntryFee          uint64 `json:"entryFee"`
	VaultTokensMinted uint64 `json:"vaultTokensMinted"`
	TotalAssets       uint64 `json:"totalAssets"`
	TotalSupply       uint64 `json:"totalSupply"`
	SharePrice        uint64 `json:"sharePrice"`
	Timestamp         int64  `json:"timestamp"`
	TimestampUTC      string `json:"timestampUtc"`
}

func (*VaultDeposited) EventName() string { return "VaultDeposited" }

// VaultCreated carries a head of fixed fields followed by name/symbol strings
// and an asset vector whose exact wire layout is unconfirmed. The trailing
// fields are recovered heuristically, so they may be empty on odd payloads.
type VaultCreated struct {
	Vault            string `json:"vault"`
	Factory          string `json:"factory"`
	Admin            string `json:"admin"`
	VaultIndex       uint32 `json:"vaultIndex"`
	VaultName        string `json:"vaultName,omitempty"`
	VaultSymbol      string `json:"vaultSymbol,omitempty"`
	ManagementFeeBps uint16 `json:"managementFeeBps,omitempty"`
	Timestamp        int64  `json:"timestamp,omitempty"`
	TimestampUTC     string `json:"timestampUtc,omitempty"`
}

func (*VaultCreated) EventName() string { return "VaultCreated" }

// UnknownEvent is the fallback for unrecognized discriminators or payloads too
// short for their declared layout.
type UnknownEvent struct {
	Discriminator    string   `json:"discriminator"`
	Raw              string   `json:"raw"`
	CandidatePubkeys []string `json:"candidatePubkeys,omitempty"`
}

func (*UnknownEvent) EventName() string { return "Unknown" }

func isoUTC(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
