package events

import (
	"regexp"
	"strconv"
	"strings"
)

// Structured records recovered from the program's human-readable log lines.
// Extraction is pure and forgiving: a missing line leaves its field unset,
// only fee fields default to explicit zero.

type DepositRecord struct {
	VaultIndex    uint32            `json:"vaultIndex"`
	DepositAmount uint64            `json:"depositAmount"`
	VaultName     string            `json:"vaultName,omitempty"`
	VaultSymbol   string            `json:"vaultSymbol,omitempty"`
	User          string            `json:"user,omitempty"`
	EntryFee      uint64            `json:"entryFee"`
	EntryFeeBps   uint16            `json:"entryFeeBps"`
	NetDeposit    uint64            `json:"netDeposit"`
	SharePrice    uint64            `json:"sharePrice"`
	TokensToMint  uint64            `json:"tokensToMint"`
	SwapOutputs   map[string]uint64 `json:"swapOutputs,omitempty"`
}

type RedeemRecord struct {
	VaultTokens   uint64 `json:"vaultTokens"`
	ExitFee       uint64 `json:"exitFee"`
	ManagementFee uint64 `json:"managementFee"`
	NetToUser     uint64 `json:"netToUser"`
}

type CreationRecord struct {
	VaultName         string `json:"vaultName,omitempty"`
	VaultSymbol       string `json:"vaultSymbol,omitempty"`
	ManagementFeeBps  uint16 `json:"managementFeeBps"`
	TotalBps          uint16 `json:"totalBps"`
	Factory           string `json:"factory,omitempty"`
	Vault             string `json:"vault,omitempty"`
	Admin             string `json:"admin,omitempty"`
	VaultMint         string `json:"vaultMint,omitempty"`
	VaultTokenAccount string `json:"vaultTokenAccount,omitempty"`
	CreatedAt         int64  `json:"createdAt,omitempty"`
}

var (
	reDepositVault  = regexp.MustCompile(`Starting deposit process for vault #(\d+)`)
	reDepositAmount = regexp.MustCompile(`Deposit amount: (\d+) raw units`)
	reDepositName   = regexp.MustCompile(`🏦 Vault: (.+) \((.+)\)`)
	reEntryFee      = regexp.MustCompile(`Entry fee: (\d+) raw units \((\d+) bps\)`)
	reNetDeposit    = regexp.MustCompile(`Net deposit: (\d+) raw units`)
	reSharePrice    = regexp.MustCompile(`Share price \(stablecoin units per share\): (\d+)`)
	reTokensToMint  = regexp.MustCompile(`Vault tokens to mint: (\d+) raw units`)
	reSwapTarget    = regexp.MustCompile(`Swap target mint: (\S+)`)
	reSwapOutput    = regexp.MustCompile(`Swap output: (\d+) raw units`)

	reRedeemTokens   = regexp.MustCompile(`Finalizing redeem for (\d+) vault tokens`)
	reRedeemFeesFull = regexp.MustCompile(`Fees: exit=(\d+), mgmt=(\d+), net_to_user=(\d+)`)
	reRedeemFeesNoMg = regexp.MustCompile(`Fees: exit=(\d+), net_to_user=(\d+)`)

	reCreationMgmtFee = regexp.MustCompile(`Management Fees: (\d+) bps`)
	reCreationBps     = regexp.MustCompile(`Total BPS allocation: (\d+)`)
	reCreatedAt       = regexp.MustCompile(`Created at: (-?\d+)`)
)

// ExtractDeposit walks program log lines emitted during a deposit and fills a
// DepositRecord. Swap outputs accumulate under the most recently seen swap
// target mint.
func ExtractDeposit(lines []string) DepositRecord {
	var record DepositRecord
	var currentMint string
	for _, raw := range lines {
		line := stripLogPrefix(raw)
		switch {
		case matchUint32(reDepositVault, line, &record.VaultIndex):
		case matchUint64(reDepositAmount, line, &record.DepositAmount):
		case matchUint64(reNetDeposit, line, &record.NetDeposit):
		case matchUint64(reSharePrice, line, &record.SharePrice):
		case matchUint64(reTokensToMint, line, &record.TokensToMint):
		default:
			if m := reDepositName.FindStringSubmatch(line); m != nil {
				record.VaultName = strings.TrimSpace(m[1])
				record.VaultSymbol = strings.TrimSpace(m[2])
			} else if m := reEntryFee.FindStringSubmatch(line); m != nil {
				record.EntryFee = parseUint64(m[1])
				record.EntryFeeBps = uint16(parseUint64(m[2]))
			} else if strings.Contains(line, "👤 User:") {
				record.User = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "👤 User:"))
			} else if m := reSwapTarget.FindStringSubmatch(line); m != nil {
				currentMint = m[1]
			} else if m := reSwapOutput.FindStringSubmatch(line); m != nil && currentMint != "" {
				if record.SwapOutputs == nil {
					record.SwapOutputs = make(map[string]uint64)
				}
				record.SwapOutputs[currentMint] += parseUint64(m[1])
			}
		}
	}
	return record
}

// ExtractRedeem handles both fee-line formats; when the management fee is
// absent from the line it is zero.
func ExtractRedeem(lines []string) RedeemRecord {
	var record RedeemRecord
	for _, raw := range lines {
		line := stripLogPrefix(raw)
		if matchUint64(reRedeemTokens, line, &record.VaultTokens) {
			continue
		}
		if m := reRedeemFeesFull.FindStringSubmatch(line); m != nil {
			record.ExitFee = parseUint64(m[1])
			record.ManagementFee = parseUint64(m[2])
			record.NetToUser = parseUint64(m[3])
			continue
		}
		if m := reRedeemFeesNoMg.FindStringSubmatch(line); m != nil {
			record.ExitFee = parseUint64(m[1])
			record.ManagementFee = 0
			record.NetToUser = parseUint64(m[2])
		}
	}
	return record
}

func ExtractCreation(lines []string) CreationRecord {
	var record CreationRecord
	for _, raw := range lines {
		line := stripLogPrefix(raw)
		switch {
		case strings.Contains(line, "📝 Vault Name:"):
			record.VaultName = suffixAfter(line, "📝 Vault Name:")
		case strings.Contains(line, "🏷️ Vault Symbol:"):
			record.VaultSymbol = suffixAfter(line, "🏷️ Vault Symbol:")
		case strings.Contains(line, "🏭 Factory key:"):
			record.Factory = suffixAfter(line, "🏭 Factory key:")
		case strings.Contains(line, "🔑 Vault PDA:"):
			record.Vault = suffixAfter(line, "🔑 Vault PDA:")
		case strings.Contains(line, "👑 Vault Admin:"):
			record.Admin = suffixAfter(line, "👑 Vault Admin:")
		case strings.Contains(line, "🪙 Vault Mint PDA:"):
			record.VaultMint = suffixAfter(line, "🪙 Vault Mint PDA:")
		case strings.Contains(line, "💳 Vault Token Account PDA:"):
			record.VaultTokenAccount = suffixAfter(line, "💳 Vault Token Account PDA:")
		default:
			if m := reCreationMgmtFee.FindStringSubmatch(line); m != nil {
				record.ManagementFeeBps = uint16(parseUint64(m[1]))
			} else if m := reCreationBps.FindStringSubmatch(line); m != nil {
				record.TotalBps = uint16(parseUint64(m[1]))
			} else if m := reCreatedAt.FindStringSubmatch(line); m != nil {
				record.CreatedAt, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}
	}
	return record
}

func stripLogPrefix(line string) string {
	return strings.TrimPrefix(line, "Program log: ")
}

func suffixAfter(line, prefix string) string {
	idx := strings.Index(line, prefix)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+len(prefix):])
}

func matchUint64(re *regexp.Regexp, line string, out *uint64) bool {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	*out = parseUint64(m[1])
	return true
}

func matchUint32(re *regexp.Regexp, line string, out *uint32) bool {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	*out = uint32(parseUint64(m[1]))
	return true
}

func parseUint64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
