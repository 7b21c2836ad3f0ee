package jupiter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// Quote is one time-limited swap quote. Raw holds the exact response body;
// the instruction-build endpoint expects the quote reposted verbatim, so it
// is never re-marshalled from the parsed fields.
type Quote struct {
	InputMint   string          `json:"inputMint"`
	OutputMint  string          `json:"outputMint"`
	InAmount    string          `json:"inAmount"`
	OutAmount   string          `json:"outAmount"`
	SlippageBps int             `json:"slippageBps"`
	RoutePlan   []RoutePlanStep `json:"routePlan"`

	Raw json.RawMessage `json:"-"`
}

type RoutePlanStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  float64  `json:"percent"`
}

type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

func (q *Quote) InAmountRaw() uint64  { return parseRawAmount(q.InAmount) }
func (q *Quote) OutAmountRaw() uint64 { return parseRawAmount(q.OutAmount) }

func parseRawAmount(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

// InstructionSet is the instruction-build response for one quote.
type InstructionSet struct {
	ComputeBudgetInstructions   []WireInstruction `json:"computeBudgetInstructions"`
	SetupInstructions           []WireInstruction `json:"setupInstructions"`
	SwapInstruction             WireInstruction   `json:"swapInstruction"`
	CleanupInstruction          *WireInstruction  `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string          `json:"addressLookupTableAddresses"`
}

// FlattenInstructions returns setup + swap + cleanup in execution order,
// converted to ledger instructions. The aggregator's own compute-budget
// instructions are dropped; the engine prices compute itself.
func (s *InstructionSet) FlattenInstructions() ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(s.SetupInstructions)+2)
	for i := range s.SetupInstructions {
		ix, err := s.SetupInstructions[i].ToInstruction()
		if err != nil {
			return nil, fmt.Errorf("setup instruction %d: %w", i, err)
		}
		out = append(out, ix)
	}

	swap, err := s.SwapInstruction.ToInstruction()
	if err != nil {
		return nil, fmt.Errorf("swap instruction: %w", err)
	}
	out = append(out, swap)

	if s.CleanupInstruction != nil {
		cleanup, err := s.CleanupInstruction.ToInstruction()
		if err != nil {
			return nil, fmt.Errorf("cleanup instruction: %w", err)
		}
		out = append(out, cleanup)
	}
	return out, nil
}

func (s *InstructionSet) LookupTableKeys() ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, 0, len(s.AddressLookupTableAddresses))
	for _, addr := range s.AddressLookupTableAddresses {
		key, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("lookup table address %q: %w", addr, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// WireInstruction is the aggregator's JSON encoding of one instruction.
type WireInstruction struct {
	ProgramID string            `json:"programId"`
	Accounts  []WireAccountMeta `json:"accounts"`
	Data      string            `json:"data"`
}

type WireAccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

func (w *WireInstruction) ToInstruction() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(w.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id %q: %w", w.ProgramID, err)
	}

	accounts := make(solana.AccountMetaSlice, 0, len(w.Accounts))
	for _, acc := range w.Accounts {
		pubkey, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("account pubkey %q: %w", acc.Pubkey, err)
		}
		accounts = append(accounts, &solana.AccountMeta{
			PublicKey:  pubkey,
			IsSigner:   acc.IsSigner,
			IsWritable: acc.IsWritable,
		})
	}

	data, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return nil, fmt.Errorf("instruction data: %w", err)
	}
	return solana.NewInstruction(programID, accounts, data), nil
}
