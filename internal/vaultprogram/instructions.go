package vaultprogram

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// anchorInstructionDiscriminator computes the 8-byte Anchor instruction
// discriminator: sha256("global:<snake_case_name>")[0:8].
func anchorInstructionDiscriminator(name string) []byte {
	hash := sha256.Sum256([]byte("global:" + name))
	return hash[:8]
}

// TransferVaultToUserParams covers the admin-signed instruction that moves
// stablecoin out of the vault reserve into a user token account during redeem
// settlement.
type TransferVaultToUserParams struct {
	VaultProgramID solana.PublicKey
	User           solana.PublicKey
	Factory        solana.PublicKey
	Vault          solana.PublicKey
	VaultReserve   solana.PublicKey
	UserStablecoin solana.PublicKey
	VaultIndex     uint32
	Amount         uint64
}

func NewTransferVaultToUserInstruction(params TransferVaultToUserParams) solana.Instruction {
	data := make([]byte, 0, 8+4+8)
	data = append(data, anchorInstructionDiscriminator("transfer_vault_to_user")...)
	data = binary.LittleEndian.AppendUint32(data, params.VaultIndex)
	data = binary.LittleEndian.AppendUint64(data, params.Amount)

	accounts := solana.AccountMetaSlice{
		solana.Meta(params.User).SIGNER().WRITE(),
		solana.Meta(params.Factory),
		solana.Meta(params.Vault).WRITE(),
		solana.Meta(params.VaultReserve).WRITE(),
		solana.Meta(params.UserStablecoin).WRITE(),
		solana.Meta(TokenProgramID),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(params.VaultProgramID, accounts, data)
}

// WithdrawUnderlyingToUserParams covers the admin-signed instruction that moves
// a non-stablecoin underlying asset out of the vault to a user token account.
// The transfer is checked against the mint, so the mint account and its
// decimals ride along, and the token program may be Token-2022.
type WithdrawUnderlyingToUserParams struct {
	VaultProgramID    solana.PublicKey
	User              solana.PublicKey
	Factory           solana.PublicKey
	Vault             solana.PublicKey
	VaultAssetAccount solana.PublicKey
	UserAssetAccount  solana.PublicKey
	Mint              solana.PublicKey
	TokenProgramID    solana.PublicKey
	VaultIndex        uint32
	Amount            uint64
	Decimals          uint8
}

func NewWithdrawUnderlyingToUserInstruction(params WithdrawUnderlyingToUserParams) solana.Instruction {
	data := make([]byte, 0, 8+4+8+1)
	data = append(data, anchorInstructionDiscriminator("withdraw_underlying_to_user")...)
	data = binary.LittleEndian.AppendUint32(data, params.VaultIndex)
	data = binary.LittleEndian.AppendUint64(data, params.Amount)
	data = append(data, params.Decimals)

	tokenProgram := params.TokenProgramID
	if tokenProgram.IsZero() {
		tokenProgram = TokenProgramID
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(params.User).SIGNER().WRITE(),
		solana.Meta(params.Factory),
		solana.Meta(params.Vault).WRITE(),
		solana.Meta(params.VaultAssetAccount).WRITE(),
		solana.Meta(params.UserAssetAccount).WRITE(),
		solana.Meta(params.Mint),
		solana.Meta(tokenProgram),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(params.VaultProgramID, accounts, data)
}
