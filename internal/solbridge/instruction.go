// Package solbridge builds the Solana side of a cross-chain transfer: the
// bridge program instruction, its borsh payload and the RPC health check.
package solbridge

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
)

// MaxInstructionData is the payload capacity of the bridge instruction.
const MaxInstructionData = 1000

const swapInstruction uint8 = 1

type TransferType uint8

const (
	NonTransferToken TransferType = 0
	TransferToken    TransferType = 1
	Native           TransferType = 2
)

func (t TransferType) String() string {
	switch t {
	case NonTransferToken:
		return "NON_TRANSFER_TOKEN"
	case TransferToken:
		return "TRANSFER_TOKEN"
	case Native:
		return "NATIVE"
	}
	return fmt.Sprintf("TransferType(%d)", uint8(t))
}

// SelectTransferType: native input is wrapped and swapped, the transit token
// is transferred as is, anything else is swapped first.
func SelectTransferType(fromNative, fromIsTransit bool) TransferType {
	switch {
	case fromNative:
		return Native
	case fromIsTransit:
		return TransferToken
	default:
		return NonTransferToken
	}
}

var wrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// SwapParams is the instruction argument set, without the discriminant.
type SwapParams struct {
	Blockchain       uint64       `json:"blockchain"`
	TokenInAmount    uint64       `json:"token_in_amount"`
	SecondPath       []string     `json:"second_path"`
	ExactRbcTokenOut uint64       `json:"exact_rbc_token_out"`
	TokenOutMin      string       `json:"token_out_min"`
	NewAddress       string       `json:"new_address"`
	SwapToCrypto     bool         `json:"swap_to_crypto"`
	TransferType     TransferType `json:"transfer_type"`
	MethodName       string       `json:"method_name"`
}

// swapParamsLayout is the borsh field order on the wire.
type swapParamsLayout struct {
	InstructionNumber uint8
	Blockchain        uint64
	TokenInAmount     uint64
	SecondPath        []string
	ExactRbcTokenOut  uint64
	TokenOutMin       string
	NewAddress        string
	SwapToCrypto      bool
	TransferType      uint8
	MethodName        string
}

// EncodeSwapParams borsh-encodes params behind the swap discriminant.
func EncodeSwapParams(p SwapParams) ([]byte, error) {
	if _, err := uint256.FromDecimal(p.TokenOutMin); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "token out minimum must be an unsigned integer", err)
	}
	var buf bytes.Buffer
	err := bin.NewBorshEncoder(&buf).Encode(swapParamsLayout{
		InstructionNumber: swapInstruction,
		Blockchain:        p.Blockchain,
		TokenInAmount:     p.TokenInAmount,
		SecondPath:        p.SecondPath,
		ExactRbcTokenOut:  p.ExactRbcTokenOut,
		TokenOutMin:       p.TokenOutMin,
		NewAddress:        p.NewAddress,
		SwapToCrypto:      p.SwapToCrypto,
		TransferType:      uint8(p.TransferType),
		MethodName:        p.MethodName,
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode swap params", err)
	}
	if buf.Len() > MaxInstructionData {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("instruction data is %d bytes, limit %d", buf.Len(), MaxInstructionData))
	}
	return buf.Bytes(), nil
}

func DecodeSwapParams(data []byte) (SwapParams, error) {
	var l swapParamsLayout
	if err := bin.NewBorshDecoder(data).Decode(&l); err != nil {
		return SwapParams{}, clierr.Wrap(clierr.CodeUsage, "decode swap params", err)
	}
	if l.InstructionNumber != swapInstruction {
		return SwapParams{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unexpected instruction number %d", l.InstructionNumber))
	}
	return SwapParams{
		Blockchain:       l.Blockchain,
		TokenInAmount:    l.TokenInAmount,
		SecondPath:       l.SecondPath,
		ExactRbcTokenOut: l.ExactRbcTokenOut,
		TokenOutMin:      l.TokenOutMin,
		NewAddress:       l.NewAddress,
		SwapToCrypto:     l.SwapToCrypto,
		TransferType:     TransferType(l.TransferType),
		MethodName:       l.MethodName,
	}, nil
}

// ParseU64 parses a decimal base-unit amount that must fit the program's u64
// fields.
func ParseU64(s string) (uint64, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid amount %q", s), err)
	}
	if !v.IsUint64() {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %s exceeds u64", s))
	}
	return v.Uint64(), nil
}

// BridgeAccounts are the program-derived and bridge-owned accounts.
type BridgeAccounts struct {
	ConfigPDA           solana.PublicKey
	BlockchainConfigPDA solana.PublicKey
	DelegatePDA         solana.PublicKey
	WrappedPDA          solana.PublicKey
	BridgeTokenAccount  solana.PublicKey
}

// PoolAccounts describe the AMM pool and its serum market. Zero keys are
// sent as the wrapped SOL mint placeholder.
type PoolAccounts struct {
	AmmID            solana.PublicKey
	AmmAuthority     solana.PublicKey
	AmmOpenOrders    solana.PublicKey
	AmmTargetOrders  solana.PublicKey
	PoolCoinAccount  solana.PublicKey
	PoolPcAccount    solana.PublicKey
	SerumProgramID   solana.PublicKey
	SerumMarket      solana.PublicKey
	SerumBids        solana.PublicKey
	SerumAsks        solana.PublicKey
	SerumEventQueue  solana.PublicKey
	SerumCoinVault   solana.PublicKey
	SerumPcVault     solana.PublicKey
	SerumVaultSigner solana.PublicKey
	AmmProgramID     solana.PublicKey
}

type UserAccounts struct {
	Owner              solana.PublicKey
	SourceTokenAccount solana.PublicKey
}

func meta(pk solana.PublicKey, writable, signer bool) *solana.AccountMeta {
	return solana.NewAccountMeta(pk, writable, signer)
}

func placeholder(pk solana.PublicKey) solana.PublicKey {
	if pk.IsZero() {
		return wrappedSOLMint
	}
	return pk
}

func requiredAccounts(b BridgeAccounts, u UserAccounts) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		meta(b.ConfigPDA, false, false),
		meta(b.BlockchainConfigPDA, false, false),
		meta(u.Owner, false, true),
		meta(b.DelegatePDA, true, false),
		meta(solana.SystemProgramID, false, false),
	}
}

func transferAccounts(b BridgeAccounts, u UserAccounts) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		meta(u.SourceTokenAccount, true, false),
		meta(b.BridgeTokenAccount, true, false),
		meta(solana.TokenProgramID, false, false),
	}
}

func swapAccounts(p PoolAccounts) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		meta(placeholder(p.AmmID), true, false),
		meta(placeholder(p.AmmAuthority), false, false),
		meta(placeholder(p.AmmOpenOrders), true, false),
		meta(placeholder(p.AmmTargetOrders), true, false),
		meta(placeholder(p.PoolCoinAccount), true, false),
		meta(placeholder(p.PoolPcAccount), true, false),
		meta(placeholder(p.SerumProgramID), false, false),
		meta(placeholder(p.SerumMarket), true, false),
		meta(placeholder(p.SerumBids), true, false),
		meta(placeholder(p.SerumAsks), true, false),
		meta(placeholder(p.SerumEventQueue), true, false),
		meta(placeholder(p.SerumCoinVault), true, false),
		meta(placeholder(p.SerumPcVault), true, false),
		meta(placeholder(p.SerumVaultSigner), false, false),
		meta(placeholder(p.AmmProgramID), false, false),
	}
}

func nativeAccounts(b BridgeAccounts) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		meta(wrappedSOLMint, false, false),
		meta(b.WrappedPDA, true, false),
		meta(solana.TokenProgramID, false, false),
		meta(b.BridgeTokenAccount, true, false),
		meta(solana.TokenProgramID, false, false),
	}
}

// BuildInstruction assembles the bridge instruction. The account list is the
// required group followed by the groups the transfer type needs.
func BuildInstruction(programID solana.PublicKey, tt TransferType, params SwapParams, bridge BridgeAccounts, pool PoolAccounts, user UserAccounts) (*solana.GenericInstruction, error) {
	if user.Owner.IsZero() {
		return nil, clierr.New(clierr.CodeUsage, "owner account is required")
	}
	params.TransferType = tt
	data, err := EncodeSwapParams(params)
	if err != nil {
		return nil, err
	}
	accounts := requiredAccounts(bridge, user)
	switch tt {
	case Native:
		accounts = append(accounts, nativeAccounts(bridge)...)
		accounts = append(accounts, swapAccounts(pool)...)
	case TransferToken:
		accounts = append(accounts, transferAccounts(bridge, user)...)
	case NonTransferToken:
		accounts = append(accounts, transferAccounts(bridge, user)...)
		accounts = append(accounts, swapAccounts(pool)...)
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown transfer type %d", tt))
	}
	return solana.NewInstruction(programID, accounts, data), nil
}
