package crosschain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

var (
	bridgeABI     = evm.MustABI(registry.BridgeABI)
	messageBusABI = evm.MustABI(registry.MessageBusABI)
)

// Bridge reads the inter-chain bridge contract on one chain.
type Bridge struct {
	Address common.Address
	reader  evm.Reader
}

func NewBridge(address common.Address, reader evm.Reader) *Bridge {
	return &Bridge{Address: address, reader: reader}
}

// BridgeFee is the bridge's cut in millionths of the transferred amount.
func (b *Bridge) BridgeFee(ctx context.Context) (*big.Int, error) {
	return evm.CallUint(ctx, b.reader, bridgeABI, b.Address, "feeRubic")
}

func (b *Bridge) DstCryptoFee(ctx context.Context, dstChainID uint64) (*big.Int, error) {
	return evm.CallUint(ctx, b.reader, bridgeABI, b.Address, "dstCryptoFee", dstChainID)
}

func (b *Bridge) MinSwapAmount(ctx context.Context) (*big.Int, error) {
	return evm.CallUint(ctx, b.reader, bridgeABI, b.Address, "minSwapAmount")
}

func (b *Bridge) MessageBus(ctx context.Context) (common.Address, error) {
	return evm.CallAddress(ctx, b.reader, bridgeABI, b.Address, "messageBus")
}

// MessageFee asks the bridge's message bus for the size-dependent fee.
func (b *Bridge) MessageFee(ctx context.Context, message []byte) (*big.Int, error) {
	bus, err := b.MessageBus(ctx)
	if err != nil {
		return nil, err
	}
	return evm.CallUint(ctx, b.reader, messageBusABI, bus, "calcFee", message)
}
