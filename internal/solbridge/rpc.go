package solbridge

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
)

const (
	DefaultMinTPS = 1200
	// Performance samples are taken every 60 seconds.
	healthSamples = 10
)

type Client struct {
	rpc    *rpc.Client
	minTPS float64
	log    zerolog.Logger
}

func NewClient(endpoint string, minTPS float64, log zerolog.Logger) *Client {
	if minTPS <= 0 {
		minTPS = DefaultMinTPS
	}
	return &Client{rpc: rpc.New(endpoint), minTPS: minTPS, log: log.With().Str("component", "solbridge").Logger()}
}

type Health struct {
	AverageTPS float64 `json:"average_tps"`
	MinTPS     float64 `json:"min_tps"`
	Samples    int     `json:"samples"`
	Healthy    bool    `json:"healthy"`
}

// CheckHealth averages transactions per second over the last ten samples.
func (c *Client) CheckHealth(ctx context.Context) (Health, error) {
	limit := uint(healthSamples)
	samples, err := c.rpc.GetRecentPerformanceSamples(ctx, &limit)
	if err != nil {
		return Health{}, clierr.Wrap(clierr.CodeUnavailable, "fetch performance samples", err)
	}
	var total uint64
	for _, s := range samples {
		total += s.NumTransactions
	}
	avg := float64(total) / healthSamples / 60
	h := Health{AverageTPS: avg, MinTPS: c.minTPS, Samples: len(samples), Healthy: avg >= c.minTPS}
	c.log.Debug().Float64("tps", avg).Bool("healthy", h.Healthy).Msg("solana health")
	return h, nil
}

// BridgeConfig is the program's global config account.
type BridgeConfig struct {
	Key                   uint8            `json:"key"`
	Owner                 solana.PublicKey `json:"owner"`
	Manager               solana.PublicKey `json:"manager"`
	TransferMint          solana.PublicKey `json:"transfer_mint"`
	AmmProgramID          solana.PublicKey `json:"amm_program_id"`
	NumOfThisBlockchain   uint64           `json:"num_of_this_blockchain"`
	FeeAmountOfBlockchain uint64           `json:"fee_amount_of_blockchain"`
	BlockchainCryptoFee   uint64           `json:"blockchain_crypto_fee"`
	MinConfirmation       uint64           `json:"min_confirmation"`
	MinTokenAmount        uint64           `json:"min_token_amount"`
	MaxTokenAmount        uint64           `json:"max_token_amount"`
	RefundSlippage        uint64           `json:"refund_slippage"`
	IsPaused              bool             `json:"is_paused"`
}

// BlockchainConfig is the per-destination config account.
type BlockchainConfig struct {
	Key          uint8  `json:"key"`
	RubicAddress string `json:"rubic_address"`
	FeeAmount    uint64 `json:"fee_amount"`
	CryptoFee    uint64 `json:"crypto_fee"`
	IsActive     bool   `json:"is_active"`
}

func (c *Client) FetchBridgeConfig(ctx context.Context, pda solana.PublicKey) (BridgeConfig, error) {
	var cfg BridgeConfig
	err := c.fetchAccount(ctx, pda, &cfg)
	return cfg, err
}

func (c *Client) FetchBlockchainConfig(ctx context.Context, pda solana.PublicKey) (BlockchainConfig, error) {
	var cfg BlockchainConfig
	err := c.fetchAccount(ctx, pda, &cfg)
	return cfg, err
}

func (c *Client) fetchAccount(ctx context.Context, pk solana.PublicKey, into any) error {
	out, err := c.rpc.GetAccountInfo(ctx, pk)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("account %s not found", pk))
		}
		return clierr.Wrap(clierr.CodeUnavailable, "fetch account "+pk.String(), err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("account %s has no data", pk))
	}
	if err := bin.NewBorshDecoder(out.Value.Data.GetBinary()).Decode(into); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "decode account "+pk.String(), err)
	}
	return nil
}
