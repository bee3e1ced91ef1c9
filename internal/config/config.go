package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appDir = "xswap"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Strict         bool
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	LogLevel       string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	Strict          bool
	Timeout         time.Duration
	Retries         int
	MaxStale        time.Duration
	NoStale         bool
	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	ActionStorePath string
	ActionLockPath  string
	LogLevel        string
	LogFormat       string
	MetricsListen   string
	OneInchAPIKey   string
	RPCURLs         map[string]string
	Swap            SwapSettings
	CrossChain      CrossChainSettings
	Solana          SolanaSettings
}

// SwapSettings tune single-chain trade calculation.
type SwapSettings struct {
	SlippageBps      int64
	DeadlineMinutes  int64
	Mode             string
	DisableMultihops bool
	GasMargin        float64
	Debounce         time.Duration
}

// CrossChainSettings carry the bridge deployment and its protocol constants.
// Deadline and MaxBridgeSlippage are the sentinel values the bridge contract
// expects: a far-future deadline disables enforcement and the slippage value is
// expressed on the contract's 1e6 scale.
type CrossChainSettings struct {
	SlippageBps       int64
	MaxBridgeSlippage uint32
	Deadline          string
	MinRecvAmount     string
	Chains            map[string]BridgeChain
	FeeProxy          FeeProxySettings
}

type BridgeChain struct {
	Contract     string
	TransitToken string
}

type FeeProxySettings struct {
	Address   string
	FeeTarget string
	Fee       string
}

type SolanaSettings struct {
	RPCURL             string
	ProgramID          string
	PDAConfig          string
	PDADelegate        string
	PDAWrapped         string
	BridgeTokenAccount string
	TransitMint        string
	BlockchainConfigs  map[uint64]string
	MinTPS             float64
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Strict  *bool  `yaml:"strict"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Execution struct {
		ActionsPath     string `yaml:"actions_path"`
		ActionsLockPath string `yaml:"actions_lock_path"`
	} `yaml:"execution"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	RPC  map[string]string `yaml:"rpc"`
	Swap struct {
		SlippageBps      *int64   `yaml:"slippage_bps"`
		DeadlineMinutes  *int64   `yaml:"deadline_minutes"`
		Mode             string   `yaml:"mode"`
		DisableMultihops *bool    `yaml:"disable_multihops"`
		GasMargin        *float64 `yaml:"gas_margin"`
		Debounce         string   `yaml:"debounce"`
	} `yaml:"swap"`
	CrossChain struct {
		SlippageBps       *int64  `yaml:"slippage_bps"`
		MaxBridgeSlippage *uint32 `yaml:"max_bridge_slippage"`
		Deadline          string  `yaml:"deadline"`
		MinRecvAmount     string  `yaml:"min_recv_amount"`
		Contracts         map[string]struct {
			Contract     string `yaml:"contract"`
			TransitToken string `yaml:"transit_token"`
		} `yaml:"contracts"`
		FeeProxy struct {
			Address   string `yaml:"address"`
			FeeTarget string `yaml:"fee_target"`
			Fee       string `yaml:"fee"`
		} `yaml:"fee_proxy"`
	} `yaml:"crosschain"`
	Solana struct {
		RPCURL             string            `yaml:"rpc_url"`
		ProgramID          string            `yaml:"program_id"`
		PDAConfig          string            `yaml:"pda_config"`
		PDADelegate        string            `yaml:"pda_delegate"`
		PDAWrapped         string            `yaml:"pda_wrapped"`
		BridgeTokenAccount string            `yaml:"bridge_token_account"`
		TransitMint        string            `yaml:"transit_mint"`
		BlockchainConfigs  map[uint64]string `yaml:"blockchain_configs"`
		MinTPS             *float64          `yaml:"min_tps"`
	} `yaml:"solana"`
	Providers struct {
		OneInch struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"oneinch"`
	} `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.Swap.GasMargin < 1 {
		settings.Swap.GasMargin = 1
	}
	if settings.Swap.Debounce <= 0 {
		settings.Swap.Debounce = 200 * time.Millisecond
	}
	if err := validateSwap(settings); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:      "json",
		Timeout:         10 * time.Second,
		Retries:         2,
		MaxStale:        5 * time.Minute,
		CacheEnabled:    true,
		CachePath:       cachePath,
		CacheLockPath:   lockPath,
		ActionStorePath: filepath.Join(cacheDir, "actions.db"),
		ActionLockPath:  filepath.Join(cacheDir, "actions.lock"),
		LogFormat:       "console",
		RPCURLs:         map[string]string{},
		Swap: SwapSettings{
			SlippageBps:     50,
			DeadlineMinutes: 20,
			Mode:            "plain",
			GasMargin:       1.2,
			Debounce:        200 * time.Millisecond,
		},
		CrossChain: CrossChainSettings{
			SlippageBps:       200,
			MaxBridgeSlippage: 1_000_000,
			Deadline:          "999999999999999",
			MinRecvAmount:     "0",
			Chains:            map[string]BridgeChain{},
		},
		Solana: SolanaSettings{
			RPCURL:             "https://api.mainnet-beta.solana.com",
			PDAWrapped:         "6jVSCbM1MVZWCSepdBXY65U4uszY7rY6Lm3oEU5ZeE7q",
			BridgeTokenAccount: "6rvuMQ7B3cwpmPHhbMGQFBsfDfkgnxiwmWxxSnkd9FjK",
			TransitMint:        "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			BlockchainConfigs:  map[uint64]string{},
			MinTPS:             1200,
		},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDir, "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, appDir)
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Strict != nil {
		settings.Strict = *cfg.Strict
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Execution.ActionsPath != "" {
		settings.ActionStorePath = cfg.Execution.ActionsPath
	}
	if cfg.Execution.ActionsLockPath != "" {
		settings.ActionLockPath = cfg.Execution.ActionsLockPath
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Metrics.Listen != "" {
		settings.MetricsListen = cfg.Metrics.Listen
	}
	for chain, url := range cfg.RPC {
		settings.RPCURLs[strings.ToLower(chain)] = url
	}

	if cfg.Swap.SlippageBps != nil {
		settings.Swap.SlippageBps = *cfg.Swap.SlippageBps
	}
	if cfg.Swap.DeadlineMinutes != nil {
		settings.Swap.DeadlineMinutes = *cfg.Swap.DeadlineMinutes
	}
	if cfg.Swap.Mode != "" {
		settings.Swap.Mode = strings.ToLower(cfg.Swap.Mode)
	}
	if cfg.Swap.DisableMultihops != nil {
		settings.Swap.DisableMultihops = *cfg.Swap.DisableMultihops
	}
	if cfg.Swap.GasMargin != nil {
		settings.Swap.GasMargin = *cfg.Swap.GasMargin
	}
	if cfg.Swap.Debounce != "" {
		d, err := time.ParseDuration(cfg.Swap.Debounce)
		if err != nil {
			return fmt.Errorf("config swap.debounce: %w", err)
		}
		settings.Swap.Debounce = d
	}

	if cfg.CrossChain.SlippageBps != nil {
		settings.CrossChain.SlippageBps = *cfg.CrossChain.SlippageBps
	}
	if cfg.CrossChain.MaxBridgeSlippage != nil {
		settings.CrossChain.MaxBridgeSlippage = *cfg.CrossChain.MaxBridgeSlippage
	}
	if cfg.CrossChain.Deadline != "" {
		settings.CrossChain.Deadline = cfg.CrossChain.Deadline
	}
	if cfg.CrossChain.MinRecvAmount != "" {
		settings.CrossChain.MinRecvAmount = cfg.CrossChain.MinRecvAmount
	}
	for chain, entry := range cfg.CrossChain.Contracts {
		settings.CrossChain.Chains[strings.ToLower(chain)] = BridgeChain{
			Contract:     entry.Contract,
			TransitToken: entry.TransitToken,
		}
	}
	if cfg.CrossChain.FeeProxy.Address != "" {
		settings.CrossChain.FeeProxy = FeeProxySettings{
			Address:   cfg.CrossChain.FeeProxy.Address,
			FeeTarget: cfg.CrossChain.FeeProxy.FeeTarget,
			Fee:       cfg.CrossChain.FeeProxy.Fee,
		}
	}

	sol := cfg.Solana
	if sol.RPCURL != "" {
		settings.Solana.RPCURL = sol.RPCURL
	}
	if sol.ProgramID != "" {
		settings.Solana.ProgramID = sol.ProgramID
	}
	if sol.PDAConfig != "" {
		settings.Solana.PDAConfig = sol.PDAConfig
	}
	if sol.PDADelegate != "" {
		settings.Solana.PDADelegate = sol.PDADelegate
	}
	if sol.PDAWrapped != "" {
		settings.Solana.PDAWrapped = sol.PDAWrapped
	}
	if sol.BridgeTokenAccount != "" {
		settings.Solana.BridgeTokenAccount = sol.BridgeTokenAccount
	}
	if sol.TransitMint != "" {
		settings.Solana.TransitMint = sol.TransitMint
	}
	for num, pda := range sol.BlockchainConfigs {
		settings.Solana.BlockchainConfigs[num] = pda
	}
	if sol.MinTPS != nil {
		settings.Solana.MinTPS = *sol.MinTPS
	}

	if cfg.Providers.OneInch.APIKey != "" {
		settings.OneInchAPIKey = cfg.Providers.OneInch.APIKey
	}
	if cfg.Providers.OneInch.APIKeyEnv != "" {
		settings.OneInchAPIKey = os.Getenv(cfg.Providers.OneInch.APIKeyEnv)
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("XSWAP_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("XSWAP_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Strict = b
		}
	}
	if v := os.Getenv("XSWAP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("XSWAP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("XSWAP_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("XSWAP_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("XSWAP_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("XSWAP_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("XSWAP_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("XSWAP_ACTIONS_PATH"); v != "" {
		settings.ActionStorePath = v
	}
	if v := os.Getenv("XSWAP_ACTIONS_LOCK_PATH"); v != "" {
		settings.ActionLockPath = v
	}
	if v := os.Getenv("XSWAP_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("XSWAP_METRICS_LISTEN"); v != "" {
		settings.MetricsListen = v
	}
	if v := os.Getenv("XSWAP_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.Swap.SlippageBps = n
		}
	}
	if v := os.Getenv("XSWAP_SOLANA_RPC_URL"); v != "" {
		settings.Solana.RPCURL = v
	}
	if v := os.Getenv("XSWAP_1INCH_API_KEY"); v != "" {
		settings.OneInchAPIKey = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}

	if flags.Strict {
		settings.Strict = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func validateSwap(settings Settings) error {
	switch settings.Swap.Mode {
	case "plain", "profit":
	default:
		return fmt.Errorf("swap.mode must be plain or profit")
	}
	for _, bps := range []int64{settings.Swap.SlippageBps, settings.CrossChain.SlippageBps} {
		if bps < 0 || bps >= 10_000 {
			return fmt.Errorf("slippage bps must be in [0, 10000)")
		}
	}
	if settings.Swap.DeadlineMinutes <= 0 {
		return fmt.Errorf("swap.deadline_minutes must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
