package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("XSWAP_OUTPUT", "json")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadDefaultsCarryBridgeConstants(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.CrossChain.Deadline != "999999999999999" || settings.CrossChain.MaxBridgeSlippage != 1_000_000 {
		t.Fatalf("unexpected bridge constants: %+v", settings.CrossChain)
	}
	if settings.CrossChain.MinRecvAmount != "0" {
		t.Fatalf("unexpected min recv amount %q", settings.CrossChain.MinRecvAmount)
	}
	if settings.Swap.Debounce != 200*time.Millisecond || settings.Swap.Mode != "plain" {
		t.Fatalf("unexpected swap defaults: %+v", settings.Swap)
	}
	if settings.Solana.MinTPS != 1200 {
		t.Fatalf("unexpected min tps %v", settings.Solana.MinTPS)
	}
}

func TestLoadCrossChainSectionFromFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := `
log:
  level: debug
rpc:
  BSC: https://bsc.example
swap:
  mode: profit
  disable_multihops: true
  debounce: 350ms
crosschain:
  max_bridge_slippage: 500000
  contracts:
    bsc:
      contract: "0x1111111111111111111111111111111111111111"
      transit_token: USDT
  fee_proxy:
    address: "0x2222222222222222222222222222222222222222"
    fee_target: "0x3333333333333333333333333333333333333333"
    fee: "0.2"
solana:
  program_id: 11111111111111111111111111111111
  blockchain_configs:
    1: 6jVSCbM1MVZWCSepdBXY65U4uszY7rY6Lm3oEU5ZeE7q
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.LogLevel != "debug" || settings.RPCURLs["bsc"] != "https://bsc.example" {
		t.Fatalf("unexpected log/rpc settings: level=%s rpc=%v", settings.LogLevel, settings.RPCURLs)
	}
	if settings.Swap.Mode != "profit" || !settings.Swap.DisableMultihops || settings.Swap.Debounce != 350*time.Millisecond {
		t.Fatalf("unexpected swap settings: %+v", settings.Swap)
	}
	bsc, ok := settings.CrossChain.Chains["bsc"]
	if !ok || bsc.TransitToken != "USDT" {
		t.Fatalf("unexpected bridge chains: %+v", settings.CrossChain.Chains)
	}
	if settings.CrossChain.MaxBridgeSlippage != 500000 || settings.CrossChain.FeeProxy.Fee != "0.2" {
		t.Fatalf("unexpected crosschain settings: %+v", settings.CrossChain)
	}
	if settings.Solana.BlockchainConfigs[1] == "" || settings.Solana.ProgramID == "" {
		t.Fatalf("unexpected solana settings: %+v", settings.Solana)
	}
}

func TestLoadRejectsInvalidSwapMode(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("swap:\n  mode: fastest\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected invalid swap mode error")
	}
}
