package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ggonzalez94/xswap-cli/internal/evm/evmtest"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
)

func TestResolveActionID(t *testing.T) {
	id, err := resolveActionID(" act_123 ")
	if err != nil {
		t.Fatalf("resolveActionID failed: %v", err)
	}
	if id != "act_123" {
		t.Fatalf("unexpected action id: %s", id)
	}
	if _, err := resolveActionID(""); err == nil {
		t.Fatal("expected error for empty action id")
	}
}

func TestShouldOpenActionStore(t *testing.T) {
	for _, path := range []string{"swap plan", "swap submit", "swap approve", "crosschain plan", "crosschain submit", "actions list", "actions estimate"} {
		if !shouldOpenActionStore(path) {
			t.Fatalf("expected %s to require action store", path)
		}
	}
	for _, path := range []string{"swap quote", "route find", "crosschain quote", "solana instruction", "watch"} {
		if shouldOpenActionStore(path) {
			t.Fatalf("did not expect %s to require action store", path)
		}
	}
}

func TestShouldOpenCacheBypassesExecutionCommands(t *testing.T) {
	for _, path := range []string{"swap submit", "swap plan", "crosschain submit", "actions submit", "watch", "crosschain min-amount"} {
		if shouldOpenCache(path) {
			t.Fatalf("did not expect %s to open cache", path)
		}
	}
	for _, path := range []string{"route find", "swap quote", "crosschain quote"} {
		if !shouldOpenCache(path) {
			t.Fatalf("expected %s to open cache", path)
		}
	}
}

func TestRunnerCommandsInSchema(t *testing.T) {
	paths := []string{
		"route find",
		"swap quote",
		"swap plan",
		"swap approve",
		"swap submit",
		"crosschain quote",
		"crosschain plan",
		"crosschain submit",
		"crosschain min-amount",
		"solana instruction",
		"solana health",
		"watch",
		"actions show",
		"actions estimate",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			isolateEnv(t, "")
			r, stdout, stderr := newTestRunner(&evmtest.Fake{})
			code := r.Run([]string{"schema", path, "--results-only"})
			if code != 0 {
				t.Fatalf("expected exit 0 for %q, got %d stderr=%s", path, code, stderr.String())
			}
			var doc map[string]any
			if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
				t.Fatalf("failed to parse schema output for %q: %v output=%s", path, err, stdout.String())
			}
			if got, _ := doc["path"].(string); got != fmt.Sprintf("xswap %s", path) {
				t.Fatalf("unexpected schema path for %q: got %q", path, got)
			}
		})
	}
}

func TestRunnerSwapPlanRequiresFromAddress(t *testing.T) {
	isolateEnv(t, "")
	r, _, stderr := newTestRunner(&evmtest.Fake{})
	code := r.Run([]string{
		"swap", "plan",
		"--chain", "ethereum",
		"--from", "USDC",
		"--to", "DAI",
		"--amount", "1000000",
	})
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerActionsListBypassesCacheOpen(t *testing.T) {
	isolateEnv(t, "")
	setUnopenableCacheEnv(t)
	r, stdout, stderr := newTestRunner(&evmtest.Fake{})
	code := r.Run([]string{"actions", "list", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse actions output json: %v output=%s", err, stdout.String())
	}
}

func TestRunnerActionsShowAndFilter(t *testing.T) {
	isolateEnv(t, "")
	storePath := filepath.Join(t.TempDir(), "actions.db")
	t.Setenv("XSWAP_ACTIONS_PATH", storePath)
	t.Setenv("XSWAP_ACTIONS_LOCK_PATH", storePath+".lock")

	store, err := execution.OpenStore(storePath, storePath+".lock")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	swap := execution.NewAction("act_swap", "swap", "eip155:1", execution.Constraints{SlippageBps: 50})
	bridge := execution.NewAction("act_bridge", "crosschain", "eip155:1", execution.Constraints{SlippageBps: 200})
	for _, a := range []execution.Action{swap, bridge} {
		if err := store.Save(a); err != nil {
			t.Fatalf("save %s: %v", a.ActionID, err)
		}
	}
	_ = store.Close()

	r, stdout, stderr := newTestRunner(&evmtest.Fake{})
	if code := r.Run([]string{"actions", "list", "--intent", "crosschain", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var listed []execution.Action
	if err := json.Unmarshal(stdout.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v output=%s", err, stdout.String())
	}
	if len(listed) != 1 || listed[0].ActionID != "act_bridge" {
		t.Fatalf("expected only the crosschain action, got %+v", listed)
	}

	r, stdout, stderr = newTestRunner(&evmtest.Fake{})
	if code := r.Run([]string{"actions", "show", "--action-id", "act_swap", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var shown execution.Action
	if err := json.Unmarshal(stdout.Bytes(), &shown); err != nil {
		t.Fatalf("decode show: %v output=%s", err, stdout.String())
	}
	if shown.IntentType != "swap" || shown.Constraints.SlippageBps != 50 {
		t.Fatalf("unexpected action: %+v", shown)
	}
}

func TestRunnerActionsShowMissingIsUsageError(t *testing.T) {
	isolateEnv(t, "")
	setUnopenableCacheEnv(t)
	r, _, stderr := newTestRunner(&evmtest.Fake{})
	code := r.Run([]string{"actions", "show", "--action-id", "act_missing"})
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr.String())
	}
}

// setUnopenableCacheEnv points the quote cache at a path under a regular
// file so any attempt to open it fails.
func setUnopenableCacheEnv(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	t.Setenv("XSWAP_CACHE_PATH", filepath.Join(blocker, "cache.db"))
	t.Setenv("XSWAP_CACHE_LOCK_PATH", filepath.Join(blocker, "cache.lock"))
	t.Setenv("XSWAP_ACTIONS_PATH", filepath.Join(tmp, "actions.db"))
	t.Setenv("XSWAP_ACTIONS_LOCK_PATH", filepath.Join(tmp, "actions.lock"))
}
