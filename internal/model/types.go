package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name           string                   `json:"name"`
	Type           string                   `json:"type"`
	Dialect        string                   `json:"dialect,omitempty"`
	Chains         []string                 `json:"chains,omitempty"`
	RequiresKey    bool                     `json:"requires_key"`
	Capabilities   []string                 `json:"capabilities"`
	KeyEnvVarName  string                   `json:"key_env_var,omitempty"`
	CapabilityAuth []ProviderCapabilityAuth `json:"capability_auth,omitempty"`
}

type ProviderCapabilityAuth struct {
	Capability  string `json:"capability"`
	KeyEnvVar   string `json:"key_env_var"`
	Description string `json:"description,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// ChainSummary is one row of `chains list`.
type ChainSummary struct {
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	ChainID       string   `json:"chain_id"`
	EVMChainID    int64    `json:"evm_chain_id,omitempty"`
	SwapProviders []string `json:"swap_providers,omitempty"`
	Bridge        string   `json:"bridge,omitempty"`
	TransitToken  string   `json:"transit_token,omitempty"`
	RPCConfigured bool     `json:"rpc_configured"`
}

// RouteCandidate is one quoted path from `route find`.
type RouteCandidate struct {
	Provider     string     `json:"provider"`
	Path         []string   `json:"path"`
	Hops         int        `json:"hops"`
	AmountOut    AmountInfo `json:"amount_out"`
	EstimatedGas uint64     `json:"estimated_gas,omitempty"`
	ProfitUSD    string     `json:"profit_usd,omitempty"`
}

// Submission reports the hashes of a broadcast action.
type Submission struct {
	ActionID string            `json:"action_id"`
	Status   string            `json:"status"`
	TxHash   string            `json:"tx_hash,omitempty"`
	Steps    map[string]string `json:"steps,omitempty"`
	History  []string          `json:"history,omitempty"`
}
