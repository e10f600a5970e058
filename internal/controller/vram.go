package controller

import (
	"cortex.dev/cortex/internal/registry"
)

// VRAMEstimate is the dry-run breakdown returned alongside the command
// vector (§4.2 "dry-run"), implementing the GLOSSARY formula directly —
// pure arithmetic, no third-party library applies here.
type VRAMEstimate struct {
	WeightsGB      float64 `json:"weights_gb"`
	KVCacheGB      float64 `json:"kv_cache_gb"`
	OverheadGB     float64 `json:"overhead_gb"`
	RequiredVRAMGB float64 `json:"required_vram_gb"`
}

// gb uses the decimal (1e9 bytes) convention, matching how GPU vendors and
// the spec's own worked example ("required_vram_gb ≈ 2·7 + …") report VRAM.
const gb = 1e9

// bytesPerWeight implements the glossary's bytes-per-weight table, keyed
// primarily off the quantization label (the field operators actually set)
// and falling back to an explicit dtype when quantization is empty.
func bytesPerWeight(dtype registry.DType, quantization string) float64 {
	switch {
	case quantization == "awq" || quantization == "gptq" || dtype == registry.DTypeAWQ || dtype == registry.DTypeGPTQ:
		return 0.5
	case dtype == registry.DTypeFP8 || dtype == registry.DTypeINT8:
		return 1
	default: // BF16/FP16 and anything unspecified
		return 2
	}
}

func bytesPerKV(kvDType registry.DType) float64 {
	if kvDType == "" {
		return 2 // BF16/FP16 default
	}
	return bytesPerWeight(kvDType, "")
}

// EstimateVRAM computes the weights+KV+overhead breakdown for m, assuming
// one active request per sequence slot at the model's configured context
// length (the "average active tokens" term collapses to context_length in
// the absence of live traffic samples, which is the dry-run case this
// estimator serves).
func EstimateVRAM(m *registry.Model) VRAMEstimate {
	c := m.Config

	weightsBytes := c.ParamsBillions * 1e9 * bytesPerWeight("", c.Quantization)

	maxNumSeqs := c.MaxNumSeqs
	if maxNumSeqs == 0 {
		maxNumSeqs = 1
	}
	avgActiveTokens := float64(c.ContextLength)
	activeTokenBudget := avgActiveTokens * float64(maxNumSeqs)
	if c.MaxNumBatchedTokens > 0 && float64(c.MaxNumBatchedTokens) < activeTokenBudget {
		activeTokenBudget = float64(c.MaxNumBatchedTokens)
	}

	tensorParallel := c.TensorParallel
	if tensorParallel == 0 {
		tensorParallel = 1
	}

	kvBytes := activeTokenBudget * float64(c.NumLayers) * 2 * float64(c.HiddenSize) *
		bytesPerKV(c.KVCacheDType) / float64(tensorParallel)

	overheadBytes := 0.15 * (weightsBytes + kvBytes)

	return VRAMEstimate{
		WeightsGB:      weightsBytes / gb,
		KVCacheGB:      kvBytes / gb,
		OverheadGB:     overheadBytes / gb,
		RequiredVRAMGB: (weightsBytes + kvBytes + overheadBytes) / gb,
	}
}
