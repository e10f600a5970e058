package controller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/registry"
)

func TestEstimateVRAM_SevenBillionBF16TP1(t *testing.T) {
	m := &registry.Model{
		EngineKind: registry.EngineTransformersServer,
		Config: registry.ConfigBundle{
			ParamsBillions: 7,
			ContextLength:  8192,
			HiddenSize:     4096,
			NumLayers:      32,
			MaxNumSeqs:     1,
			TensorParallel: 1,
		},
	}

	est := EstimateVRAM(m)
	require.InDelta(t, 2*7, est.WeightsGB, 0.5) // 2 bytes/weight * 7B params, in GB magnitude
	require.Greater(t, est.KVCacheGB, 0.0)
	require.InDelta(t, 0.15*(est.WeightsGB+est.KVCacheGB), est.OverheadGB, 1e-6)
	require.InDelta(t, est.WeightsGB+est.KVCacheGB+est.OverheadGB, est.RequiredVRAMGB, 1e-6)
}

func TestEstimateVRAM_AWQHalvesWeights(t *testing.T) {
	base := &registry.Model{Config: registry.ConfigBundle{ParamsBillions: 7, HiddenSize: 1, NumLayers: 1, MaxNumSeqs: 1}}
	awq := &registry.Model{Config: registry.ConfigBundle{ParamsBillions: 7, Quantization: "awq", HiddenSize: 1, NumLayers: 1, MaxNumSeqs: 1}}

	require.Greater(t, EstimateVRAM(base).WeightsGB, EstimateVRAM(awq).WeightsGB)
}

func TestEstimateVRAM_TensorParallelDividesKVCache(t *testing.T) {
	tp1 := &registry.Model{Config: registry.ConfigBundle{ContextLength: 4096, HiddenSize: 4096, NumLayers: 32, MaxNumSeqs: 4, TensorParallel: 1}}
	tp2 := &registry.Model{Config: registry.ConfigBundle{ContextLength: 4096, HiddenSize: 4096, NumLayers: 32, MaxNumSeqs: 4, TensorParallel: 2}}

	require.InDelta(t, EstimateVRAM(tp1).KVCacheGB/2, EstimateVRAM(tp2).KVCacheGB, 1e-6)
}
