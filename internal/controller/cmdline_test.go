package controller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/registry"
)

func TestBuildCommandLine_TransformersServer(t *testing.T) {
	m := &registry.Model{
		EngineKind: registry.EngineTransformersServer,
		Config: registry.ConfigBundle{
			ContextLength:  8192,
			TensorParallel: 1,
			FlashAttention: true,
		},
	}

	cl, err := BuildCommandLine(m)
	require.NoError(t, err)
	require.Contains(t, cl.Args, "--max-model-len")
	require.Contains(t, cl.Args, "--tensor-parallel-size")
	require.Contains(t, cl.Args, "--attention-backend")
	require.Equal(t, "1800", cl.Env["NCCL_TIMEOUT"])
}

func TestBuildCommandLine_GGUFServer(t *testing.T) {
	m := &registry.Model{
		EngineKind: registry.EngineGGUFServer,
		Config: registry.ConfigBundle{
			ContextLength: 4096,
			GPULayers:     32,
			MLock:         true,
		},
	}

	cl, err := BuildCommandLine(m)
	require.NoError(t, err)
	require.Contains(t, cl.Args, "--ctx-size")
	require.Contains(t, cl.Args, "--n-gpu-layers")
	require.Contains(t, cl.Args, "--mlock")
}

func TestBuildCommandLine_ArgsAreSorted(t *testing.T) {
	m := &registry.Model{
		EngineKind: registry.EngineGGUFServer,
		Config: registry.ConfigBundle{
			Threads:   8,
			BatchSize: 512,
			MLock:     true,
		},
	}

	cl, err := BuildCommandLine(m)
	require.NoError(t, err)

	var flags []string
	for _, a := range cl.Args {
		if len(a) > 2 && a[:2] == "--" {
			flags = append(flags, a)
		}
	}
	require.True(t, len(flags) >= 3)
	for i := 1; i < len(flags); i++ {
		require.LessOrEqual(t, flags[i-1], flags[i])
	}
}

func TestBuildCommandLine_GPUSelectionSetsCUDAVisibleDevices(t *testing.T) {
	m := &registry.Model{
		EngineKind: registry.EngineTransformersServer,
		Config: registry.ConfigBundle{
			GPUSelection: "[0,1]",
		},
	}

	cl, err := BuildCommandLine(m)
	require.NoError(t, err)
	require.Equal(t, "0,1", cl.Env["CUDA_VISIBLE_DEVICES"])
	require.Contains(t, cl.Args, "--tensor-parallel-size")
}

func TestBuildCommandLine_RejectsBadGPUSelection(t *testing.T) {
	m := &registry.Model{
		EngineKind: registry.EngineTransformersServer,
		Config:     registry.ConfigBundle{GPUSelection: 3.5},
	}
	_, err := BuildCommandLine(m)
	require.Error(t, err)
}
