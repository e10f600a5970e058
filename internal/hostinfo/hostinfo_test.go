package hostinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNvidiaSMI_ParsesRowsAndDerivesArchitecture(t *testing.T) {
	output := "0, NVIDIA A100-SXM4-80GB, 81920, 1024, 8.0\n1, NVIDIA T4, 16384, 512, 7.5\n"

	gpus := parseNvidiaSMI(output)
	require.Len(t, gpus, 2)

	require.Equal(t, 0, gpus[0].Index)
	require.Equal(t, "Ampere", gpus[0].Architecture)
	require.True(t, gpus[0].FlashAttentionSupported)

	require.Equal(t, "Turing", gpus[1].Architecture)
	require.False(t, gpus[1].FlashAttentionSupported)
}

func TestParseNvidiaSMI_EmptyOutputReturnsNil(t *testing.T) {
	require.Nil(t, parseNvidiaSMI(""))
}

func TestArchitectureFor_UnknownNameFallsBack(t *testing.T) {
	require.Equal(t, "unknown", architectureFor("Generic Graphics Card"))
}
