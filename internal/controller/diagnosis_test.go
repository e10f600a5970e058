package controller

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiagnose_MatchesKnownPatterns(t *testing.T) {
	cases := map[string]DiagnosisKind{
		"RuntimeError: could not locate tokenizer for repo x/y":        DiagnosisMissingTokenizerOffline,
		"[E ProcessGroupNCCL.cpp:123] NCCL watchdog thread terminated": DiagnosisCollectiveOpsTimeout,
		"RuntimeError: CUDA out of memory. Tried to allocate 2.00 GiB": DiagnosisOutOfMemory,
		"Error: address already in use":                                DiagnosisPortInUse,
	}

	for logLine, want := range cases {
		d := Diagnose(logLine)
		require.NotNilf(t, d, "expected a match for %q", logLine)
		require.Equal(t, want, d.Kind)
		require.NotEmpty(t, d.Fix)
	}
}

func TestDiagnose_NoMatchReturnsNil(t *testing.T) {
	require.Nil(t, Diagnose("model loaded successfully, serving on :9000"))
}
