package controller

import "regexp"

// DiagnosisKind labels the category of a matched startup/log failure.
type DiagnosisKind string

const (
	DiagnosisMissingTokenizerOffline DiagnosisKind = "missing_tokenizer_offline"
	DiagnosisCollectiveOpsTimeout    DiagnosisKind = "collective_ops_timeout"
	DiagnosisDriverMismatch          DiagnosisKind = "driver_mismatch"
	DiagnosisMemoryProfileError      DiagnosisKind = "memory_profile_error"
	DiagnosisLegacyFileFormat        DiagnosisKind = "legacy_file_format"
	DiagnosisOutOfMemory             DiagnosisKind = "out_of_memory"
	DiagnosisPortInUse               DiagnosisKind = "port_in_use"
)

// diagnosisRule is one row of the curated, data-driven pattern table called
// for in §9's design note ("data-driven, not scattered conditionals").
type diagnosisRule struct {
	pattern *regexp.Regexp
	kind    DiagnosisKind
	fix     string
}

var diagnosisTable = []diagnosisRule{
	{
		pattern: regexp.MustCompile(`(?i)could not (locate|find) tokenizer`),
		kind:    DiagnosisMissingTokenizerOffline,
		fix:     "set tokenizer_local_path to a cached tokenizer config, or disable offline_mode to allow the download",
	},
	{
		pattern: regexp.MustCompile(`(?i)NCCL.*(timeout|watchdog)`),
		kind:    DiagnosisCollectiveOpsTimeout,
		fix:     "check that all selected GPUs are visible and healthy; consider raising NCCL_TIMEOUT for very large tensor-parallel degrees",
	},
	{
		pattern: regexp.MustCompile(`(?i)CUDA driver version is insufficient|incompatible driver`),
		kind:    DiagnosisDriverMismatch,
		fix:     "upgrade the host NVIDIA driver to match the CUDA toolkit baked into the engine image",
	},
	{
		pattern: regexp.MustCompile(`(?i)out of memory|CUDA out of memory|OOM`),
		kind:    DiagnosisOutOfMemory,
		fix:     "reduce context_length, max_num_seqs, or gpu_layers, or select a quantized checkpoint",
	},
	{
		pattern: regexp.MustCompile(`(?i)failed to (parse|read) (memory|profiling) (profile|snapshot)`),
		kind:    DiagnosisMemoryProfileError,
		fix:     "delete any stale memory-profile cache for this model and restart",
	},
	{
		pattern: regexp.MustCompile(`(?i)unsupported gguf version|magic number mismatch|legacy ggml format`),
		kind:    DiagnosisLegacyFileFormat,
		fix:     "reconvert the checkpoint with a current GGUF converter; this engine version does not read the legacy format",
	},
	{
		pattern: regexp.MustCompile(`(?i)address already in use|port is already allocated`),
		kind:    DiagnosisPortInUse,
		fix:     "the allocated host port collided with another process; retry start to allocate a fresh port",
	},
}

// Diagnosis is the structured hint returned alongside a raw log tail.
type Diagnosis struct {
	Kind    DiagnosisKind `json:"kind"`
	Fix     string        `json:"fix"`
	Snippet string        `json:"snippet"`
}

// Diagnose matches logText against the curated pattern table, in order,
// returning the first hit. Returns nil if nothing matched — callers still
// show the raw log tail in that case.
func Diagnose(logText string) *Diagnosis {
	for _, rule := range diagnosisTable {
		if loc := rule.pattern.FindStringIndex(logText); loc != nil {
			start := loc[0] - 80
			if start < 0 {
				start = 0
			}
			end := loc[1] + 80
			if end > len(logText) {
				end = len(logText)
			}
			return &Diagnosis{
				Kind:    rule.kind,
				Fix:     rule.fix,
				Snippet: logText[start:end],
			}
		}
	}
	return nil
}
