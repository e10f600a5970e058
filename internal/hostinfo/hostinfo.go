// Package hostinfo discovers the GPUs attached to the host the gateway
// runs on, for the admin "system/gpus" endpoint (spec §6: "per-device
// metrics including compute capability, architecture name, and a boolean
// flash_attention_supported").
//
// Grounded on the GinoKube llamacppgateway process manager's GetGPUInfo /
// queryGPUInfo (other_examples/51fdb342_GinoKube-llamacppgateway__internal-
// process-manager.go.go): shell out to nvidia-smi with a CSV query, one
// exec per call with no caching layer of its own (the admin handler that
// calls this is already rate-limited by being an admin-only, infrequently
// polled endpoint).
package hostinfo

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// GPU is one discovered accelerator.
type GPU struct {
	Index                   int     `json:"index"`
	Name                    string  `json:"name"`
	MemTotalMB              int     `json:"mem_total_mb"`
	MemUsedMB               int     `json:"mem_used_mb"`
	ComputeCapability       float64 `json:"compute_capability"`
	Architecture            string  `json:"architecture"`
	FlashAttentionSupported bool    `json:"flash_attention_supported"`
}

// architecturePatterns maps a case-insensitive substring of the GPU's
// marketing name to its microarchitecture codename. Checked in order, so
// more specific substrings should precede shorter generic ones.
var architecturePatterns = []struct {
	substr string
	arch   string
}{
	{"h100", "Hopper"},
	{"h200", "Hopper"},
	{"a100", "Ampere"},
	{"a10g", "Ampere"},
	{"a40", "Ampere"},
	{"a30", "Ampere"},
	{"rtx 40", "Ada Lovelace"},
	{"l40", "Ada Lovelace"},
	{"rtx 30", "Ampere"},
	{"v100", "Volta"},
	{"t4", "Turing"},
	{"rtx 20", "Turing"},
	{"p100", "Pascal"},
	{"p40", "Pascal"},
}

func architectureFor(name string) string {
	lower := strings.ToLower(name)
	for _, p := range architecturePatterns {
		if strings.Contains(lower, p.substr) {
			return p.arch
		}
	}
	return "unknown"
}

// flashAttentionMinComputeCapability is the lowest compute capability
// flash-attention kernels CORTEX's engines support (§6: "true iff
// compute-capability >= 8.0").
const flashAttentionMinComputeCapability = 8.0

// DiscoverGPUs shells out to nvidia-smi and parses its CSV output. It
// returns an empty, non-error slice when nvidia-smi is not installed or
// the host has no NVIDIA GPU, since a CPU-only or non-NVIDIA host is a
// normal deployment target, not a failure.
func DiscoverGPUs(ctx context.Context) []GPU {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,name,memory.total,memory.used,compute_cap",
		"--format=csv,noheader,nounits")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil
	}
	return parseNvidiaSMI(out.String())
}

func parseNvidiaSMI(output string) []GPU {
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 5 {
			continue
		}
		idx, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		name := strings.TrimSpace(parts[1])
		total, _ := strconv.Atoi(strings.TrimSpace(parts[2]))
		used, _ := strconv.Atoi(strings.TrimSpace(parts[3]))
		cap, _ := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)

		gpus = append(gpus, GPU{
			Index:                   idx,
			Name:                    name,
			MemTotalMB:              total,
			MemUsedMB:               used,
			ComputeCapability:       cap,
			Architecture:            architectureFor(name),
			FlashAttentionSupported: cap >= flashAttentionMinComputeCapability,
		})
	}
	return gpus
}
