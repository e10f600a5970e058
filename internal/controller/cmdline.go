package controller

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cortex.dev/cortex/internal/registry"
	"cortex.dev/cortex/pkg/gpuselect"
)

// CommandLine is the fully-assembled process invocation for a backend
// container: the argument vector passed after the entry point, plus the
// environment variables layered on top of the image's defaults.
type CommandLine struct {
	Args []string
	Env  map[string]string
}

// BuildCommandLine deterministically assembles the argument vector and
// environment for m's engine kind from its configuration bundle. Grounded
// on the *shape* of the teacher's ConvertVLLMArgsFromJson (sorted-key,
// `--flag value` emission over a config map) but driven from the closed
// ConfigBundle struct instead of a loose map, per the redesign note on
// dynamic configuration bundles.
func BuildCommandLine(m *registry.Model) (CommandLine, error) {
	switch m.EngineKind {
	case registry.EngineTransformersServer:
		return buildTransformersServerArgs(m)
	case registry.EngineGGUFServer:
		return buildGGUFServerArgs(m)
	default:
		return CommandLine{}, fmt.Errorf("unknown engine kind %q", m.EngineKind)
	}
}

// flagSet collects --flag/value pairs and renders them sorted by flag name
// so the resulting argument vector is deterministic across builds — the
// same property the teacher's sorted-key JSON-to-args conversion preserves.
type flagSet struct {
	entries map[string][]string
}

func newFlagSet() *flagSet { return &flagSet{entries: make(map[string][]string)} }

func (f *flagSet) add(flag string, values ...string) {
	f.entries[flag] = values
}

func (f *flagSet) bool(flag string, on bool) {
	if on {
		f.entries[flag] = nil
	}
}

func (f *flagSet) render() []string {
	names := make([]string, 0, len(f.entries))
	for name := range f.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		out = append(out, name)
		out = append(out, f.entries[name]...)
	}
	return out
}

func buildTransformersServerArgs(m *registry.Model) (CommandLine, error) {
	c := m.Config
	fs := newFlagSet()
	env := map[string]string{}

	if c.ContextLength > 0 {
		fs.add("--max-model-len", strconv.Itoa(c.ContextLength))
	}
	if c.TensorParallel > 0 {
		fs.add("--tensor-parallel-size", strconv.Itoa(c.TensorParallel))
	}
	if c.KVCacheDType != "" {
		fs.add("--kv-cache-dtype", string(c.KVCacheDType))
	}
	if c.Quantization != "" {
		fs.add("--quantization", c.Quantization)
	}
	if c.FlashAttention {
		fs.add("--attention-backend", "flash-attn")
	} else if c.AttentionBackend != "" {
		fs.add("--attention-backend", c.AttentionBackend)
	}
	if c.GGUFWeightFormat != "" {
		fs.add("--gguf-weight-format", c.GGUFWeightFormat)
	}
	if c.VLLMV1Enabled {
		env["VLLM_USE_V1"] = "1"
	}
	fs.bool("--enforce-eager", c.EnforceEager)
	fs.bool("--enable-prefix-caching", c.EnablePrefixCaching)
	fs.bool("--enable-chunked-prefill", c.EnableChunkedPrefill)
	if c.MaxNumSeqs > 0 {
		fs.add("--max-num-seqs", strconv.Itoa(c.MaxNumSeqs))
	}
	if c.MaxNumBatchedTokens > 0 {
		fs.add("--max-num-batched-tokens", strconv.Itoa(c.MaxNumBatchedTokens))
	}
	if c.CPUOffloadGB > 0 {
		fs.add("--cpu-offload-gb", formatFloat(c.CPUOffloadGB))
	}
	if c.SwapSpaceGB > 0 {
		fs.add("--swap-space-gb", formatFloat(c.SwapSpaceGB))
	}
	if c.BlockSize > 0 {
		fs.add("--block-size", strconv.Itoa(c.BlockSize))
	}

	if c.DebugLogging {
		env["VLLM_LOGGING_LEVEL"] = "DEBUG"
	}
	if c.TraceMode {
		env["VLLM_TRACE_FUNCTION"] = "1"
	}
	if c.EngineRequestTimeout > 0 {
		env["VLLM_ENGINE_ITERATION_TIMEOUT_S"] = strconv.Itoa(c.EngineRequestTimeout)
	}

	ids, err := gpuselect.Normalize(c.GPUSelection)
	if err != nil {
		return CommandLine{}, fmt.Errorf("normalizing gpu_selection: %w", err)
	}
	if len(ids) > 0 {
		env["CUDA_VISIBLE_DEVICES"] = gpuselect.CUDAVisibleDevices(ids)
		if c.TensorParallel == 0 {
			fs.add("--tensor-parallel-size", strconv.Itoa(gpuselect.TensorParallelSize(ids)))
		}
	}

	applyCollectiveOpsEnv(env)

	return CommandLine{Args: fs.render(), Env: env}, nil
}

func buildGGUFServerArgs(m *registry.Model) (CommandLine, error) {
	c := m.Config
	fs := newFlagSet()
	env := map[string]string{}

	if c.ContextLength > 0 {
		fs.add("--ctx-size", strconv.Itoa(c.ContextLength))
	}
	if c.GPULayers > 0 {
		fs.add("--n-gpu-layers", strconv.Itoa(c.GPULayers))
	}
	if len(c.TensorSplit) > 0 {
		parts := make([]string, len(c.TensorSplit))
		for i, v := range c.TensorSplit {
			parts[i] = formatFloat(v)
		}
		fs.add("--tensor-split", strings.Join(parts, ","))
	}
	if c.KVCacheDType != "" {
		fs.add("--cache-type-k", string(c.KVCacheDType))
		fs.add("--cache-type-v", string(c.KVCacheDType))
	}
	fs.bool("--flash-attn", c.FlashAttention)
	if c.DraftModelPath != "" {
		fs.add("--model-draft", c.DraftModelPath)
		if c.DraftModelN > 0 {
			fs.add("--draft-max", strconv.Itoa(c.DraftModelN))
		}
		if c.DraftModelPMin > 0 {
			fs.add("--draft-p-min", formatFloat(c.DraftModelPMin))
		}
	}
	fs.bool("--mlock", c.MLock)
	fs.bool("--no-mmap", c.NoMMap)
	if c.NUMAPolicy != "" {
		fs.add("--numa", c.NUMAPolicy)
	}
	if c.SplitMode != "" {
		fs.add("--split-mode", c.SplitMode)
	}
	if c.BatchSize > 0 {
		fs.add("--batch-size", strconv.Itoa(c.BatchSize))
	}
	if c.UBatchSize > 0 {
		fs.add("--ubatch-size", strconv.Itoa(c.UBatchSize))
	}
	if c.Threads > 0 {
		fs.add("--threads", strconv.Itoa(c.Threads))
	}
	if c.ParallelSlots > 0 {
		fs.add("--parallel", strconv.Itoa(c.ParallelSlots))
	}
	if c.RopeFreqBase > 0 {
		fs.add("--rope-freq-base", formatFloat(c.RopeFreqBase))
	}
	if c.RopeFreqScale > 0 {
		fs.add("--rope-freq-scale", formatFloat(c.RopeFreqScale))
	}
	if c.DebugLogging || c.TraceMode {
		fs.add("--log-verbosity", "1")
	}

	ids, err := gpuselect.Normalize(c.GPUSelection)
	if err != nil {
		return CommandLine{}, fmt.Errorf("normalizing gpu_selection: %w", err)
	}
	if len(ids) > 0 {
		env["CUDA_VISIBLE_DEVICES"] = gpuselect.CUDAVisibleDevices(ids)
	}

	applyCollectiveOpsEnv(env)

	return CommandLine{Args: fs.render(), Env: env}, nil
}

// applyCollectiveOpsEnv sets the multi-GPU coordination variables that must
// always be present so collective operations cannot hang indefinitely,
// independent of any per-model configuration.
func applyCollectiveOpsEnv(env map[string]string) {
	env["NCCL_TIMEOUT"] = "1800"
	env["NCCL_DEBUG"] = "WARN"
	env["NCCL_BLOCKING_WAIT"] = "1"
	env["NCCL_ASYNC_ERROR_HANDLING"] = "1"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
