package enginemetrics

import dto "github.com/prometheus/client_model/go"

// Snapshot is the normalized per-model engine metrics view built from one
// scrape of a backend's /metrics endpoint.
type Snapshot struct {
	RequestsRunning     float64
	RequestsWaiting     float64
	RequestsSwapped     float64
	GPUCacheUsagePerc   float64
	PromptTokensTotal   float64
	CompletionTokens    float64
	TimeToFirstToken    float64
	TimePerOutputToken  float64
	Err                 string // non-empty if this model's scrape failed
}

// EngineSeries names the series a given engine family exposes, keyed by
// CORTEX's engine_kind, so the scraper doesn't need an engine-specific type
// per backend the way the teacher's MetricsProvider interface does — the
// series names are data, not behavior, because both engines speak the same
// Prometheus text format.
type EngineSeries struct {
	RequestsRunning   string
	RequestsWaiting   string
	RequestsSwapped   string
	GPUCacheUsage     string
	PromptTokens      string
	CompletionTokens  string
	TTFT              string
	TPOT              string
}

// TransformersServerSeries names the metrics exposed by the GPU-centric
// transformers-server engine (vLLM-compatible naming).
var TransformersServerSeries = EngineSeries{
	RequestsRunning:  "vllm:num_requests_running",
	RequestsWaiting:  "vllm:num_requests_waiting",
	RequestsSwapped:  "vllm:num_requests_swapped",
	GPUCacheUsage:    "vllm:gpu_cache_usage_perc",
	PromptTokens:     "vllm:prompt_tokens_total",
	CompletionTokens: "vllm:generation_tokens_total",
	TTFT:             "vllm:time_to_first_token_seconds",
	TPOT:             "vllm:time_per_output_token_seconds",
}

// GGUFServerSeries names the metrics exposed by the gguf-server engine
// (llama.cpp-compatible naming); it exposes a narrower set than the
// transformers-server engine, notably no swapped-request gauge.
var GGUFServerSeries = EngineSeries{
	RequestsRunning:  "llamacpp:requests_processing",
	RequestsWaiting:  "llamacpp:requests_deferred",
	GPUCacheUsage:    "llamacpp:kv_cache_usage_ratio",
	PromptTokens:     "llamacpp:prompt_tokens_total",
	CompletionTokens: "llamacpp:tokens_predicted_total",
	TTFT:             "llamacpp:time_to_first_token_seconds",
	TPOT:             "llamacpp:time_per_output_token_seconds",
}

func (s EngineSeries) counterGaugeNames() []string {
	names := []string{s.RequestsRunning, s.RequestsWaiting, s.GPUCacheUsage, s.PromptTokens, s.CompletionTokens}
	if s.RequestsSwapped != "" {
		names = append(names, s.RequestsSwapped)
	}
	return names
}

func (s EngineSeries) histogramNames() []string {
	return []string{s.TTFT, s.TPOT}
}

// NormalizeFamilies turns scraped Prometheus families into a Snapshot for
// the given engine's series names, carrying forward previous histogram
// state for the last-period average computation.
func NormalizeFamilies(families map[string]*dto.MetricFamily, series EngineSeries, previous map[string]*dto.Histogram) (Snapshot, map[string]*dto.Histogram) {
	counters := CounterOrGaugeValues(families, series.counterGaugeNames())
	histAvgs, histState := HistogramAverages(families, series.histogramNames(), previous)

	snap := Snapshot{
		RequestsRunning:    counters[series.RequestsRunning],
		RequestsWaiting:    counters[series.RequestsWaiting],
		RequestsSwapped:    counters[series.RequestsSwapped],
		GPUCacheUsagePerc:  counters[series.GPUCacheUsage],
		PromptTokensTotal:  counters[series.PromptTokens],
		CompletionTokens:   counters[series.CompletionTokens],
		TimeToFirstToken:   histAvgs[series.TTFT],
		TimePerOutputToken: histAvgs[series.TPOT],
	}
	return snap, histState
}
