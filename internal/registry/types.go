// Package registry is the Model Registry (C1): the durable record of
// configured models and the single writer of Model.State (§4.1).
package registry

import (
	"encoding/json"
	"regexp"
	"time"

	"cortex.dev/cortex/internal/apperr"
)

// State is a Model's administrative lifecycle state (spec §4.1).
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateLoading  State = "loading"
	StateRunning  State = "running"
	StateFailed   State = "failed"
	StateArchived State = "archived"
)

// EngineKind is one of the two supported backend engine families.
type EngineKind string

const (
	EngineTransformersServer EngineKind = "transformers-server"
	EngineGGUFServer         EngineKind = "gguf-server"
)

var servedNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// DType enumerates the weight/KV-cache dtypes the VRAM estimator and
// command-line builder understand (glossary: VRAM estimate).
type DType string

const (
	DTypeBF16 DType = "bf16"
	DTypeFP16 DType = "fp16"
	DTypeAWQ  DType = "awq"
	DTypeGPTQ DType = "gptq"
	DTypeFP8  DType = "fp8"
	DTypeINT8 DType = "int8"
)

// ConfigBundle is the closed, engine-tagged configuration struct that
// replaces the source system's loose dictionaries (§9 redesign note:
// "define a closed struct with tagged variants per engine kind; reject
// unknown fields on ingress; present the same JSON shape on egress").
//
// Fields not meaningful for a given EngineKind are simply left zero; the
// command-line builder (internal/controller) decides per-field which
// engine consumes it, per the table in spec §4.2.
type ConfigBundle struct {
	ContextLength int `json:"context_length,omitempty"`

	// transformers-server-only
	TensorParallel       int     `json:"tensor_parallel,omitempty"`
	KVCacheDType         DType   `json:"kv_cache_dtype,omitempty"`
	Quantization         string  `json:"quantization,omitempty"`
	FlashAttention       bool    `json:"flash_attention,omitempty"`
	AttentionBackend     string  `json:"attention_backend,omitempty"`
	GGUFWeightFormat     string  `json:"gguf_weight_format,omitempty"`
	VLLMV1Enabled        bool    `json:"vllm_v1_enabled,omitempty"`
	EnforceEager         bool    `json:"enforce_eager,omitempty"`
	EnablePrefixCaching  bool    `json:"enable_prefix_caching,omitempty"`
	EnableChunkedPrefill bool    `json:"enable_chunked_prefill,omitempty"`
	MaxNumSeqs           int     `json:"max_num_seqs,omitempty"`
	MaxNumBatchedTokens  int     `json:"max_num_batched_tokens,omitempty"`
	CPUOffloadGB         float64 `json:"cpu_offload_gb,omitempty"`
	SwapSpaceGB          float64 `json:"swap_space_gb,omitempty"`
	BlockSize            int     `json:"block_size,omitempty"`

	// gguf-server-only
	GPULayers       int     `json:"gpu_layers,omitempty"`
	TensorSplit     []float64 `json:"tensor_split,omitempty"`
	DraftModelPath  string  `json:"draft_model_path,omitempty"`
	DraftModelN     int     `json:"draft_model_n,omitempty"`
	DraftModelPMin  float64 `json:"draft_model_p_min,omitempty"`
	MLock           bool    `json:"mlock,omitempty"`
	NoMMap          bool    `json:"no_mmap,omitempty"`
	NUMAPolicy      string  `json:"numa_policy,omitempty"`
	SplitMode       string  `json:"split_mode,omitempty"`
	BatchSize       int     `json:"batch_size,omitempty"`
	UBatchSize      int     `json:"ubatch_size,omitempty"`
	Threads         int     `json:"threads,omitempty"`
	ParallelSlots   int     `json:"parallel_slots,omitempty"`
	RopeFreqBase    float64 `json:"rope_freq_base,omitempty"`
	RopeFreqScale   float64 `json:"rope_freq_scale,omitempty"`

	// shared
	GPUSelection           interface{} `json:"gpu_selection,omitempty"` // normalized via pkg/gpuselect
	DebugLogging           bool        `json:"debug_logging,omitempty"`
	TraceMode              bool        `json:"trace_mode,omitempty"`
	EngineRequestTimeout   int         `json:"engine_request_timeout,omitempty"` // seconds
	EntryPointOverride     string      `json:"entry_point_override,omitempty"`

	// tokenizer source, consulted by the offline-tokenizer pre-start gate
	TokenizerLocalPath string `json:"tokenizer_local_path,omitempty"`
	TokenizerRepoID    string `json:"tokenizer_repo_id,omitempty"`

	// model-size hint for the VRAM estimator; operator-supplied because
	// CORTEX never reads weight files itself (§1: core never owns weights).
	ParamsBillions float64 `json:"params_billions,omitempty"`
	HiddenSize     int     `json:"hidden_size,omitempty"`
	NumLayers      int     `json:"num_layers,omitempty"`
}

// Scan/Value let ConfigBundle round-trip through a jsonb column.
func (c ConfigBundle) Value() ([]byte, error) { return json.Marshal(c) }

func (c *ConfigBundle) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		return nil
	default:
		return apperr.New(apperr.InternalError, "unsupported ConfigBundle column type")
	}
	return json.Unmarshal(b, c)
}

// Model is the configured unit of inference (spec §3).
type Model struct {
	ID            int64        `db:"id" json:"id"`
	Name          string       `db:"name" json:"name"`
	ServedName    string       `db:"served_name" json:"served_name"`
	EngineKind    EngineKind   `db:"engine_kind" json:"engine_kind"`
	RepoID        *string      `db:"repo_id" json:"repo_id,omitempty"`
	LocalPath     *string      `db:"local_path" json:"local_path,omitempty"`
	EngineImage   string       `db:"engine_image" json:"engine_image"`
	Config        ConfigBundle `db:"config" json:"config"`
	State         State        `db:"state" json:"state"`
	LastError     *string      `db:"last_error" json:"last_error,omitempty"`
	Port          *int         `db:"port" json:"port,omitempty"`
	ContainerName *string      `db:"container_name" json:"container_name,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// CreateConfig is the validated input to Create.
type CreateConfig struct {
	Name        string
	ServedName  string
	EngineKind  EngineKind
	RepoID      *string
	LocalPath   *string
	EngineImage string
	Config      ConfigBundle
}

// Validate enforces §4.1's create-time invariants, returning a
// validation_error naming every offending field at once.
func (c CreateConfig) Validate() error {
	fields := map[string]string{}

	if !servedNamePattern.MatchString(c.ServedName) {
		fields["served_name"] = "must match [A-Za-z0-9._-]{1,128}"
	}
	if c.Name == "" {
		fields["name"] = "must not be empty"
	}
	if c.EngineKind != EngineTransformersServer && c.EngineKind != EngineGGUFServer {
		fields["engine_kind"] = "must be transformers-server or gguf-server"
	}
	if c.EngineImage == "" {
		fields["engine_image"] = "must not be empty"
	}
	hasRepo := c.RepoID != nil && *c.RepoID != ""
	hasLocal := c.LocalPath != nil && *c.LocalPath != ""
	if hasRepo == hasLocal {
		fields["source"] = "exactly one of repo_id or local_path must be set"
	}

	if len(fields) > 0 {
		return apperr.New(apperr.ValidationError, "invalid model configuration").WithFields(fields)
	}
	return nil
}

// Patch is a partial update to an existing Model (admin PATCH).
type Patch struct {
	Name        *string
	EngineImage *string
	Config      *ConfigBundle
}
