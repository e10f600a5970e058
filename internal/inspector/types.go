// Package inspector is the Folder Inspector (C9): a pure, side-effect-free
// read of a model directory that classifies its files, validates GGUF
// headers, and recommends a serving engine (§4.9).
package inspector

// Report is the full contract returned by the admin inspect-folder endpoint
// (§6: "Inspect-folder response").
type Report struct {
	HasSafetensors       bool              `json:"has_safetensors"`
	HasGGUF              bool              `json:"has_gguf"`
	MultipartGroups      []MultipartGroup  `json:"multipart_groups"`
	SingleFiles          []FileEntry       `json:"single_files"`
	GGUFValidation       Validation        `json:"gguf_validation"`
	Metadata             Metadata          `json:"metadata"`
	EngineRecommendation Recommendation    `json:"engine_recommendation"`
	TokenizerSuggestions []string          `json:"tokenizer_suggestions"`
	TotalBytes           int64             `json:"total_bytes"`
}

// FileEntry describes one classified model file.
type FileEntry struct {
	Path             string   `json:"path"`
	Kind             string   `json:"kind"` // "safetensors" or "gguf"
	Bytes            int64    `json:"bytes"`
	Quantization     string   `json:"quantization,omitempty"`
	Valid            bool     `json:"valid"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// MultipartGroup describes a set of GGUF shards sharing a base name, e.g.
// "model-00001-of-00005.gguf" .. "model-00005-of-00005.gguf". Files/Status
// match §8 S6's worked example (`{files:3, first_part:"...", status:"ready"}`)
// verbatim; Parts/Valid/ValidationErrors are the underlying detail Status
// summarizes, kept for callers that need the per-shard breakdown.
type MultipartGroup struct {
	FirstPart        string   `json:"first_part"`
	Files            int      `json:"files"`
	Status           string   `json:"status"`
	Parts            []string `json:"parts,omitempty"`
	TotalBytes       int64    `json:"total_bytes"`
	Quantization     string   `json:"quantization,omitempty"`
	Valid            bool     `json:"valid"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

const (
	multipartStatusReady   = "ready"
	multipartStatusInvalid = "invalid"
)

// Validation aggregates GGUF validation across every file/group in the
// folder.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Metadata is architecture metadata read from the first GGUF header found,
// following §6's field names exactly.
type Metadata struct {
	Architecture    string `json:"architecture,omitempty"`
	ContextLength   int    `json:"context_length,omitempty"`
	EmbeddingLength int    `json:"embedding_length,omitempty"`
	BlockCount      int    `json:"block_count,omitempty"`
	HeadsQ          int    `json:"heads_q,omitempty"`
	HeadsKV         int    `json:"heads_kv,omitempty"`
	VocabSize       int    `json:"vocab_size,omitempty"`
	FileType        int    `json:"file_type,omitempty"`
}

// Recommendation is the engine-recommendation decision with rationale
// (§4.9's four-row matrix).
type Recommendation struct {
	Recommended string   `json:"recommended"`
	Reason      string   `json:"reason"`
	Options     []string `json:"options"`
}

const (
	engineTransformersServer = "transformers-server"
	engineGGUFServer         = "gguf-server"
)

// Recommend implements §4.9's four-row decision matrix exactly.
func Recommend(multipartGGUF, safetensorsPresent bool) Recommendation {
	switch {
	case multipartGGUF && safetensorsPresent:
		return Recommendation{
			Recommended: engineTransformersServer,
			Reason:      "multi-part GGUF shards are present alongside safetensors weights; safetensors load directly without GGUF dequantization",
			Options:     []string{engineTransformersServer, engineGGUFServer},
		}
	case multipartGGUF && !safetensorsPresent:
		return Recommendation{
			Recommended: engineGGUFServer,
			Reason:      "only multi-part GGUF shards are present",
			Options:     []string{engineGGUFServer},
		}
	case !multipartGGUF && safetensorsPresent:
		return Recommendation{
			Recommended: engineTransformersServer,
			Reason:      "safetensors weights are present",
			Options:     []string{engineTransformersServer, engineGGUFServer},
		}
	default:
		return Recommendation{
			Recommended: engineGGUFServer,
			Reason:      "a single GGUF file is present with no safetensors weights",
			Options:     []string{engineGGUFServer},
		}
	}
}
