// Package tokenest estimates token counts for prompts/completions, by
// chars/4 or by a BPE encoding with a chars/4 fallback. No other CORTEX
// package imports it; the gateway's missing-usage estimate is its own chars/4
// count. Grounded on the teacher's pkg/infer-gateway/filters/tokenizer package.
package tokenest

import (
	"math"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

// Estimator counts tokens in a string.
type Estimator interface {
	Estimate(text string) (int, error)
}

// charRatioEstimator is the spec's documented fallback: chars/4.
type charRatioEstimator struct {
	charsPerToken float64
}

// NewCharRatioEstimator returns the chars/4 estimator spec §4.6 names as
// the estimation fallback for prompt/completion token counts.
func NewCharRatioEstimator() Estimator {
	return &charRatioEstimator{charsPerToken: 4.0}
}

func (c *charRatioEstimator) Estimate(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return int(math.Ceil(float64(len(text)) / c.charsPerToken)), nil
}

// tiktokenEstimator uses the cl100k_base BPE vocabulary for a closer
// approximation than chars/4, used when the engine's own usage block is
// absent but a tighter estimate than chars/4 is worth the CPU cost (e.g.
// rate-limiting decisions, where over-estimating starves legitimate
// traffic).
type tiktokenEstimator struct {
	encodingName string
}

const defaultEncoding = "cl100k_base"

// NewTiktokenEstimator returns a BPE-based estimator. It loads its BPE
// ranks from the offline loader bundled via tiktoken-go-loader so CORTEX
// never makes an outbound request merely to count tokens.
func NewTiktokenEstimator() Estimator {
	tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	return &tiktokenEstimator{encodingName: defaultEncoding}
}

func (t *tiktokenEstimator) Estimate(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	enc, err := tiktoken.GetEncoding(t.encodingName)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// FallbackEstimator tries a primary estimator and falls back to chars/4 on
// any error, so rate limiting and usage accounting never hard-fail on a
// tokenizer problem.
type FallbackEstimator struct {
	primary  Estimator
	fallback Estimator
}

// NewFallbackEstimator wraps primary with the chars/4 fallback.
func NewFallbackEstimator(primary Estimator) *FallbackEstimator {
	return &FallbackEstimator{primary: primary, fallback: NewCharRatioEstimator()}
}

func (f *FallbackEstimator) Estimate(text string) (int, error) {
	if n, err := f.primary.Estimate(text); err == nil {
		return n, nil
	}
	return f.fallback.Estimate(text)
}
