// Package gateway implements the OpenAI-compatible request router (C6):
// the public /v1/* surface, byte-exact streaming proxy, retry policy, and
// the error envelope every response shares.
//
// Grounded on the teacher's pkg/infer-gateway/router package (gin.Context
// streaming via c.Stream, bufio line-at-a-time forwarding, usage parsing
// from response bodies) generalized from its pod-selection/KV-connector
// concerns to CORTEX's one-container-per-model selection (C4).
package gateway

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/auth"
	"cortex.dev/cortex/internal/registry"
	"cortex.dev/cortex/internal/selector"
)

// Recorder is implemented by the Usage Recorder (C7); the gateway never
// blocks on it (§4.6 step 8, §4.7: "must not block the hot path").
type Recorder interface {
	Record(ev UsageEvent)
}

// UsageEvent is one completed request, handed to the recorder's buffered
// queue.
type UsageEvent struct {
	RequestID        string
	APIKeyID         *int64
	ModelServedName  string
	Route            string
	PromptTokens     int
	CompletionTokens int
	StatusCode       int
	LatencyMS        int64
	TTFTMs           *int64
	Streamed         bool
}

// Metrics is implemented by the Metrics Collector (C8); every series the
// request path records has one method here. The upstream_health gauge has
// none: metrics.HealthPublisher sets it.
type Metrics interface {
	ObserveRequest(route string, status int, latency time.Duration)
	ObserveUpstreamLatency(path string, latency time.Duration)
	ObserveUpstreamLatencyByUpstream(path, baseURL string, latency time.Duration)
	ObserveStreamTTFT(path string, ttft time.Duration)
	IncUpstreamSelected(path, baseURL string)
	IncKeyAuthAllowed(reason string)
	IncKeyAuthBlocked(reason string)
	IncUpstreamBlocked(path string)
}

// Router owns the gin engine and every collaborator a request handler
// needs.
type Router struct {
	guard    *auth.Guard
	selector *selector.Selector
	reg      registry.Registry
	recorder Recorder
	metrics  Metrics
	log      *logrus.Entry

	requestTimeout  time.Duration
	streamIdleTimeout time.Duration
	backendAuthHeader string
	backendAuthValue  string
}

// Config controls per-request timeouts and the optional internal backend
// auth header CORTEX injects when forwarding to the engine container
// (§4.6 step 4: "inject internal backend auth header if configured").
type Config struct {
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
	BackendAuthHeader string
	BackendAuthValue  string
}

// NewRouter constructs a Router and registers every route on a fresh gin
// engine.
func NewRouter(guard *auth.Guard, sel *selector.Selector, reg registry.Registry, recorder Recorder, metrics Metrics, log *logrus.Entry, cfg Config) *gin.Engine {
	r := &Router{
		guard:             guard,
		selector:          sel,
		reg:               reg,
		recorder:          recorder,
		metrics:           metrics,
		log:               log,
		requestTimeout:    orDefault(cfg.RequestTimeout, 60*time.Second),
		streamIdleTimeout: orDefault(cfg.StreamIdleTimeout, 30*time.Second),
		backendAuthHeader: cfg.BackendAuthHeader,
		backendAuthValue:  cfg.BackendAuthValue,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(r.requestIDMiddleware())

	v1 := engine.Group("/v1")
	{
		v1.POST("/chat/completions", r.handleInference("/v1/chat/completions"))
		v1.POST("/completions", r.handleInference("/v1/completions"))
		v1.POST("/embeddings", r.handleEmbeddings)
		v1.GET("/models", r.handleListModels)
		v1.GET("/models/running", r.handleListRunningModels)
		v1.GET("/models/:name/constraints", r.handleModelConstraints)
	}

	return engine
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (r *Router) contextWithTimeout(c *gin.Context, streaming bool) (context.Context, context.CancelFunc) {
	if streaming {
		// Streaming has no total-duration timeout (§5); the idle timeout
		// between upstream lines is enforced in the copy loop instead.
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), r.requestTimeout)
}
