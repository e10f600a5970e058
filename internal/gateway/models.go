package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/registry"
)

type modelSummary struct {
	ServedName string `json:"served_name"`
	Name       string `json:"name"`
	EngineKind string `json:"engine_kind"`
	State      string `json:"state"`
}

// handleListModels serves GET /v1/models: every enabled (non-archived)
// model (§4.6).
func (r *Router) handleListModels(c *gin.Context) {
	r.listModels(c, registry.Filters{})
}

// handleListRunningModels serves GET /v1/models/running: the subset
// currently in the running state (§4.6).
func (r *Router) handleListRunningModels(c *gin.Context) {
	running := registry.StateRunning
	r.listModels(c, registry.Filters{State: &running})
}

func (r *Router) listModels(c *gin.Context, filters registry.Filters) {
	models, err := r.reg.List(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}

	summaries := make([]modelSummary, 0, len(models))
	for _, m := range models {
		summaries = append(summaries, modelSummary{
			ServedName: m.ServedName,
			Name:       m.Name,
			EngineKind: string(m.EngineKind),
			State:      string(m.State),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries})
}

type modelConstraints struct {
	ServedName         string `json:"served_name"`
	ContextLength      int    `json:"context_length"`
	SupportsStreaming  bool   `json:"supports_streaming"`
	MaxNumSeqs         int    `json:"max_num_seqs,omitempty"`
	TensorParallel     int    `json:"tensor_parallel,omitempty"`
}

// handleModelConstraints serves GET /v1/models/{name}/constraints: the
// model's advertised limits (§4.6).
func (r *Router) handleModelConstraints(c *gin.Context) {
	name := c.Param("name")
	m, err := r.reg.GetByServedName(c.Request.Context(), name)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.ModelNotFound, "model not found: "+name, err))
		return
	}

	c.JSON(http.StatusOK, modelConstraints{
		ServedName:        m.ServedName,
		ContextLength:     m.Config.ContextLength,
		SupportsStreaming: true,
		MaxNumSeqs:        m.Config.MaxNumSeqs,
		TensorParallel:    m.Config.TensorParallel,
	})
}
