package adminapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"cortex.dev/cortex/internal/hostinfo"
	"cortex.dev/cortex/internal/registry"
)

// systemCapabilities reports the engine kinds and dtypes this build knows
// how to schedule, so the console can validate a model form client-side.
func (h *handler) systemCapabilities(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"engine_kinds": []registry.EngineKind{registry.EngineTransformersServer, registry.EngineGGUFServer},
		"kv_cache_dtypes": []registry.DType{
			registry.DTypeBF16, registry.DTypeFP16, registry.DTypeAWQ,
			registry.DTypeGPTQ, registry.DTypeFP8, registry.DTypeINT8,
		},
		"gpu_count": len(hostinfo.DiscoverGPUs(c.Request.Context())),
	})
}

// systemThroughput is a short rolling window over the most recent usage
// records, the console's at-a-glance request-rate tile.
func (h *handler) systemThroughput(c *gin.Context) {
	until := time.Now().UTC()
	since := until.Add(-15 * time.Minute)
	points, err := h.deps.UsageQuery.Series(c.Request.Context(), since, until, time.Minute, "")
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"window": "15m", "bucket": "1m", "points": points})
}

// systemHostSummary reports the process's own resource footprint plus
// discovered GPUs, since CORTEX never assumes a metrics agent is present
// on the host.
func (h *handler) systemHostSummary(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeJSON(c, http.StatusOK, gin.H{
		"goroutines":   runtime.NumGoroutine(),
		"heap_alloc_b": mem.HeapAlloc,
		"gpus":         hostinfo.DiscoverGPUs(c.Request.Context()),
	})
}

// systemHostTrends is a coarse hourly usage trend over the past day,
// distinct from the finer-grained per-minute throughput tile.
func (h *handler) systemHostTrends(c *gin.Context) {
	until := time.Now().UTC()
	since := until.Add(-24 * time.Hour)
	points, err := h.deps.UsageQuery.Series(c.Request.Context(), since, until, time.Hour, "")
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"window": "24h", "bucket": "1h", "points": points})
}

func (h *handler) systemGPUs(c *gin.Context) {
	gpus := hostinfo.DiscoverGPUs(c.Request.Context())
	writeJSON(c, http.StatusOK, gin.H{"gpus": gpus})
}
