package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cortex.dev/cortex/internal/apperr"
)

const defaultUsageWindow = 24 * time.Hour

// usageWindow parses the since/until/model query parameters shared
// by every usage endpoint, defaulting to the trailing 24h across all
// models when omitted.
func usageWindow(c *gin.Context) (since, until time.Time, servedName string, err error) {
	until = time.Now().UTC()
	since = until.Add(-defaultUsageWindow)
	if v := c.Query("since"); v != "" {
		since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return since, until, servedName, apperr.Wrap(apperr.ValidationError, "parsing since", err)
		}
	}
	if v := c.Query("until"); v != "" {
		until, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return since, until, servedName, apperr.Wrap(apperr.ValidationError, "parsing until", err)
		}
	}
	servedName = c.Query("model")
	return since, until, servedName, nil
}

func (h *handler) usageSeries(c *gin.Context) {
	since, until, servedName, err := usageWindow(c)
	if err != nil {
		writeError(c, err)
		return
	}
	bucket := time.Hour
	if v := c.Query("bucket_seconds"); v != "" {
		if d, perr := time.ParseDuration(v + "s"); perr == nil {
			bucket = d
		}
	}
	points, err := h.deps.UsageQuery.Series(c.Request.Context(), since, until, bucket, servedName)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"points": points})
}

func (h *handler) usageAggregate(c *gin.Context) {
	since, until, servedName, err := usageWindow(c)
	if err != nil {
		writeError(c, err)
		return
	}
	agg, err := h.deps.UsageQuery.Aggregate(c.Request.Context(), since, until, servedName)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, agg)
}

func (h *handler) usageLatency(c *gin.Context) {
	since, until, servedName, err := usageWindow(c)
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.deps.UsageQuery.LatencyPercentiles(c.Request.Context(), since, until, servedName)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *handler) usageTTFT(c *gin.Context) {
	since, until, servedName, err := usageWindow(c)
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.deps.UsageQuery.TTFTPercentiles(c.Request.Context(), since, until, servedName)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *handler) usageExport(c *gin.Context) {
	since, until, servedName, err := usageWindow(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rows, err := h.deps.UsageQuery.Export(c.Request.Context(), since, until, servedName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("content-disposition", `attachment; filename="usage-export.json"`)
	writeJSON(c, http.StatusOK, gin.H{"rows": rows})
}
