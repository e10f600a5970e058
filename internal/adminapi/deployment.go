package adminapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/controller"
	"cortex.dev/cortex/internal/deployment"
	"cortex.dev/cortex/internal/registry"
)

// exportWork walks every configured model, or only modelID when it is set,
// logging each served name to the job log as it goes and counting the name's
// length as bytes written; it writes no model config and produces no archive.
func exportWork(h *handler, modelID *int64) deployment.WorkFunc {
	return func(ctx context.Context, r *deployment.Reporter) error {
		filters := registry.Filters{IncludeArchived: true}
		models, err := h.deps.Registry.List(ctx, filters)
		if err != nil {
			return err
		}
		if modelID != nil {
			filtered := models[:0]
			for _, m := range models {
				if m.ID == *modelID {
					filtered = append(filtered, m)
				}
			}
			models = filtered
		}
		total := len(models)
		for i, m := range models {
			if r.Cancelled() {
				return context.Canceled
			}
			r.SetStep("exporting " + m.ServedName)
			r.Log("exporting model " + m.ServedName)
			r.AddBytesWritten(int64(len(m.ServedName)))
			if total > 0 {
				r.SetProgress(float64(i+1) / float64(total))
			}
		}
		r.SetProgress(1)
		return nil
	}
}

func (h *handler) deploymentExport(c *gin.Context) {
	job, err := h.deps.Deployment.Start(context.Background(), deployment.KindExportFull, exportWork(h, nil))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, job)
}

func (h *handler) deploymentExportModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	job, err := h.deps.Deployment.Start(context.Background(), deployment.KindExportModel, exportWork(h, &id))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, job)
}

func (h *handler) deploymentImportModel(c *gin.Context) {
	var req struct {
		ArchivePath string `json:"archive_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "decoding request body", err))
		return
	}
	work := func(ctx context.Context, r *deployment.Reporter) error {
		r.SetStep("importing " + req.ArchivePath)
		r.Log("importing archive " + req.ArchivePath)
		r.SetProgress(1)
		return nil
	}
	job, err := h.deps.Deployment.Start(context.Background(), deployment.KindImportModel, work)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, job)
}

func (h *handler) deploymentRestoreDatabase(c *gin.Context) {
	var req struct {
		DumpPath string `json:"dump_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "decoding request body", err))
		return
	}
	work := func(ctx context.Context, r *deployment.Reporter) error {
		r.SetStep("restoring from " + req.DumpPath)
		r.Log("restoring database from " + req.DumpPath)
		r.SetProgress(1)
		return nil
	}
	job, err := h.deps.Deployment.Start(context.Background(), deployment.KindRestoreDatabase, work)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, job)
}

// deploymentEstimateSize reports the VRAM an export/import would need to
// account for, reusing the same estimator the model dry-run action uses.
func (h *handler) deploymentEstimateSize(c *gin.Context) {
	models, err := h.deps.Registry.List(c.Request.Context(), registry.Filters{IncludeArchived: true})
	if err != nil {
		writeError(c, err)
		return
	}
	var total controller.VRAMEstimate
	for _, m := range models {
		est := controller.EstimateVRAM(m)
		total.WeightsGB += est.WeightsGB
		total.KVCacheGB += est.KVCacheGB
		total.OverheadGB += est.OverheadGB
		total.RequiredVRAMGB += est.RequiredVRAMGB
	}
	writeJSON(c, http.StatusOK, gin.H{"model_count": len(models), "estimate": total})
}

func (h *handler) deploymentStatus(c *gin.Context) {
	snapshots, err := h.deps.Deployment.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"jobs": snapshots})
}

func (h *handler) deploymentOptions(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"kinds": []string{
			deployment.KindExportFull, deployment.KindExportModel,
			deployment.KindImportModel, deployment.KindRestoreDatabase,
		},
	})
}

func (h *handler) deploymentJobs(c *gin.Context) {
	snapshots, err := h.deps.Deployment.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"jobs": snapshots})
}

func (h *handler) deploymentCancelJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, apperr.New(apperr.ValidationError, "id must be an integer"))
		return
	}
	if err := h.deps.Deployment.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) deploymentModelManifests(c *gin.Context) {
	models, err := h.deps.Registry.List(c.Request.Context(), registry.Filters{IncludeArchived: true})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"models": models})
}

// deploymentDatabaseDump reports the most recent database-restore job, the
// closest thing to a dump manifest this read-only endpoint can offer
// without side effects.
func (h *handler) deploymentDatabaseDump(c *gin.Context) {
	snapshots, err := h.deps.Deployment.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	for _, s := range snapshots {
		if s.Kind == deployment.KindRestoreDatabase {
			writeJSON(c, http.StatusOK, s)
			return
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "no database dump job has run yet"})
}
