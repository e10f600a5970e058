package adminapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/inspector"
	"cortex.dev/cortex/internal/registry"
)

func (h *handler) modelIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, apperr.New(apperr.ValidationError, "id must be an integer"))
		return 0, false
	}
	return id, true
}

func (h *handler) listModels(c *gin.Context) {
	filters := registry.Filters{IncludeArchived: c.Query("include_archived") == "true"}
	models, err := h.deps.Registry.List(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"models": models})
}

type createModelRequest struct {
	Name        string                `json:"name"`
	ServedName  string                `json:"served_name"`
	EngineKind  registry.EngineKind   `json:"engine_kind"`
	RepoID      *string               `json:"repo_id"`
	LocalPath   *string               `json:"local_path"`
	EngineImage string                `json:"engine_image"`
	Config      registry.ConfigBundle `json:"config"`
}

func (h *handler) createModel(c *gin.Context) {
	var req createModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "decoding request body", err))
		return
	}
	m, err := h.deps.Registry.Create(c.Request.Context(), registry.CreateConfig{
		Name:        req.Name,
		ServedName:  req.ServedName,
		EngineKind:  req.EngineKind,
		RepoID:      req.RepoID,
		LocalPath:   req.LocalPath,
		EngineImage: req.EngineImage,
		Config:      req.Config,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, m)
}

func (h *handler) getModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	m, err := h.deps.Registry.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m)
}

type patchModelRequest struct {
	Name        *string                `json:"name"`
	EngineImage *string                `json:"engine_image"`
	Config      *registry.ConfigBundle `json:"config"`
}

func (h *handler) patchModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	var req patchModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "decoding request body", err))
		return
	}
	m, err := h.deps.Registry.Update(c.Request.Context(), id, registry.Patch{
		Name:        req.Name,
		EngineImage: req.EngineImage,
		Config:      req.Config,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m)
}

func (h *handler) deleteModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	if err := h.deps.Registry.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) startModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	if err := h.deps.Controller.Start(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) stopModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	if err := h.deps.Controller.Stop(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) applyModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	if err := h.deps.Controller.Apply(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) archiveModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	if err := h.deps.Registry.Archive(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) dryRunModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	result, err := h.deps.Controller.DryRun(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

func (h *handler) testModel(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	result, err := h.deps.Controller.Test(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

func (h *handler) modelLogs(c *gin.Context) {
	id, ok := h.modelIDParam(c)
	if !ok {
		return
	}
	tail := 200
	if v := c.Query("tail"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tail = n
		}
	}
	diagnose := c.Query("diagnose") == "true"
	result, err := h.deps.Controller.Logs(c.Request.Context(), id, tail, diagnose)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

func (h *handler) modelsMetrics(c *gin.Context) {
	models, err := h.deps.Registry.List(c.Request.Context(), registry.Filters{})
	if err != nil {
		writeError(c, err)
		return
	}
	summaries := make([]gin.H, 0, len(models))
	for _, m := range models {
		summaries = append(summaries, gin.H{
			"id":          m.ID,
			"served_name": m.ServedName,
			"state":       m.State,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"models": summaries})
}

// localFolders lists immediate subdirectories of the configured base
// directory, the candidate set an operator picks from before inspecting
// one.
func (h *handler) localFolders(c *gin.Context) {
	base, err := h.resolveBaseDir(c)
	if err != nil {
		writeError(c, err)
		return
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.InternalError, "listing local model folders", err))
		return
	}
	folders := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, e.Name())
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"folders": folders})
}

func (h *handler) inspectFolder(c *gin.Context) {
	base, err := h.resolveBaseDir(c)
	if err != nil {
		writeError(c, err)
		return
	}
	folder := c.Query("folder")
	if folder == "" {
		writeError(c, apperr.New(apperr.ValidationError, "folder is required"))
		return
	}
	dir := filepath.Join(base, folder)
	if !strings.HasPrefix(filepath.Clean(dir), filepath.Clean(base)+string(os.PathSeparator)) && filepath.Clean(dir) != filepath.Clean(base) {
		writeError(c, apperr.New(apperr.ValidationError, "folder must resolve inside the base directory"))
		return
	}
	report, err := inspector.Inspect(dir)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "inspecting folder", err))
		return
	}
	writeJSON(c, http.StatusOK, report)
}

// resolveBaseDir returns the admin-configured base directory, falling back
// to the process-level default when nothing has been set yet.
func (h *handler) resolveBaseDir(c *gin.Context) (string, error) {
	value, ok, err := h.deps.ConfigKV.Get(c.Request.Context(), "base_dir")
	if err != nil {
		return "", err
	}
	if !ok || value == "" {
		return h.deps.ModelsDir, nil
	}
	return value, nil
}

func (h *handler) getBaseDir(c *gin.Context) {
	value, ok, err := h.deps.ConfigKV.Get(c.Request.Context(), "base_dir")
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		value = h.deps.ModelsDir
	}
	writeJSON(c, http.StatusOK, gin.H{"base_dir": value})
}

func (h *handler) putBaseDir(c *gin.Context) {
	var req struct {
		BaseDir string `json:"base_dir"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "decoding request body", err))
		return
	}
	if req.BaseDir == "" {
		writeError(c, apperr.New(apperr.ValidationError, "base_dir must not be empty"))
		return
	}
	if err := h.deps.ConfigKV.Set(c.Request.Context(), "base_dir", req.BaseDir); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
