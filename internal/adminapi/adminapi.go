// Package adminapi is the session-authenticated "/admin/*" surface (spec
// §6): models CRUD/lifecycle, keys/users/orgs CRUD, system/usage/deployment
// read endpoints.
//
// Grounded on the teacher's pkg/infer-gateway/router package (gin.Engine,
// route groups, one handler struct closing over its collaborators) the
// same way internal/gateway is, generalized from the public inference
// surface to the operator-facing control surface.
package adminapi

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/apikeys"
	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/auth"
	"cortex.dev/cortex/internal/configstore"
	"cortex.dev/cortex/internal/controller"
	"cortex.dev/cortex/internal/deployment"
	"cortex.dev/cortex/internal/identity"
	"cortex.dev/cortex/internal/metrics"
	"cortex.dev/cortex/internal/registry"
	"cortex.dev/cortex/internal/usage"
)

const sessionCookieName = "cortex_session"
const requestIDContextKey = "cortex_request_id"

// Deps is everything the admin API needs, assembled by internal/appctx.
type Deps struct {
	Registry   registry.Registry
	Controller *controller.Service
	Guard      *auth.Guard
	APIKeys    apikeys.Store
	Identity   identity.Store
	UsageQuery usage.Reader
	Metrics    *metrics.Collector
	Deployment *deployment.Runner
	ConfigKV   configstore.Store
	ModelsDir  string
	Log        *logrus.Entry
}

type handler struct {
	deps Deps
}

// NewRouter constructs the admin gin engine, every route requiring a valid
// admin session cookie, for reads and writes alike.
func NewRouter(deps Deps) *gin.Engine {
	h := &handler{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.requestIDMiddleware())

	admin := r.Group("/admin")
	admin.Use(h.sessionMiddleware(true))
	{
		models := admin.Group("/models")
		models.GET("", h.listModels)
		models.POST("", h.createModel)
		models.GET("/metrics", h.modelsMetrics)
		models.GET("/local-folders", h.localFolders)
		models.GET("/inspect-folder", h.inspectFolder)
		models.GET("/base-dir", h.getBaseDir)
		models.PUT("/base-dir", h.putBaseDir)
		models.GET("/:id", h.getModel)
		models.PATCH("/:id", h.patchModel)
		models.DELETE("/:id", h.deleteModel)
		models.POST("/:id/start", h.startModel)
		models.POST("/:id/stop", h.stopModel)
		models.POST("/:id/apply", h.applyModel)
		models.POST("/:id/archive", h.archiveModel)
		models.POST("/:id/dry-run", h.dryRunModel)
		models.POST("/:id/test", h.testModel)
		models.GET("/:id/logs", h.modelLogs)

		keys := admin.Group("/keys")
		keys.GET("", h.listKeys)
		keys.POST("", h.createKey)
		keys.GET("/lookup", h.lookupKey)
		keys.DELETE("/:id", h.revokeKey)

		users := admin.Group("/users")
		users.GET("", h.listUsers)
		users.POST("", h.createUser)
		users.GET("/lookup", h.lookupUser)
		users.GET("/:id", h.getUser)
		users.DELETE("/:id", h.deleteUser)

		orgs := admin.Group("/orgs")
		orgs.GET("", h.listOrgs)
		orgs.POST("", h.createOrg)
		orgs.GET("/:id", h.getOrg)
		orgs.DELETE("/:id", h.deleteOrg)

		system := admin.Group("/system")
		system.GET("/capabilities", h.systemCapabilities)
		system.GET("/throughput", h.systemThroughput)
		system.GET("/host/summary", h.systemHostSummary)
		system.GET("/host/trends", h.systemHostTrends)
		system.GET("/gpus", h.systemGPUs)

		usageGroup := admin.Group("/usage")
		usageGroup.GET("", h.usageAggregate)
		usageGroup.GET("/series", h.usageSeries)
		usageGroup.GET("/aggregate", h.usageAggregate)
		usageGroup.GET("/latency", h.usageLatency)
		usageGroup.GET("/ttft", h.usageTTFT)
		usageGroup.GET("/export", h.usageExport)

		dep := admin.Group("/deployment")
		dep.POST("/export", h.deploymentExport)
		dep.POST("/export-model/:id", h.deploymentExportModel)
		dep.POST("/import-model", h.deploymentImportModel)
		dep.POST("/restore-database", h.deploymentRestoreDatabase)
		dep.POST("/estimate-size", h.deploymentEstimateSize)
		dep.GET("/status", h.deploymentStatus)
		dep.GET("/options", h.deploymentOptions)
		dep.GET("/jobs", h.deploymentJobs)
		dep.DELETE("/jobs/:id", h.deploymentCancelJob)
		dep.GET("/model-manifests", h.deploymentModelManifests)
		dep.GET("/database-dump", h.deploymentDatabaseDump)
	}

	return r
}

func (h *handler) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := auth.RequestID(c.GetHeader("x-request-id"))
		c.Set(requestIDContextKey, id)
		c.Header("x-request-id", id)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (h *handler) sessionMiddleware(requireAdmin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, _ := c.Cookie(sessionCookieName)
		ident, err := h.deps.Guard.AuthenticateSession(cookie, requireAdmin)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set("identity", ident)
		c.Next()
	}
}

func writeError(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Internal(err)
	}
	c.AbortWithStatusJSON(ae.HTTPStatus(), ae.ToEnvelope(requestIDFrom(c)))
}

func writeJSON(c *gin.Context, status int, body interface{}) {
	c.JSON(status, body)
}
