package adminapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cortex.dev/cortex/internal/apperr"
)

func (h *handler) idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, apperr.New(apperr.ValidationError, "id must be an integer"))
		return 0, false
	}
	return id, true
}

func (h *handler) listKeys(c *gin.Context) {
	keys, err := h.deps.APIKeys.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"keys": keys})
}

type createKeyRequest struct {
	Label   string   `json:"label"`
	OwnerID *int64   `json:"owner_id"`
	Scopes  []string `json:"scopes"`
}

func (h *handler) createKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "decoding request body", err))
		return
	}
	key, err := h.deps.APIKeys.Issue(c.Request.Context(), req.Label, req.OwnerID, req.Scopes)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, key)
}

// lookupKey finds a key by its visible prefix, the only part of a raw
// token an operator can see once it has been issued.
func (h *handler) lookupKey(c *gin.Context) {
	prefix := c.Query("prefix")
	if prefix == "" {
		writeError(c, apperr.New(apperr.ValidationError, "prefix is required"))
		return
	}
	keys, err := h.deps.APIKeys.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	for _, k := range keys {
		if k.Prefix == prefix {
			writeJSON(c, http.StatusOK, k)
			return
		}
	}
	writeError(c, apperr.New(apperr.ValidationError, "no key matches that prefix"))
}

func (h *handler) revokeKey(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	if err := h.deps.APIKeys.Revoke(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listUsers(c *gin.Context) {
	users, err := h.deps.Identity.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"users": users})
}

type createUserRequest struct {
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	OrganizationID *int64 `json:"organization_id"`
}

func (h *handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "decoding request body", err))
		return
	}
	if req.Email == "" {
		writeError(c, apperr.New(apperr.ValidationError, "email is required"))
		return
	}
	u, err := h.deps.Identity.CreateUser(c.Request.Context(), req.Email, req.DisplayName, req.OrganizationID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, u)
}

func (h *handler) getUser(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	u, err := h.deps.Identity.GetUser(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}

func (h *handler) lookupUser(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		writeError(c, apperr.New(apperr.ValidationError, "email is required"))
		return
	}
	u, err := h.deps.Identity.LookupUserByEmail(c.Request.Context(), email)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}

func (h *handler) deleteUser(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	if err := h.deps.Identity.DeleteUser(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listOrgs(c *gin.Context) {
	orgs, err := h.deps.Identity.ListOrgs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"organizations": orgs})
}

func (h *handler) createOrg(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.ValidationError, "decoding request body", err))
		return
	}
	if req.Name == "" {
		writeError(c, apperr.New(apperr.ValidationError, "name is required"))
		return
	}
	org, err := h.deps.Identity.CreateOrg(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, org)
}

func (h *handler) getOrg(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	org, err := h.deps.Identity.GetOrg(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, org)
}

func (h *handler) deleteOrg(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	if err := h.deps.Identity.DeleteOrg(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
