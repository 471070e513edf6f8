/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/gin-gonic/gin"
    "github.com/HamedShams/sprint-pulse/internal/config"
    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/HamedShams/sprint-pulse/internal/services"
    "github.com/rs/zerolog"
)

type Handlers struct {
    cfg config.Config
    log zerolog.Logger
    svc *services.Service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc *services.Service) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

// syncRequest is the body of every sync endpoint: the three session tokens
// the tracker expects. They are never logged or stored.
type syncRequest struct {
    XSRFToken          string `json:"xsrfToken"`
    AccountXSRFToken   string `json:"accountXsrfToken"`
    TenantSessionToken string `json:"tenantSessionToken"`
}

func (h *Handlers) credentials(c *gin.Context) (domain.Credentials, bool) {
    var req syncRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
        return domain.Credentials{}, false
    }
    creds := domain.Credentials{
        XSRFToken:          req.XSRFToken,
        AccountXSRFToken:   req.AccountXSRFToken,
        TenantSessionToken: req.TenantSessionToken,
    }
    if err := creds.Validate(); err != nil {
        c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
        return domain.Credentials{}, false
    }
    return creds, true
}

// FullImport bulk-loads a pre-supplied issue batch; no tracker round trip,
// so no credentials are expected.
func (h *Handlers) FullImport(c *gin.Context) {
    var req struct {
        Issues []domain.Issue `json:"issues"`
    }
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
        return
    }
    if len(req.Issues) == 0 {
        c.JSON(http.StatusBadRequest, gin.H{"error": "empty issue batch"})
        return
    }
    res, err := h.svc.FullImport(c.Request.Context(), req.Issues)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, res)
}

func (h *Handlers) FetchNew(c *gin.Context) {
    creds, ok := h.credentials(c)
    if !ok { return }
    res, err := h.svc.FetchNew(c.Request.Context(), creds)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, res)
}

func (h *Handlers) DeltaUpdate(c *gin.Context) {
    creds, ok := h.credentials(c)
    if !ok { return }
    res, err := h.svc.DeltaUpdate(c.Request.Context(), creds)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, res)
}

func (h *Handlers) SyncSprint(c *gin.Context) {
    creds, ok := h.credentials(c)
    if !ok { return }
    res, err := h.svc.SyncSprint(c.Request.Context(), creds, c.Param("id"))
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, res)
}

func (h *Handlers) Sprints(c *gin.Context) {
    out, err := h.svc.SprintSummaries()
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) Sprint(c *gin.Context) {
    out, err := h.svc.SprintSummary(c.Param("id"))
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) SprintIssues(c *gin.Context) {
    out, err := h.svc.SprintIssues(c.Param("id"))
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) Developers(c *gin.Context) {
    out, err := h.svc.DeveloperSummaries()
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) FixVersions(c *gin.Context) {
    out, err := h.svc.FixVersionSummaries()
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) FixVersion(c *gin.Context) {
    out, err := h.svc.FixVersionSummary(c.Param("name"))
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) FixVersionIssues(c *gin.Context) {
    out, err := h.svc.FixVersionIssues(c.Param("name"))
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) QaSummary(c *gin.Context) {
    out, err := h.svc.QaSummary()
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) TopQaFailures(c *gin.Context) {
    n, _ := strconv.Atoi(c.DefaultQuery("n", "5"))
    out, err := h.svc.TopQaFailures(n)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) Transitions(c *gin.Context) {
    out, err := h.svc.TransitionHistogram(c.Query("sprint"))
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) QaFailureDigest(c *gin.Context) {
    out, err := h.svc.QaFailureDigest(c.Query("sprint"))
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) StoreStatus(c *gin.Context) {
    c.JSON(http.StatusOK, h.svc.StoreStatus())
}

func (h *Handlers) RefreshCache(c *gin.Context) {
    h.svc.RefreshCache()
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

// fail maps the error taxonomy onto HTTP statuses.
func (h *Handlers) fail(c *gin.Context, err error) {
    status := http.StatusBadGateway
    switch {
    case errors.Is(err, domain.ErrNotFound):
        status = http.StatusNotFound
    case errors.Is(err, domain.ErrAuthRejected):
        status = http.StatusUnauthorized
    case errors.Is(err, domain.ErrConflict):
        status = http.StatusConflict
    }
    c.JSON(status, gin.H{"error": err.Error(), "kind": domain.Classify(err)})
}
