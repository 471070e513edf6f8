/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "github.com/gin-gonic/gin"
    "github.com/HamedShams/sprint-pulse/internal/config"
    "github.com/HamedShams/sprint-pulse/internal/services"
    "github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc *services.Service) *gin.Engine {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context){
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
    })

    h := NewHandlers(cfg, log, svc)

    r.GET("/healthz", h.Healthz)

    api := r.Group("/api")
    {
        api.POST("/sync/full-import", h.FullImport)
        api.POST("/sync/fetch-new", h.FetchNew)
        api.POST("/sync/delta-update", h.DeltaUpdate)
        api.POST("/sync/sprint/:id", h.SyncSprint)

        api.GET("/sprints", h.Sprints)
        api.GET("/sprints/:id", h.Sprint)
        api.GET("/sprints/:id/issues", h.SprintIssues)

        api.GET("/developers", h.Developers)

        api.GET("/fix-versions", h.FixVersions)
        api.GET("/fix-versions/:name", h.FixVersion)
        api.GET("/fix-versions/:name/issues", h.FixVersionIssues)

        api.GET("/qa/summary", h.QaSummary)
        api.GET("/qa/top-failures", h.TopQaFailures)
        api.GET("/qa/failure-digest", h.QaFailureDigest)
        api.GET("/transitions", h.Transitions)

        api.GET("/store/status", h.StoreStatus)
        api.POST("/cache/refresh", h.RefreshCache)
    }

    return r
}
