// Package adminhttp serves the parameter administration API: global
// parameters, per-instrument overrides, and the audit trail. This is the
// operator's entry point for user overrides, not a dashboard.
package adminhttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"etfx/internal/engine"
	"etfx/internal/params"
	"etfx/internal/regime"
	"etfx/internal/universe"
)

// AuditReader exposes the audit trail to the API.
type AuditReader interface {
	RecentCandidates(limit int) ([]engine.OrderCandidate, error)
	RecentExits(limit int) ([]engine.ExitInstruction, error)
}

// Router wires the admin endpoints over the stores.
type Router struct {
	global   *params.GlobalStore
	resolver *params.Resolver
	universe *universe.Universe
	audit    AuditReader
}

// NewRouter builds the admin router. audit may be nil.
func NewRouter(global *params.GlobalStore, resolver *params.Resolver, uni *universe.Universe, audit AuditReader) *Router {
	return &Router{global: global, resolver: resolver, universe: uni, audit: audit}
}

// Register mounts the endpoints under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/params", r.handleGlobalParams)
	group.PUT("/params/:name", r.handleSetGlobalParam)
	group.GET("/tickers", r.handleTickers)
	group.GET("/tickers/:id", r.handleTickerDetail)
	group.PUT("/tickers/:id/override", r.handleSetOverride)
	group.DELETE("/tickers/:id/override", r.handleClearOverride)
	group.GET("/regime", r.handleRegime)
	if r.audit != nil {
		group.GET("/audit/candidates", r.handleAuditCandidates)
		group.GET("/audit/exits", r.handleAuditExits)
	}
}

func (r *Router) handleGlobalParams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"params": r.global.Snapshot()})
}

type setParamRequest struct {
	Value any `json:"value"`
}

func (r *Router) handleSetGlobalParam(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if !params.IsKnown(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown parameter: " + name})
		return
	}
	var req setParamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"value\": ...}"})
		return
	}
	if err := r.global.Set(name, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"params": r.global.Snapshot()})
}

func (r *Router) handleTickers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tickers": r.universe.Tickers()})
}

func (r *Router) handleTickerDetail(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("id")))
	if !r.universe.Contains(ticker) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instrument: " + ticker})
		return
	}
	c.JSON(http.StatusOK, r.resolver.Detail(ticker))
}

func (r *Router) handleSetOverride(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("id")))
	if !r.universe.Contains(ticker) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instrument: " + ticker})
		return
	}
	var overrides map[string]any
	if err := c.ShouldBindJSON(&overrides); err != nil || len(overrides) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a non-empty object of parameter overrides"})
		return
	}
	if err := r.resolver.SetUserOverride(ticker, overrides); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r.resolver.Detail(ticker))
}

func (r *Router) handleClearOverride(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("id")))
	if !r.universe.Contains(ticker) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instrument: " + ticker})
		return
	}
	key := strings.TrimSpace(c.Query("key"))
	if err := r.resolver.ClearUserOverride(ticker, key); err != nil {
		if errors.Is(err, params.ErrUnknownParameter) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r.resolver.Detail(ticker))
}

func (r *Router) handleRegime(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("vix"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter vix is required"})
		return
	}
	vix, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vix must be a number"})
		return
	}
	c.JSON(http.StatusOK, regime.Observe(vix, time.Now()))
}

func (r *Router) handleAuditCandidates(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := r.audit.RecentCandidates(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": rows})
}

func (r *Router) handleAuditExits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := r.audit.RecentExits(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exits": rows})
}
