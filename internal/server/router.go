package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkwon/svcup/internal/metrics"
	"github.com/dkwon/svcup/internal/supervisor"
)

// Router exposes the supervisor over HTTP for the configured set of
// services. Endpoints:
//
//	GET  {basePath}/healthz
//	GET  {basePath}/status       query: name=... (optional; all when empty)
//	POST {basePath}/start        query: name=... (optional; ordered start-all)
//	POST {basePath}/stop         query: name=... (optional; best-effort stop-all)
//	GET  {basePath}/metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	entries  []supervisor.Entry
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, entries []supervisor.Entry, basePath string) *Router {
	return &Router{sup: sup, entries: entries, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Callers shut it down via the returned http.Server.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, entries []supervisor.Entry) *http.Server {
	r := NewRouter(sup, entries, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) lookup(name string) (supervisor.Entry, bool) {
	for _, e := range r.entries {
		if e.Name == name {
			return e, true
		}
	}
	return supervisor.Entry{}, false
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "services": len(r.entries)})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.sup.StatusAll(r.entries))
		return
	}
	e, ok := r.lookup(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	writeJSON(c, http.StatusOK, r.sup.Status(e))
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		sum := r.sup.StartAll(r.entries)
		writeJSON(c, statusFor(sum.Failed == 0), sum)
		return
	}
	e, ok := r.lookup(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	res := r.sup.Start(e)
	writeJSON(c, statusFor(!res.Outcome.Failed()), res)
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		sum := r.sup.StopAll(r.entries)
		writeJSON(c, statusFor(sum.Failed == 0), sum)
		return
	}
	e, ok := r.lookup(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	res := r.sup.Stop(e)
	writeJSON(c, statusFor(!res.Outcome.Failed()), res)
}

func statusFor(ok bool) int {
	if ok {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}
