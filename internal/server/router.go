package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/polybuild/internal/build"
	"github.com/loykin/polybuild/internal/deps"
	"github.com/loykin/polybuild/internal/metrics"
	"github.com/loykin/polybuild/internal/tool"
)

// Router provides embeddable HTTP handlers for inspecting the tool registry
// and dependency catalog and for building declared models.
// Endpoints:
//   GET  {basePath}/tools                 query: type=compiler|linker|archiver, probe=1
//   GET  {basePath}/tools/:type/:name
//   GET  {basePath}/compatible            query: type=...&language=...
//   GET  {basePath}/order                 query: deps=a,b,c
//   GET  {basePath}/models
//   GET  {basePath}/models/:name
//   POST {basePath}/models/:name/build
//   POST {basePath}/models/:name/cleanup
//   GET  {basePath}/metrics
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	registry *tool.Registry
	catalog  *deps.Catalog
	basePath string

	mu     sync.RWMutex
	models map[string]*build.Orchestrator
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/tools, /api/models, ...
func NewRouter(registry *tool.Registry, catalog *deps.Catalog, basePath string) *Router {
	if registry == nil {
		registry = tool.Default()
	}
	if catalog == nil {
		catalog, _ = deps.NewCatalog()
	}
	return &Router{
		registry: registry,
		catalog:  catalog,
		basePath: sanitizeBase(basePath),
		models:   make(map[string]*build.Orchestrator),
	}
}

// AddModel exposes o under its model name. A later model with the same name
// replaces the earlier one.
func (r *Router) AddModel(o *build.Orchestrator) {
	r.mu.Lock()
	r.models[o.Name()] = o
	r.mu.Unlock()
}

func (r *Router) model(name string) (*build.Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.models[name]
	return o, ok
}

// PIDs returns the running models' pids keyed by name, for the sampler.
func (r *Router) PIDs() map[string]int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int32)
	for name, o := range r.models {
		if pid := o.PID(); pid > 0 {
			out[name] = int32(pid)
		}
	}
	return out
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/tools", r.handleTools)
	group.GET("/tools/:type/:name", r.handleTool)
	group.GET("/compatible", r.handleCompatible)
	group.GET("/order", r.handleOrder)
	group.GET("/models", r.handleModels)
	group.GET("/models/:name", r.handleModel)
	group.POST("/models/:name/build", r.handleBuild)
	group.POST("/models/:name/run", r.handleRun)
	group.POST("/models/:name/cleanup", r.handleCleanup)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with the returned server's Shutdown or Close.
func NewServer(addr string, r *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// builds can outlast a plain request
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type toolView struct {
	Name       string          `json:"name"`
	Type       tool.Type       `json:"type"`
	Aliases    []string        `json:"aliases,omitempty"`
	Languages  []string        `json:"languages"`
	Platforms  []tool.Platform `json:"platforms,omitempty"`
	Executable string          `json:"executable"`
	Detected   bool            `json:"detected"`
}

func (r *Router) view(d *tool.Descriptor) toolView {
	return toolView{
		Name:       d.Name,
		Type:       d.Type,
		Aliases:    d.Aliases,
		Languages:  d.Languages,
		Platforms:  d.Platforms,
		Executable: d.Executable,
		Detected:   r.registry.Detected(d),
	}
}

func parseType(s string) (tool.Type, bool) {
	t := tool.Type(strings.ToLower(s))
	return t, slices.Contains(tool.Types, t)
}

func (r *Router) handleTools(c *gin.Context) {
	types := tool.Types
	if q := c.Query("type"); q != "" {
		t, ok := parseType(q)
		if !ok {
			fail(c, http.StatusBadRequest, "unknown tool type: "+q)
			return
		}
		types = []tool.Type{t}
	}
	if c.Query("probe") != "" {
		infos := r.registry.ProbeAll(c.Request.Context())
		infos = slices.DeleteFunc(infos, func(i tool.ToolInfo) bool { return !slices.Contains(types, i.Type) })
		writeJSON(c, http.StatusOK, infos)
		return
	}
	out := []toolView{}
	for _, t := range types {
		for _, d := range r.registry.All(t) {
			out = append(out, r.view(d))
		}
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleTool(c *gin.Context) {
	t, ok := parseType(c.Param("type"))
	if !ok {
		fail(c, http.StatusBadRequest, "unknown tool type: "+c.Param("type"))
		return
	}
	d, err := r.registry.Resolve(t, c.Param("name"))
	if err != nil {
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, r.view(d))
}

func (r *Router) handleCompatible(c *gin.Context) {
	t, ok := parseType(c.DefaultQuery("type", string(tool.Compiler)))
	if !ok {
		fail(c, http.StatusBadRequest, "unknown tool type: "+c.Query("type"))
		return
	}
	lang := c.Query("language")
	if lang == "" {
		fail(c, http.StatusBadRequest, "language required")
		return
	}
	d, err := r.registry.FindCompatible(t, lang)
	if err != nil {
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, r.view(d))
}

type orderResp struct {
	Order []string `json:"order"`
}

func (r *Router) handleOrder(c *gin.Context) {
	names := splitList(c.Query("deps"))
	if len(names) == 0 {
		fail(c, http.StatusBadRequest, "deps required")
		return
	}
	for _, n := range names {
		if !validName(n) {
			fail(c, http.StatusBadRequest, "invalid dependency name: "+n)
			return
		}
	}
	order, err := r.catalog.Order(names)
	if err != nil {
		var cycle *deps.CycleError
		if errors.As(err, &cycle) {
			fail(c, http.StatusConflict, err.Error())
			return
		}
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, orderResp{Order: order})
}

type modelStatus struct {
	Name     string   `json:"name"`
	Language string   `json:"language"`
	State    string   `json:"state"`
	Output   string   `json:"output,omitempty"`
	PID      int      `json:"pid,omitempty"`
	Products []string `json:"products,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func status(o *build.Orchestrator) modelStatus {
	return modelStatus{
		Name:     o.Name(),
		Language: o.Language(),
		State:    o.State().String(),
		Output:   o.Output(),
		PID:      o.PID(),
		Products: o.Products().Paths(),
	}
}

func (r *Router) handleModels(c *gin.Context) {
	r.mu.RLock()
	out := make([]modelStatus, 0, len(r.models))
	for _, o := range r.models {
		out = append(out, status(o))
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b modelStatus) int { return strings.Compare(a.Name, b.Name) })
	writeJSON(c, http.StatusOK, out)
}

// lookup resolves the :name parameter, writing the error response itself.
func (r *Router) lookup(c *gin.Context) (*build.Orchestrator, bool) {
	name := c.Param("name")
	if !validName(name) {
		fail(c, http.StatusBadRequest, "invalid model name: "+name)
		return nil, false
	}
	o, ok := r.model(name)
	if !ok {
		fail(c, http.StatusNotFound, "unknown model: "+name)
		return nil, false
	}
	return o, true
}

func (r *Router) handleModel(c *gin.Context) {
	if o, ok := r.lookup(c); ok {
		writeJSON(c, http.StatusOK, status(o))
	}
}

func (r *Router) handleBuild(c *gin.Context) {
	o, ok := r.lookup(c)
	if !ok {
		return
	}
	if _, err := o.Build(c.Request.Context()); err != nil {
		st := status(o)
		st.Error = err.Error()
		var te *build.TransitionError
		if errors.As(err, &te) {
			writeJSON(c, http.StatusConflict, st)
			return
		}
		writeJSON(c, http.StatusUnprocessableEntity, st)
		return
	}
	writeJSON(c, http.StatusOK, status(o))
}

type runReq struct {
	Args []string `json:"args"`
}

type runResp struct {
	modelStatus
	RunPID     int   `json:"run_pid"`
	ExitCode   int   `json:"exit_code"`
	Lines      int   `json:"lines"`
	Killed     bool  `json:"killed"`
	DurationMS int64 `json:"duration_ms"`
}

// handleRun builds the model when needed and runs it to completion. The
// request context bounds the run: a client disconnect kills the model.
func (r *Router) handleRun(c *gin.Context) {
	o, ok := r.lookup(c)
	if !ok {
		return
	}
	var req runReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}
	ctx := c.Request.Context()
	if o.State() != build.Built {
		if _, err := o.Build(ctx); err != nil {
			st := status(o)
			st.Error = err.Error()
			writeJSON(c, http.StatusUnprocessableEntity, st)
			return
		}
	}
	res, err := o.Run(ctx, req.Args...)
	if err != nil {
		code := http.StatusUnprocessableEntity
		if errors.Is(err, build.ErrRunning) {
			code = http.StatusConflict
		}
		st := status(o)
		st.Error = err.Error()
		writeJSON(c, code, st)
		return
	}
	out := runResp{
		modelStatus: status(o),
		RunPID:      res.PID,
		ExitCode:    res.ExitCode,
		Lines:       res.Lines,
		Killed:      res.Killed,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleCleanup(c *gin.Context) {
	o, ok := r.lookup(c)
	if !ok {
		return
	}
	if err := o.Cleanup(c.Request.Context()); err != nil {
		st := status(o)
		st.Error = err.Error()
		writeJSON(c, http.StatusConflict, st)
		return
	}
	writeJSON(c, http.StatusOK, status(o))
}
