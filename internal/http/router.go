package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/service/auth"
	"github.com/hmellak/aistudio/internal/service/project"
	"github.com/hmellak/aistudio/internal/service/run"
	"github.com/hmellak/aistudio/internal/service/usage"
	"github.com/hmellak/aistudio/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	auth        auth.Service
	projects    project.Service
	runs        run.Service
	usage       usage.Service
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	runnerToken string
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateWindowRealtime   = 30 * time.Second
	rateLimitSignup      = 5
	rateLimitLogin       = 12
	rateLimitUserWrite   = 60
	rateLimitUserRead    = 120
	rateLimitWebsocket   = 30
	rateLimitRunnerWrite = 600
	healthCheckTimeout   = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, projectSvc project.Service, runSvc run.Service, usageSvc usage.Service, hub *ws.Hub, limiter RateLimiter, runnerToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		projects: projectSvc,
		runs:     runSvc,
		usage:    usageSvc,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		runnerToken: strings.TrimSpace(runnerToken),
		dbHealth:    dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit(r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/projects", r.audit(r.handlerAuthRate("/api/projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/api/projects/", r.audit(r.handlerAuthRate("/api/projects/{id}", rateLimitUserWrite, rateWindowDefault, r.handleProjectByID)))
	r.mux.HandleFunc("/api/agent-runs", r.audit(r.handlerAuthRate("/api/agent-runs", rateLimitUserWrite, rateWindowDefault, r.handleRuns)))
	r.mux.HandleFunc("/api/agent-runs/", r.audit(r.handleRunByID))
	r.mux.HandleFunc("/api/usage-logs", r.audit(r.handlerAuthRate("/api/usage-logs", rateLimitUserWrite, rateWindowDefault, r.handleUsageLogs)))
	r.mux.HandleFunc("/api/account", r.audit(r.handlerAuthRate("/api/account", rateLimitUserWrite, rateWindowDefault, r.handleAccount)))
	r.mux.HandleFunc("/ws/runs", r.audit(r.handlerAuthRate("/ws/runs", rateLimitWebsocket, rateWindowRealtime, r.handleRunsWS)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Name, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   marshalUser(user),
		"tokens": marshalTokens(tokens),
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		r.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   marshalUser(user),
		"tokens": marshalTokens(tokens),
	})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for projects route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Status      string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		proj, err := r.projects.Create(req.Context(), info.UserID, project.CreateInput{
			Name:        payload.Name,
			Description: payload.Description,
			Status:      payload.Status,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, marshalProject(*proj))
	case http.MethodGet:
		limit, cursor, err := parseListQuery(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		projects, next, err := r.projects.List(req.Context(), info.UserID, limit, cursor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(projects))
		for _, p := range projects {
			items = append(items, marshalProject(p))
		}
		writeList(w, items, next)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectByID(w http.ResponseWriter, req *http.Request) {
	projectID := strings.TrimPrefix(req.URL.Path, "/api/projects/")
	if projectID == "" || strings.Contains(projectID, "/") {
		r.notFound(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for project route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		proj, err := r.projects.Get(req.Context(), info.UserID, projectID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, marshalProject(*proj))
	case http.MethodPatch, http.MethodPut:
		var payload struct {
			Name        *string `json:"name"`
			Description *string `json:"description"`
			Status      *string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		proj, err := r.projects.Update(req.Context(), info.UserID, projectID, project.UpdateInput{
			Name:        payload.Name,
			Description: payload.Description,
			Status:      payload.Status,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, marshalProject(*proj))
	case http.MethodDelete:
		if err := r.projects.Delete(req.Context(), info.UserID, projectID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRuns(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for agent runs route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			ProjectID string          `json:"project_id"`
			AgentType string          `json:"agent_type"`
			Input     json.RawMessage `json:"input_data"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.runs.Create(req.Context(), info.UserID, run.CreateInput{
			ProjectID: payload.ProjectID,
			AgentType: payload.AgentType,
			Input:     payload.Input,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, marshalRun(*created))
	case http.MethodGet:
		limit, cursor, err := parseListQuery(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter := domain.RunFilter{
			ProjectID: strings.TrimSpace(req.URL.Query().Get("project_id")),
			Status:    domain.RunStatus(strings.TrimSpace(req.URL.Query().Get("status"))),
		}
		runs, next, err := r.runs.List(req.Context(), info.UserID, filter, limit, cursor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(runs))
		for _, item := range runs {
			items = append(items, marshalRun(item))
		}
		writeList(w, items, next)
	default:
		r.methodNotAllowed(w)
	}
}

// handleRunByID mixes two principals: tenants read their runs, the
// execution runner reports transitions with its shared token. The runner
// is a trusted internal component with cross-tenant authority; the
// user_id in its callback payload is not an authentication claim but the
// tenant scope it was handed at dispatch, echoed back so the transition
// runs under that tenant's row visibility. A wrong or fabricated user_id
// cannot expose foreign rows: the bound scope just fails to find the run
// and the callback gets NotFound.
func (r *Router) handleRunByID(w http.ResponseWriter, req *http.Request) {
	runID := strings.TrimPrefix(req.URL.Path, "/api/agent-runs/")
	if runID == "" || strings.Contains(runID, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		ctx, info, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		req = req.WithContext(ctx)
		decision := r.limiter.Allow("user:"+info.UserID, rateLimitUserRead, rateWindowDefault)
		r.applyRateHeaders(w, rateLimitUserRead, decision)
		if !decision.allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		item, err := r.runs.Get(req.Context(), info.UserID, runID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, marshalRun(*item))
	case http.MethodPatch:
		if !r.verifyRunnerToken(w, req) {
			return
		}
		decision := r.limiter.Allow("runner:"+runID, rateLimitRunnerWrite, rateWindowDefault)
		r.applyRateHeaders(w, rateLimitRunnerWrite, decision)
		if !decision.allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		var payload struct {
			UserID       string          `json:"user_id"`
			Status       string          `json:"status"`
			Output       json.RawMessage `json:"output_data"`
			ErrorMessage string          `json:"error_message"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		item, err := r.runs.ApplyTransition(req.Context(), run.TransitionInput{
			RunID:        runID,
			UserID:       payload.UserID,
			Status:       payload.Status,
			Output:       payload.Output,
			ErrorMessage: payload.ErrorMessage,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, marshalRun(*item))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUsageLogs(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for usage logs route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Action  string          `json:"action"`
			Details json.RawMessage `json:"details"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		entry, err := r.usage.Append(req.Context(), info.UserID, payload.Action, payload.Details)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, marshalUsageLog(*entry))
	case http.MethodGet:
		limit, cursor, err := parseListQuery(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entries, next, err := r.usage.List(req.Context(), info.UserID, limit, cursor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			items = append(items, marshalUsageLog(entry))
		}
		writeList(w, items, next)
	default:
		r.methodNotAllowed(w)
	}
}

// handleAccount lets a tenant delete their own account. The database
// cascades the removal through projects, agent runs, and usage logs.
func (r *Router) handleAccount(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for account route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if err := r.auth.DeleteAccount(req.Context(), info.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleRunsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for runs websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	// subscribing to a foreign project would leak status events, so the
	// project must resolve inside the tenant's scope first.
	if _, err := r.projects.Get(req.Context(), info.UserID, projectID); err != nil {
		writeDomainError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if req.Method == http.MethodPatch && strings.HasPrefix(req.URL.Path, "/api/agent-runs/") {
			actor = "runner"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyRunnerToken ensures execution runner callbacks include the configured secret.
func (r *Router) verifyRunnerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.runnerToken
	if expected == "" {
		r.logger.Error("runner token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "runner authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Runner-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("runner token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid runner token")
		return false
	}
	return true
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/projects/"):
		return "/api/projects/{id}"
	case strings.HasPrefix(path, "/api/agent-runs/"):
		return "/api/agent-runs/{id}"
	default:
		return path
	}
}

func parseListQuery(req *http.Request) (int, domain.Cursor, error) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	cursor, err := decodeCursor(req.URL.Query().Get("cursor"))
	if err != nil {
		return 0, domain.Cursor{}, err
	}
	return limit, cursor, nil
}

// writeList wraps a page of items with the continuation cursor. A null
// next_cursor means the listing is exhausted.
func writeList(w http.ResponseWriter, items []map[string]any, next domain.Cursor) {
	payload := map[string]any{"items": items, "next_cursor": nil}
	if !next.Zero() {
		payload["next_cursor"] = encodeCursor(next)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
