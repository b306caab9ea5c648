package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	wsadapter "rewardkit/adapters/websocket"
	"rewardkit/analytics"
	"rewardkit/core"
	"rewardkit/engine"
	"rewardkit/realtime"
	"rewardkit/ruleset"
)

const (
	// maxBodyBytes caps request bodies for event and rule uploads.
	maxBodyBytes            = 1 << 20
	defaultRateLimitCleanup = 5 * time.Minute
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup is how often idle client buckets are dropped.
	RateLimitCleanup time.Duration
	// Metrics, if set, backs the /analytics routes.
	Metrics *analytics.Metrics
	// Logger receives one line per request; nil disables request logging.
	Logger *slog.Logger
}

type api struct {
	svc     *engine.Service
	metrics *analytics.Metrics
}

// NewMux builds an http.Handler exposing the rewards REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/events                     ingest and evaluate an event
//   - POST {prefix}/events/simulate            dry-run an event
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/users/{id}/events?limit=&offset=
//   - GET  {prefix}/users/{id}/history?limit=&offset=
//   - GET  {prefix}/users/{id}/wallets/{category}
//   - GET  {prefix}/users/{id}/wallets/{category}/transactions?limit=&offset=
//   - GET  {prefix}/transfers/{id}
//   - GET  {prefix}/rules, POST {prefix}/rules, PUT {prefix}/ruleset
//   - GET  {prefix}/categories
//   - GET  {prefix}/analytics/summary, GET {prefix}/analytics/dau?day=YYYY-MM-DD
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws?user=&types=
func NewMux(svc *engine.Service, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{svc: svc, metrics: opts.Metrics}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", a.healthCheck)
	route(http.MethodPost, "/events", a.ingest)
	route(http.MethodPost, "/events/simulate", a.simulate)
	route(http.MethodGet, "/users/{id}", a.getUser)
	route(http.MethodGet, "/users/{id}/events", a.listEvents)
	route(http.MethodGet, "/users/{id}/history", a.listHistory)
	route(http.MethodGet, "/users/{id}/wallets/{category}", a.getWallet)
	route(http.MethodGet, "/users/{id}/wallets/{category}/transactions", a.listTransactions)
	route(http.MethodGet, "/transfers/{id}", a.getTransfer)
	route(http.MethodGet, "/rules", a.listRules)
	route(http.MethodPost, "/rules", a.saveRule)
	route(http.MethodPut, "/ruleset", a.loadRuleSet)
	route(http.MethodGet, "/categories", a.listCategories)
	if a.metrics != nil {
		route(http.MethodGet, "/analytics/summary", a.analyticsSummary)
		route(http.MethodGet, "/analytics/dau", a.analyticsDAU)
	}

	// WebSocket events
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		limiter := newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup)
		handler = withRateLimit(handler, limiter, opts.APIKeys)
	}
	if opts.Logger != nil {
		handler = withRequestLog(handler, opts.Logger)
	}
	return handler
}

// eventRequest is the wire form of an incoming event.
type eventRequest struct {
	ID         core.EventID   `json:"id"`
	Type       core.EventType `json:"type"`
	UserID     core.UserID    `json:"user_id"`
	OccurredAt *time.Time     `json:"occurred_at"`
	Attributes map[string]any `json:"attributes"`
}

func decodeEvent(r *http.Request) (core.Event, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	var req eventRequest
	if err := dec.Decode(&req); err != nil {
		return core.Event{}, err
	}
	ev := core.Event{ID: req.ID, Type: req.Type, UserID: req.UserID, Attributes: req.Attributes}
	if req.OccurredAt != nil {
		ev.OccurredAt = req.OccurredAt.UTC()
	}
	return ev, nil
}

func (a *api) ingest(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	res, err := a.svc.Ingest(r.Context(), ev)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) simulate(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	res, err := a.svc.Simulate(r.Context(), ev)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) getUser(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.GetState(r.Context(), core.UserID(r.PathValue("id")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, st)
}

func (a *api) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	evs, err := a.svc.ListEvents(r.Context(), core.UserID(r.PathValue("id")), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"events": nonNil(evs)})
}

func (a *api) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	hs, err := a.svc.ListHistory(r.Context(), core.UserID(r.PathValue("id")), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"history": nonNil(hs)})
}

func (a *api) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := a.svc.GetWallet(r.Context(), core.UserID(r.PathValue("id")), core.CategoryID(r.PathValue("category")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, wallet)
}

func (a *api) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	txs, err := a.svc.ListTransactions(r.Context(), core.UserID(r.PathValue("id")), core.CategoryID(r.PathValue("category")), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"transactions": nonNil(txs)})
}

func (a *api) getTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := a.svc.GetTransfer(r.Context(), core.TransferID(r.PathValue("id")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, t)
}

func (a *api) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.svc.ListRules(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	docs := make([]ruleset.RuleDoc, 0, len(rules))
	for _, rule := range rules {
		docs = append(docs, ruleset.RuleToDoc(rule))
	}
	writeJSON(w, map[string]any{"rules": docs})
}

func (a *api) saveRule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	rule, err := ruleset.UnmarshalRule(body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := a.svc.SaveRule(r.Context(), rule); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"id": rule.ID})
}

// loadRuleSet replaces nothing: it upserts every category and rule in the
// uploaded document. YAML is accepted with a yaml Content-Type.
func (a *api) loadRuleSet(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	format := ruleset.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = ruleset.FormatYAML
	}
	rs, err := ruleset.Parse(body, format, nil)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := a.svc.LoadRuleSet(r.Context(), rs); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"categories": len(rs.Categories), "rules": len(rs.Rules)})
}

func (a *api) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := a.svc.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"categories": nonNil(cats)})
}

func (a *api) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	writeJSON(w, a.metrics.Summary(limit))
}

func (a *api) analyticsDAU(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day", "day must be YYYY-MM-DD", nil)
		return
	}
	writeJSON(w, map[string]any{"day": day, "active_users": a.metrics.DailyActiveUsers(day)})
}

// Helpers

// healthCheck verifies storage answers a read.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	_, err := a.svc.ListCategories(r.Context())

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	}
	writeJSON(w, status)
}

func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	limit, offset := 50, 0
	for name, dst := range map[string]*int{"limit": &limit, "offset": &offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer", nil)
			return 0, 0, false
		}
		*dst = n
	}
	return limit, offset, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// writeServiceError maps engine and storage errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *ruleset.ValidationError
	var eerr *engine.EvaluationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_rule", verr.Error(), verr.Problems)
	case errors.Is(err, core.ErrInvalidRule), errors.Is(err, core.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error(), nil)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &eerr):
		writeError(w, http.StatusInternalServerError, "evaluation_failed", err.Error(),
			map[string]any{"stage": eerr.Stage, "rule_id": eerr.RuleID, "event_id": eerr.EventID})
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter keeps one token bucket per client key. Buckets that have
// refilled completely are swept every cleanup interval; dropping them loses
// no state since a new bucket starts full.
type rateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
	cleanup   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(rpm, burst int, cleanup time.Duration) *rateLimiter {
	if cleanup <= 0 {
		cleanup = defaultRateLimitCleanup
	}
	return &rateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Every(time.Minute / time.Duration(rpm)),
		burst:     burst,
		cleanup:   cleanup,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.cleanup {
		l.sweep(now)
	}
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim.AllowN(now, 1)
}

func (l *rateLimiter) sweep(now time.Time) {
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// withRateLimit applies a token-bucket limiter per client. Only configured
// API keys get their own bucket; anything else is limited by remote address.
func withRateLimit(next http.Handler, limiter *rateLimiter, apiKeys []string) http.Handler {
	known := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		known[k] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientKey(r, known)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for /ws.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func withRequestLog(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request, known map[string]struct{}) string {
	if key := extractAPIKey(r); key != "" {
		if _, ok := known[key]; ok {
			return "key:" + key
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
