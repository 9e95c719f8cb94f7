package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/supplyline/supplyline/internal/platform/httpx"
	"github.com/supplyline/supplyline/internal/session"
)

var errUpstreamUnauthorized = errors.New("console: upstream rejected token")

type proxyContextKey struct{}

type proxyCall struct {
	resource string
	token    string
}

// Proxy forwards /api/{resource} calls to the backend after checking the
// caller's role against RouteRules. An upstream 401 ends the session.
type Proxy struct {
	store    *session.Store
	rules    RouteRules
	recorder Recorder
	logger   *slog.Logger
	reverse  *httputil.ReverseProxy
}

// NewProxy builds a Proxy targeting baseURL.
func NewProxy(baseURL string, store *session.Store, rules RouteRules, recorder Recorder, logger *slog.Logger) (*Proxy, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("console: parse api base url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("console: api base url %q must be absolute", baseURL)
	}
	if rules == nil {
		rules = DefaultRouteRules()
	}
	p := &Proxy{
		store:    store,
		rules:    rules,
		recorder: recorderOrNop(recorder),
		logger:   loggerOrDefault(logger),
	}
	p.reverse = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, "/api")
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			if call, ok := pr.In.Context().Value(proxyContextKey{}).(proxyCall); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+call.token)
			}
		},
		ModifyResponse: p.inspect,
		ErrorHandler:   p.errorHandler,
	}
	return p, nil
}

// MountRoutes registers the guarded /api routes on r.
func (p *Proxy) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Guard(p.store, p.recorder, p.logger))
		r.HandleFunc("/api/{resource}", p.serve)
		r.HandleFunc("/api/{resource}/*", p.serve)
	})
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	rule, ok := p.rules.Lookup(resource, r.Method)
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown resource "+resource)
		return
	}
	snap, _ := session.FromContext(r.Context())
	role, _ := snap.Role()
	if !rule.Allows(role) {
		p.recorder.ObserveDenied("permission")
		p.logger.Debug("proxy denied",
			slog.String("role", role.String()),
			slog.String("resource", resource),
			slog.String("method", r.Method),
		)
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
		return
	}
	ctx := context.WithValue(r.Context(), proxyContextKey{}, proxyCall{resource: resource, token: snap.Token})
	p.reverse.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) inspect(resp *http.Response) error {
	call, _ := resp.Request.Context().Value(proxyContextKey{}).(proxyCall)
	p.recorder.ObserveUpstream(call.resource, resp.StatusCode)
	if resp.StatusCode == http.StatusUnauthorized {
		return errUpstreamUnauthorized
	}
	return nil
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	call, _ := r.Context().Value(proxyContextKey{}).(proxyCall)
	if errors.Is(err, errUpstreamUnauthorized) {
		if _, logoutErr := p.store.ForceLogout(r.Context(), call.token); logoutErr != nil {
			p.logger.Error("forced logout", slog.Any("error", logoutErr))
		}
		httpx.LoginRequired(w, LoginPath, "session expired")
		return
	}
	p.logger.Error("proxy error",
		slog.String("resource", call.resource),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "upstream service unavailable")
}
