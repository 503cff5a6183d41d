package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/hutchstack/hutch/pkg/events"
	"github.com/hutchstack/hutch/pkg/log"
	"github.com/hutchstack/hutch/pkg/metrics"
	"github.com/hutchstack/hutch/pkg/storage"
)

// Proxy is the HTTP reverse proxy in front of the router
type Proxy struct {
	store      storage.Store
	router     *Router
	lc         *LeastConnections // Set when the balancer is least-connections
	httpServer *http.Server
	addr       string
}

// NewProxy creates an ingress proxy serving on addr. Routes are loaded
// from the store; call WatchRoutes to keep them current.
func NewProxy(store storage.Store, router *Router, addr string) *Proxy {
	p := &Proxy{
		store:  store,
		router: router,
		addr:   addr,
	}
	if lc, ok := router.balancer.(*LeastConnections); ok {
		p.lc = lc
	}
	return p
}

// ReloadRoutes reloads the routing rules from storage
func (p *Proxy) ReloadRoutes() error {
	routes, err := p.store.ListRoutes()
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}

	p.router.SetRoutes(routes)
	logger := log.WithComponent("proxy")
	logger.Info().Int("routes", len(routes)).Msg("reloaded routing rules")
	return nil
}

// WatchRoutes reloads the rule set whenever a route event arrives
func (p *Proxy) WatchRoutes(ctx context.Context, sub events.Subscriber) {
	logger := log.WithComponent("proxy")
	for {
		select {
		case ev := <-sub:
			switch ev.Type {
			case events.EventRouteApplied, events.EventRouteDeleted,
				events.EventEndpointApplied, events.EventEndpointDeleted:
				if err := p.ReloadRoutes(); err != nil {
					logger.Error().Err(err).Msg("route reload failed")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Start serves HTTP until the context is cancelled
func (p *Proxy) Start(ctx context.Context) error {
	if err := p.ReloadRoutes(); err != nil {
		return err
	}

	p.httpServer = &http.Server{
		Addr:         p.addr,
		Handler:      http.HandlerFunc(p.handleRequest),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.addr, err)
	}

	logger := log.WithComponent("proxy")
	logger.Info().Str("addr", p.addr).Msg("ingress proxy listening")

	errCh := make(chan error, 1)
	go func() {
		if err := p.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down ingress proxy")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.httpServer.Shutdown(shutdownCtx)
}

// handleRequest routes and proxies a single request. Routing failures map
// to structured HTTP errors; they never crash the proxy.
func (p *Proxy) handleRequest(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RouterRequestDuration)

	target, err := p.router.Route(r.Host, r.URL.Path)
	switch {
	case errors.Is(err, ErrNoMatch):
		metrics.RouterRequestsTotal.WithLabelValues(metrics.OutcomeNoMatch).Inc()
		http.Error(w, "no route for request", http.StatusNotFound)
		return
	case errors.Is(err, ErrNoHealthyBackend):
		metrics.RouterRequestsTotal.WithLabelValues(metrics.OutcomeNoHealthyBackend).Inc()
		http.Error(w, "no healthy backend", http.StatusServiceUnavailable)
		return
	case err != nil:
		metrics.RouterRequestsTotal.WithLabelValues(metrics.OutcomeUpstreamError).Inc()
		http.Error(w, "routing failure", http.StatusInternalServerError)
		return
	}

	if p.lc != nil {
		p.lc.Acquire(target.Address)
		defer p.lc.Release(target.Address)
	}

	metrics.RouterRequestsTotal.WithLabelValues(metrics.OutcomeProxied).Inc()
	p.proxyRequest(w, r, target.Address)
}

// proxyRequest forwards the request to the backend
func (p *Proxy) proxyRequest(w http.ResponseWriter, r *http.Request, backendAddr string) {
	targetURL, err := url.Parse(fmt.Sprintf("http://%s", backendAddr))
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(targetURL)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		// Preserve original Host header for virtual hosting
		req.Host = r.Host
		req.Header.Set("X-Forwarded-For", r.RemoteAddr)
		req.Header.Set("X-Forwarded-Proto", "http")
		req.Header.Set("X-Forwarded-Host", r.Host)
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.RouterRequestsTotal.WithLabelValues(metrics.OutcomeUpstreamError).Inc()
		logger := log.WithComponent("proxy")
		logger.Error().Err(err).Str("backend", backendAddr).Msg("upstream error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	proxy.ServeHTTP(w, r)
}
