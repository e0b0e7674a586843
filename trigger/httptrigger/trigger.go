// Package httptrigger serves HTTP requests with components. Components that
// export wasi:http/incoming-handler receive the request through the handler.
// Everything else runs under the WAGI execution model: the request becomes a
// CGI environment and stdin, and the component writes a CGI response to
// stdout.
package httptrigger

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/spin-shim/errors"
	"github.com/wippyai/spin-shim/trigger"
)

// HealthPath always answers 200 without running a component.
const HealthPath = "/.well-known/spin/health"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second

	// maxBodySize bounds request bodies buffered for stdin.
	maxBodySize = 32 << 20
)

// Trigger is the HTTP trigger.
type Trigger struct {
	listen func(network, addr string) (net.Listener, error)
}

// New returns the HTTP trigger.
func New() *Trigger {
	return &Trigger{listen: net.Listen}
}

// Type implements trigger.Trigger.
func (t *Trigger) Type() string { return trigger.TypeHTTP }

// Start builds the router, prepares every routed component and binds the
// listen address. Bind failures are start errors.
func (t *Trigger) Start(ctx context.Context, rc *trigger.RunContext) (trigger.Task, error) {
	log := rc.TriggerLogger(trigger.TypeHTTP)

	router, err := NewRouter(rc.App, trigger.TypeHTTP)
	if err != nil {
		return nil, err
	}
	for _, r := range router.Routes() {
		if err := rc.Components.Prepare(ctx, r.Component); err != nil {
			return nil, err
		}
	}

	ln, err := t.listen("tcp", rc.Config.HTTPListenAddr)
	if err != nil {
		return nil, errors.New(errors.PhaseLaunch, errors.KindIO).
			Trigger(trigger.TypeHTTP).Detail("listen on %s", rc.Config.HTTPListenAddr).Cause(err).Build()
	}

	for _, r := range router.Routes() {
		log.Info("serving route", zap.String("route", r.Pattern), zap.String("component", r.Component))
	}
	log.Info("http trigger listening", zap.String("addr", ln.Addr().String()))

	handler := &Handler{router: router, components: rc.Components, logger: log}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(log),
	}

	return func(ctx context.Context) error {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()

		select {
		case err := <-errCh:
			if stderrors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("http shutdown", zap.Error(err))
				srv.Close()
			}
			<-errCh
			return ctx.Err()
		}
	}, nil
}

// Handler routes requests to components.
type Handler struct {
	router     *Router
	components *trigger.ComponentLoader
	logger     *zap.Logger
}

// NewHandler returns a handler serving router's routes with components.
func NewHandler(router *Router, components *trigger.ComponentLoader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{router: router, components: components, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == HealthPath {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "OK")
		return
	}

	m, ok := h.router.Route(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	log := h.logger.With(
		zap.String("component", m.Route.Component),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path))

	handler, err := h.usesHandler(r.Context(), m.Route)
	if err != nil {
		log.Error("component failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if handler {
		h.serveComponent(w, r, m, body, log)
		return
	}
	h.serveWagi(w, r, m, body, log)
}

// usesHandler reports whether route is served through
// wasi:http/incoming-handler rather than WAGI.
func (h *Handler) usesHandler(ctx context.Context, route *Route) (bool, error) {
	switch route.Executor.Type {
	case ExecutorWagi:
		return false, nil
	case ExecutorSpin:
		return true, nil
	}
	return h.components.HandlesHTTP(ctx, route.Component)
}

func (h *Handler) serveComponent(w http.ResponseWriter, r *http.Request, m Match, body []byte, log *zap.Logger) {
	resp, err := h.components.ServeHTTP(r.Context(), trigger.Call{Component: m.Route.Component}, r, body)
	if err != nil {
		log.Error("component failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeResponse(w, resp.Status, resp.Header, resp.Body)
	log.Debug("request served", zap.Int("status", resp.Status), zap.Int("bytes", len(resp.Body)))
}

func (h *Handler) serveWagi(w http.ResponseWriter, r *http.Request, m Match, body []byte, log *zap.Logger) {
	var stdout bytes.Buffer
	err := h.components.Run(r.Context(), trigger.Call{
		Component: m.Route.Component,
		Args:      cgiArgs(m.Route.Executor, r, m.Route.Prefix),
		Env:       cgiEnv(r, m, h.router.Base(), len(body)),
		Stdin:     bytes.NewReader(body),
		Stdout:    &stdout,
	})
	if err != nil {
		log.Error("component failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp, err := parseCGIResponse(stdout.Bytes())
	if err != nil {
		log.Error("invalid component response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeResponse(w, resp.status, resp.header, resp.body)
	log.Debug("request served", zap.Int("status", resp.status), zap.Int("bytes", len(resp.body)))
}

func writeResponse(w http.ResponseWriter, status int, header http.Header, body []byte) {
	if status == 0 {
		status = http.StatusOK
	}
	for k, vs := range header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(status)
	w.Write(body)
}
