// Package admin serves a small HTTP API for inspecting and driving a running
// host: loaded modules, capability entries, hot reload, unload and metrics.
//
// Routes:
//
//	GET    /modules
//	GET    /capabilities/{namespace}
//	GET    /capabilities/{namespace}/{key}
//	POST   /modules/{name}/reload
//	DELETE /modules/{name}
//	GET    /metrics
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/GoCodeAlone/modubot"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultShutdownTimeout bounds graceful shutdown of the admin server.
const DefaultShutdownTimeout = 5 * time.Second

// Host is the part of the module host the admin API uses.
type Host interface {
	ListModules() []string
	Module(name string) (modubot.ModuleRecord, bool)
	Capabilities() *modubot.CapabilityRegistry
	Commands() *modubot.CommandTable
	ReloadModule(ctx context.Context, name string) error
	UnloadModule(ctx context.Context, name string) error
	Logger() modubot.Logger
}

// ModuleInfo describes a loaded module.
type ModuleInfo struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	LoadedAt     time.Time `json:"loadedAt"`
	Commands     []string  `json:"commands"`
	Capabilities []string  `json:"capabilities"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Module string `json:"module,omitempty"`
	Phase  string `json:"phase,omitempty"`
}

type handler struct {
	host   Host
	logger modubot.Logger
}

// NewRouter builds the admin routes for host.
func NewRouter(host Host) chi.Router {
	h := &handler{host: host, logger: host.Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/modules", h.listModules)
	r.Post("/modules/{name}/reload", h.reloadModule)
	r.Delete("/modules/{name}", h.unloadModule)
	r.Get("/capabilities/{namespace}", h.getNamespace)
	r.Get("/capabilities/{namespace}/{key}", h.getCapability)
	r.Handle("/metrics", MetricsHandler(host.Capabilities()))
	return r
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("Admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()))
	})
}

func (h *handler) listModules(w http.ResponseWriter, _ *http.Request) {
	names := h.host.ListModules()
	out := make([]ModuleInfo, 0, len(names))
	for _, name := range names {
		record, ok := h.host.Module(name)
		if !ok {
			continue
		}
		info := ModuleInfo{
			Name:         name,
			Type:         fmt.Sprintf("%T", record.Module),
			LoadedAt:     record.LoadedAt,
			Commands:     h.host.Commands().OwnedBy(name),
			Capabilities: []string{},
		}
		if info.Commands == nil {
			info.Commands = []string{}
		}
		for _, key := range h.host.Capabilities().OwnedBy(name) {
			info.Capabilities = append(info.Capabilities, key.Namespace+"."+key.Key)
		}
		out = append(out, info)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) getNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	entries := h.host.Capabilities().Namespace(namespace)
	if len(entries) == 0 {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown capability namespace " + namespace})
		return
	}

	out := make(map[string]any, len(entries))
	for key, value := range entries {
		out[key] = renderValue(value)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) getCapability(w http.ResponseWriter, r *http.Request) {
	namespace, key := chi.URLParam(r, "namespace"), chi.URLParam(r, "key")
	value, ok := h.host.Capabilities().Lookup(namespace, key)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("unknown capability %s.%s", namespace, key)})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"namespace": namespace,
		"key":       key,
		"value":     renderValue(value),
	})
}

func (h *handler) reloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.host.ReloadModule(r.Context(), name); err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("Reloaded module via admin API", "module", name)
	h.writeJSON(w, http.StatusOK, map[string]any{"reloaded": name, "modules": h.host.ListModules()})
}

func (h *handler) unloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	before := h.host.ListModules()
	if err := h.host.UnloadModule(r.Context(), name); err != nil {
		if !slices.Contains(before, name) {
			h.writeError(w, err)
			return
		}
		// The module is gone; only its Uninit reported a problem.
		h.logger.Warn("Module unloaded with errors", "module", name, "error", err)
	}

	after := h.host.ListModules()
	var unloaded []string
	for _, n := range before {
		if !slices.Contains(after, n) {
			unloaded = append(unloaded, n)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"unloaded": unloaded, "modules": after})
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, modubot.ErrModuleNotLoaded) || errors.Is(err, modubot.ErrModuleNotFound) {
		status = http.StatusNotFound
	}

	body := ErrorResponse{Error: err.Error()}
	var phaseErr *modubot.PhaseError
	if errors.As(err, &phaseErr) {
		body.Module = phaseErr.Module
		body.Phase = string(phaseErr.Phase)
	}
	h.writeJSON(w, status, body)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode admin response", "error", err)
	}
}

// renderValue keeps scalars and describes everything else by type.
func renderValue(value any) any {
	switch v := value.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Server runs the admin router on an address.
type Server struct {
	server          *http.Server
	logger          modubot.Logger
	shutdownTimeout time.Duration
}

// NewServer creates an admin server for host listening on addr.
func NewServer(addr string, host Host) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(host),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:          host.Logger(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Admin server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("Stopping admin server", "timeout", s.shutdownTimeout)
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return <-errCh
}
