// Package openapi is the daemon's admin API, served over a unix socket. The
// window manager and platform hooks post refresh rate and factor changes to
// it, and the CLI reads the registry dump from it.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/journeyos/godeye/godeye"
	godeyeapi "github.com/journeyos/godeye/openapi/godeye"
	"github.com/journeyos/godeye/openapi/response"
	vrrapi "github.com/journeyos/godeye/openapi/vrr"
	"github.com/journeyos/godeye/vrr"
	"github.com/yaoapp/kun/log"
)

// BaseURL prefixes every route.
const BaseURL = "/v1"

// Version is reported by the health endpoint; set by the cmd package.
var Version = "dev"

// Options are the services the API exposes.
type Options struct {
	Manager  *godeye.Manager
	Setter   vrr.RateSetter
	Window   *vrr.WindowState
	Services func() []string
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Listeners int      `json:"listeners"`
	Services  []string `json:"services,omitempty"`
}

// Server serves the admin API.
type Server struct {
	router *gin.Engine
	http   *http.Server
}

// New builds the router. Routes whose service is missing from opts answer
// 503.
func New(opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), accessLog)

	group := router.Group(BaseURL)
	group.GET("/health", health(opts))

	if opts.Manager != nil {
		godeyeapi.Attach(group, opts.Manager)
	}
	if opts.Setter != nil && opts.Window != nil {
		vrrapi.Attach(group, opts.Setter, opts.Window)
	}

	router.NoRoute(func(c *gin.Context) {
		response.RespondWithError(c, response.StatusNotFound, response.ErrNotFound)
	})

	return &Server{
		router: router,
		http:   &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve answers requests on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Listen opens the admin unix socket, replacing a stale one. The socket is
// only reachable by the daemon's user.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("admin socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale admin socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen admin socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod admin socket: %w", err)
	}
	return ln, nil
}

func health(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{Status: "ok", Version: Version}
		if opts.Manager != nil {
			resp.Listeners = opts.Manager.Len()
		}
		if opts.Services != nil {
			resp.Services = opts.Services()
		}
		response.RespondWithSuccess(c, response.StatusOK, resp)
	}
}

func accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	log.With(log.F{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"elapsed": time.Since(start).String(),
	}).Trace("admin request")
}
