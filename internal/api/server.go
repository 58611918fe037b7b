// Package api serves the read-mostly status API: devices, sessions, logs,
// live events and board LED control.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/camback/internal/api/models"
	"github.com/smazurov/camback/internal/events"
	"github.com/smazurov/camback/internal/led"
	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/internal/registry"
	"github.com/smazurov/camback/internal/session"
	"github.com/smazurov/camback/internal/version"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

const authRealm = `Basic realm="camback API"`

// DeviceSource lists live brokers.
type DeviceSource interface {
	Entries() []registry.Entry
}

// SessionSource lists bound frontend sessions.
type SessionSource interface {
	Sessions() []session.Info
}

// Options configures the API server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	EventBus          *events.Bus
	Devices           DeviceSource
	Sessions          SessionSource
	ListDevices       func() ([]v4l2.DeviceInfo, error) // defaults to v4l2.FindDevices
	PrometheusHandler http.Handler                      // mounted at GET /metrics when set
	LEDController     led.Controller
	LEDIndicator      IndicatorState
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// basicAuthMiddleware checks credentials from the Authorization header, or
// from a base64 "auth" query parameter for EventSource clients.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		if msg, err := checkCredentials(ctx.Header("Authorization"), ctx.Query("auth"), username, password); msg != "" {
			if err != nil {
				s.unauthorized(ctx, msg, err)
			} else {
				s.unauthorized(ctx, msg)
			}
			return
		}

		next(ctx)
	}
}

// checkCredentials returns an empty message when the header or query
// credentials match.
func checkCredentials(authHeader, queryAuth, username, password string) (string, error) {
	var credentials string
	if authHeader != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(authHeader, prefix) {
			return "Invalid authentication type", nil
		}
		decoded, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
		if err != nil {
			return "Invalid credentials format", err
		}
		credentials = string(decoded)
	} else if queryAuth != "" {
		decoded, err := base64.StdEncoding.DecodeString(queryAuth)
		if err != nil {
			return "Invalid credentials format", err
		}
		credentials = string(decoded)
	}

	if credentials == "" {
		return "Authentication required", nil
	}

	user, pass, ok := strings.Cut(credentials, ":")
	if !ok {
		return "Invalid credentials format", nil
	}
	if user != username || pass != password {
		return "Invalid credentials", nil
	}
	return "", nil
}

func (s *Server) unauthorized(ctx huma.Context, msg string, errs ...error) {
	ctx.SetHeader("WWW-Authenticate", authRealm)
	huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
}

// NewServer creates the API server with Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	if opts.ListDevices == nil {
		opts.ListDevices = v4l2.FindDevices
	}
	if opts.EventBus == nil {
		opts.EventBus = events.New()
	}

	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camback API", version.Version)
	config.Info.Description = "Status and control API for the paravirtualized camera backend"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Scrapers carry no credentials.
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	mux.Handle("GET /api/events/ws", server.authorize(http.HandlerFunc(server.serveEventSocket)))

	server.registerRoutes()
	return server
}

// GetMux returns the underlying ServeMux.
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: serverHeader(s.mux),
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func serverHeader(next http.Handler) http.Handler {
	ua := version.UserAgent()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", ua)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				BuildID:   info.BuildID,
				GoVersion: info.GoVersion,
				Compiler:  info.Compiler,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerDeviceRoutes()
	s.registerSessionRoutes()
	s.registerLogRoutes()
	s.registerSSERoutes()
	s.registerMetricsRoutes()
	s.registerLEDRoutes()
}

// authorize guards handlers mounted directly on the mux.
func (s *Server) authorize(next http.Handler) http.Handler {
	if s.options.AuthUsername == "" || s.options.AuthPassword == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg, _ := checkCredentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth"), s.options.AuthUsername, s.options.AuthPassword)
		if msg != "" {
			w.Header().Set("WWW-Authenticate", authRealm)
			http.Error(w, msg, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth returns the basic auth security requirement.
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
