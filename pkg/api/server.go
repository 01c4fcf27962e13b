// Package api is the pipeline's HTTP surface: the ingest front door plus
// the subscription, schema, and event-log APIs. One echo.Echo, routes
// registered in a single setupRoutes, and a thin Server wrapping an
// *http.Server for Start/Shutdown.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/langhookd/langhookd/pkg/config"
	"github.com/langhookd/langhookd/pkg/database"
	"github.com/langhookd/langhookd/pkg/ingest"
	"github.com/langhookd/langhookd/pkg/llm"
	"github.com/langhookd/langhookd/pkg/matcher"
	"github.com/langhookd/langhookd/pkg/metrics"
	"github.com/langhookd/langhookd/pkg/store"
	"github.com/langhookd/langhookd/pkg/version"
)

// Server wires every HTTP-facing component behind one echo.Echo instance.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg       *config.Config
	store     *store.Store
	llmBroker *llm.Broker
	registry  *matcher.Registry
	ingest    *ingest.Handler
	metrics   *metrics.Metrics

	dbPool    *database.Client
	startedAt time.Time
	probe     *reachabilityProbe
}

// NewServer builds a Server and registers every route. cfg.ServerPath, if
// set, is used as a path prefix for reverse-proxy deployments.
func NewServer(cfg *config.Config, st *store.Store, llmBroker *llm.Broker, registry *matcher.Registry, ingestHandler *ingest.Handler, m *metrics.Metrics, dbPool *database.Client) *Server {
	e := echo.New()

	s := &Server{
		echo:      e,
		cfg:       cfg,
		store:     st,
		llmBroker: llmBroker,
		registry:  registry,
		ingest:    ingestHandler,
		metrics:   m,
		dbPool:    dbPool,
		startedAt: time.Now().UTC(),
	}
	s.setupRoutes()
	return s
}

// SetProbe wires the once-at-startup, re-probed-on-demand reachability
// checker built in main.
func (s *Server) SetProbe(p *reachabilityProbe) { s.probe = p }

func (s *Server) setupRoutes() {
	s.echo.Use(requestID())
	s.echo.Use(securityHeaders())
	s.echo.Use(middleware.BodyLimit(s.cfg.MaxBodyBytes))

	group := s.echo.Group(s.cfg.ServerPath)

	group.GET("/health", s.healthHandler)
	group.GET("/metrics", func(c *echo.Context) error {
		s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	group.POST("/ingest/:source", s.ingest.Ingest)

	group.POST("/subscriptions", s.createSubscriptionHandler)
	group.GET("/subscriptions", s.listSubscriptionsHandler)
	group.GET("/subscriptions/:id", s.getSubscriptionHandler)
	group.PATCH("/subscriptions/:id", s.updateSubscriptionHandler)
	group.DELETE("/subscriptions/:id", s.deleteSubscriptionHandler)
	group.GET("/subscriptions/:id/events", s.listSubscriptionEventLogsHandler)

	group.GET("/schema", s.getSchemaHandler)
	group.DELETE("/schema/publishers/:publisher", s.deleteSchemaHandler)
	group.DELETE("/schema/publishers/:publisher/resource-types/:type", s.deleteSchemaHandler)
	group.DELETE("/schema/publishers/:publisher/resource-types/:type/actions/:action", s.deleteSchemaHandler)

	group.GET("/event-logs", s.listEventLogsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by integration tests to bind an OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight HTTP requests up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthResponse is GET /health's body, enriched with connection-pool
// statistics and the number of bound subscription consumers.
type healthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	UptimeSec float64                  `json:"uptime_seconds"`
	Store     *database.HealthStatus   `json:"store,omitempty"`
	Broker    componentHealth          `json:"broker"`
	Cache     componentHealth          `json:"cache"`
	LLM       componentHealth          `json:"llm"`
	Subscriptions subscriptionsHealth  `json:"subscriptions"`
}

type componentHealth struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

type subscriptionsHealth struct {
	ActiveConsumers int `json:"active_consumers"`
}

// healthHandler handles GET /health. The store is pinged on every
// request; broker, cache and LLM reachability come from the probe's
// cached snapshot, which is refreshed at most once per probe interval.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	storeHealth, storeErr := database.Health(ctx, s.dbPool.Pool)

	resp := healthResponse{
		Version:       version.Full(),
		UptimeSec:     time.Since(s.startedAt).Seconds(),
		Store:         storeHealth,
		Subscriptions: subscriptionsHealth{ActiveConsumers: s.registry.ActiveCount()},
	}

	if s.probe != nil {
		snapshot := s.probe.Snapshot(ctx)
		resp.Broker = componentHealth{Reachable: snapshot.Broker == nil, Error: errString(snapshot.Broker)}
		resp.Cache = componentHealth{Reachable: snapshot.Cache == nil, Error: errString(snapshot.Cache)}
		resp.LLM = componentHealth{Reachable: snapshot.LLM == nil, Error: errString(snapshot.LLM)}
	}

	switch {
	case storeErr != nil || !resp.Broker.Reachable:
		resp.Status = "down"
		return c.JSON(http.StatusServiceUnavailable, resp)
	case !resp.Cache.Reachable || !resp.LLM.Reachable:
		resp.Status = "degraded"
		return c.JSON(http.StatusOK, resp)
	default:
		resp.Status = "up"
		return c.JSON(http.StatusOK, resp)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
