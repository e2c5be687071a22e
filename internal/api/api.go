// Package api is the thin read surface over the core: stored P&L
// results, queue depth, service lifecycle state, and ad-hoc analysis
// submission. Per spec.md §1/§6 this is explicitly out of core scope —
// every handler here is a few lines of glue calling straight into
// internal/store and internal/service.
//
// Grounded on the teacher's internal/signal/server.go (fiber app
// construction, route registration, graceful Start/Shutdown).
package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"wallet-pnl-analyzer/internal/analysis"
	"wallet-pnl-analyzer/internal/metrics"
	"wallet-pnl-analyzer/internal/service"
	"wallet-pnl-analyzer/internal/store"
)

// Server exposes the read API described in spec.md §6.
type Server struct {
	app     *fiber.App
	store   *store.Store
	manager *service.Manager
	host    string
	port    int
}

// New builds a Server and registers its routes.
func New(host string, port int, st *store.Store, mgr *service.Manager) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	s := &Server{app: app, store: st, manager: mgr, host: host, port: port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	})

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")
	api.Get("/results/:wallet/:token", s.handleGetResult)
	api.Get("/queue/stats", s.handleQueueStats)
	api.Get("/service/state", s.handleServiceState)
	api.Post("/analyze", s.handleAnalyzeNow)
	api.Post("/service/discovery/start", s.handleStartDiscovery)
	api.Post("/service/discovery/stop", s.handleStopDiscovery)
	api.Post("/service/analysis/start", s.handleStartAnalysis)
	api.Post("/service/analysis/stop", s.handleStopAnalysis)
}

func (s *Server) handleGetResult(c *fiber.Ctx) error {
	wallet := c.Params("wallet")
	token := c.Params("token")

	var result analysis.Result
	found, err := s.store.LoadResult(c.Context(), wallet, token, &result)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no result for wallet/token pair"})
	}
	return c.JSON(result)
}

func (s *Server) handleQueueStats(c *fiber.Ctx) error {
	depth, err := s.store.QueueDepth(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	metrics.AnalysisQueueDepth.Set(float64(depth))
	return c.JSON(fiber.Map{"queue_depth": depth})
}

func (s *Server) handleServiceState(c *fiber.Ctx) error {
	return c.JSON(s.manager.GetStats())
}

type analyzeRequest struct {
	Wallet       string `json:"wallet"`
	TokenAddress string `json:"token_address"`
	FullHistory  bool   `json:"full_history"`
}

// handleAnalyzeNow enqueues an ad-hoc (wallet, token) pair, bypassing
// discovery, for the next available analysis worker to pick up.
func (s *Server) handleAnalyzeNow(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if req.Wallet == "" || req.TokenAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "wallet and token_address are required"})
	}

	task := store.DiscoveryTask{
		Wallet:       req.Wallet,
		TokenAddress: req.TokenAddress,
		FullHistory:  req.FullHistory,
		EnqueuedAt:   time.Now().UTC(),
	}
	enqueued, err := s.store.EnqueueAnalysis(c.Context(), task)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"enqueued": enqueued})
}

func (s *Server) handleStartDiscovery(c *fiber.Ctx) error {
	state := s.manager.StartDiscovery(c.Context())
	return c.JSON(fiber.Map{"state": state.String()})
}

func (s *Server) handleStopDiscovery(c *fiber.Ctx) error {
	if err := s.manager.StopDiscovery(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"state": "stopped"})
}

func (s *Server) handleStartAnalysis(c *fiber.Ctx) error {
	state := s.manager.StartAnalysis(c.Context())
	return c.JSON(fiber.Map{"state": state.String()})
}

func (s *Server) handleStopAnalysis(c *fiber.Ctx) error {
	if err := s.manager.StopAnalysis(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"state": "stopped"})
}

// Start begins serving on host:port. Blocks until Shutdown is called or
// the listener errors.
func (s *Server) Start() error {
	addr := s.host
	if s.port != 0 {
		addr = addrWithPort(s.host, s.port)
	}
	log.Info().Str("addr", addr).Msg("api: listening")
	return s.app.Listen(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func addrWithPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
