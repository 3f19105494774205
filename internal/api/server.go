// Package api is the HTTP boundary of the orchestrator. Every failure is
// reported as a JSON {"error": string} body.
package api

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/besteffort"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/contextpack"
	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/health"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/orchestrator"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/plan"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/requestid"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

// Config holds configuration for the HTTP server.
type Config struct {
	ListenAddr  string
	CORSOrigins string
	RateLimit   RateLimitConfig
	Development bool
}

// Deps are the components the handlers delegate to. Metrics may be nil.
type Deps struct {
	Store        *store.Store
	Orchestrator *orchestrator.Service
	Materializer *plan.Materializer
	Assembler    *contextpack.Assembler
	Checker      *health.Checker
	Writer       *besteffort.Writer
	Metrics      *metrics.Metrics
}

// Server is the orchestrator's Fiber application.
type Server struct {
	app     *fiber.App
	limiter *rateLimiter
	logger  zerolog.Logger
	config  Config
}

// NewServer creates and configures the HTTP server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Params and headers outlive the handler in dispatched writes.
		Immutable:             true,
		ErrorHandler:          errorHandler(cfg.Development, logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:     app,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
		config:  cfg,
	}

	s.setupMiddleware(cfg, deps.Metrics)
	s.setupRoutes(&handlers{deps: deps, logger: logger})

	return s
}

func (s *Server) setupMiddleware(cfg Config, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.Development,
	}))

	// Request ID: honor a usable inbound id, otherwise mint one.
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Resolve(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	// Access log and request metrics. Errors are rendered here so the
	// recorded status is the one the client sees.
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}
		status := c.Response().StatusCode()
		route := c.Route().Path

		m.ObserveHTTP(c.Method(), route, strconv.Itoa(status), time.Since(start).Seconds())

		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return nil
		}
		log := requestid.Logger(c.UserContext(), s.logger)
		log.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Str("ip", c.IP()).
			Dur("duration", time.Since(start)).
			Msg("api request")
		return nil
	})
}

func (s *Server) setupRoutes(h *handlers) {
	s.app.Get("/healthz", adaptor.HTTPHandler(health.LivenessHandler()))
	if h.deps.Checker != nil {
		s.app.Get("/readyz", adaptor.HTTPHandler(h.deps.Checker.ReadinessHandler()))
	}
	if h.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(h.deps.Metrics.Handler()))
	}

	api := s.app.Group("/api")

	orch := api.Group("/orchestrator")
	orch.Post("/analyze", s.limiter.handler(), h.analyze)
	orch.Post("/plan", h.submitAnswers)
	orch.Post("/bootstrap", h.bootstrap)
	orch.Post("/execute", h.execute)
	orch.Get("/:sessionId/status", h.sessionStatus)

	api.Post("/context-pack", h.contextPack)

	projects := api.Group("/projects")
	projects.Post("/", h.createProject)
	projects.Get("/", h.listProjects)
	projects.Get("/:id", h.getProject)
	projects.Put("/:id", h.updateProject)
	projects.Delete("/:id", h.deleteProject)
	projects.Get("/:id/orchestrator-prompt", h.orchestratorPrompt)
	projects.Get("/:id/sessions", h.projectSessions)
	projects.Post("/:id/requests", h.analyzeRequest)

	tasks := api.Group("/tasks")
	tasks.Post("/", h.createTask)
	tasks.Get("/byProject/:projectId", h.listTasks)
	tasks.Put("/:id", h.updateTask)
	tasks.Delete("/:id", h.deleteTask)

	knowledge := api.Group("/knowledge")
	knowledge.Get("/byProject/:projectId", h.listKnowledge)
	knowledge.Put("/", h.upsertKnowledge)

	docs := api.Group("/knowledge-docs")
	docs.Get("/byProject/:projectId", h.listDocs)
	docs.Post("/", h.createDoc)
	docs.Put("/:id", h.updateDoc)
	docs.Delete("/:id", h.deleteDoc)

	workflow := api.Group("/workflow")
	workflow.Get("/:projectId", h.getWorkflow)
	workflow.Put("/:projectId", h.updateWorkflow)

	s.app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Route "+c.Method()+" "+c.Path()+" not found")
	})
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":4000"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	s.limiter.stop()
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(development bool, logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := perrors.HTTPStatus(err)
		msg := perrors.Message(err)
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code, msg = fe.Code, fe.Message
		}

		log := requestid.Logger(c.UserContext(), logger)
		ev := log.Warn()
		if code >= fiber.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("request failed")

		body := fiber.Map{"error": msg}
		if development {
			body["stack"] = err.Error()
		}
		return c.Status(code).JSON(body)
	}
}
