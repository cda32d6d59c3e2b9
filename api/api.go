package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/api/mcp"
	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/rules"
)

// Memory is the part of the engram facade served over HTTP.
type Memory interface {
	RecordMessage(ctx context.Context, text string, meta engram.Metadata) (engram.Recorded, error)
	CloseConversation(ctx context.Context, conversationID string, outcome memory.Outcome) error
	ReportOutcome(ctx context.Context, conversationID string, outcome memory.Outcome) error
	ReportFiles(ctx context.Context, conversationID string, files ...string) error
	RecentConversations(n int) []memory.Conversation
	Conversation(id string) (memory.Conversation, bool)
	QueryPatterns(q consolidation.Query) []memory.Pattern
	ValidateMutation(req rules.Request) rules.Verdict
	Prune(ctx context.Context) (consolidation.PruneResult, error)
}

// Server is the API server for the engram memory subsystem
type Server struct {
	config Config
	memory Memory
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The memory is injected to allow sharing with other surfaces of the same
// process (e.g. the MCP server).
func NewServer(config Config, mem Memory, logger *slog.Logger) (*Server, error) {
	if mem == nil {
		return nil, errors.New("memory is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		memory: mem,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/messages", s.handleRecordMessage)
	v1.Get("/conversations", s.handleRecentConversations)
	v1.Get("/conversations/:id", s.handleGetConversation)
	v1.Post("/conversations/:id/close", s.handleCloseConversation)
	v1.Post("/conversations/:id/outcome", s.handleReportOutcome)
	v1.Post("/conversations/:id/files", s.handleReportFiles)
	v1.Get("/patterns", s.handleSearchPatterns)
	v1.Post("/patterns/prune", s.handlePrune)
	v1.Post("/validate", s.handleValidate)

	if config.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(config.Metrics.Handler()))
	}

	if !config.DisableMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Memory: mem,
			Logger: logger.With("component", "mcp"),
		})
		if err != nil {
			return nil, err
		}
		app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
