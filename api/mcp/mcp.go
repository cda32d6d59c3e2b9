// Package mcp provides an MCP (Model Context Protocol) server that lets agent
// collaborators record into and query engram memory.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/rules"
	"github.com/papercomputeco/engram/pkg/utils"
)

// Memory is the part of the engram facade exposed as MCP tools.
type Memory interface {
	RecordMessage(ctx context.Context, text string, meta engram.Metadata) (engram.Recorded, error)
	CloseConversation(ctx context.Context, conversationID string, outcome memory.Outcome) error
	RecentConversations(n int) []memory.Conversation
	QueryPatterns(q consolidation.Query) []memory.Pattern
	ValidateMutation(req rules.Request) rules.Verdict
}

type Config struct {
	// Memory backs every tool
	Memory Memory

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured logger
	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	// Create the MCP server
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "engram",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Memory == nil {
			return nil, errors.New("memory is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        recordMessageToolName,
			Description: recordMessageDescription,
		}, s.handleRecordMessage)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        closeConversationToolName,
			Description: closeConversationDescription,
		}, s.handleCloseConversation)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        recentConversationsToolName,
			Description: recentConversationsDescription,
		}, s.handleRecentConversations)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        searchPatternsToolName,
			Description: searchPatternsDescription,
		}, s.handleSearchPatterns)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        validateMutationToolName,
			Description: validateMutationDescription,
		}, s.handleValidateMutation)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
