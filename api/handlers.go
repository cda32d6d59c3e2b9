package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/rules"
	"github.com/papercomputeco/engram/pkg/storage"
)

const (
	defaultRecentCount  = 5
	defaultPatternLimit = 20
)

// RecordMessageRequest is the body of POST /v1/messages.
type RecordMessageRequest struct {
	Text string `json:"text"`
	engram.Metadata
}

// OutcomeRequest is the body of the close and outcome endpoints.
type OutcomeRequest struct {
	Outcome memory.Outcome `json:"outcome"`
}

// FilesRequest is the body of POST /v1/conversations/:id/files.
type FilesRequest struct {
	Files []string `json:"files"`
}

// ConversationsResponse lists retained conversations, oldest first.
type ConversationsResponse struct {
	Count         int                   `json:"count"`
	Conversations []memory.Conversation `json:"conversations"`
}

// PatternsResponse lists patterns, best supported first.
type PatternsResponse struct {
	Count    int              `json:"count"`
	Patterns []memory.Pattern `json:"patterns"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleRecordMessage routes a message into Tier-1. An ambiguous boundary
// answers 200 with needs_clarification set and records nothing.
func (s *Server) handleRecordMessage(c *fiber.Ctx) error {
	var req RecordMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	rec, err := s.memory.RecordMessage(c.UserContext(), req.Text, req.Metadata)
	if err != nil {
		return s.writeError(c, err)
	}

	if rec.NeedsClarification {
		return c.JSON(rec)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// handleRecentConversations handles GET /v1/conversations.
// Query parameters:
//   - n (optional, default 5): number of conversations to return
func (s *Server) handleRecentConversations(c *fiber.Ctx) error {
	n, err := positiveQueryInt(c, "n", defaultRecentCount)
	if err != nil {
		return badRequest(c, "n must be a positive integer")
	}

	convs := s.memory.RecentConversations(n)
	return c.JSON(ConversationsResponse{
		Count:         len(convs),
		Conversations: convs,
	})
}

// handleGetConversation returns one retained conversation.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	conv, ok := s.memory.Conversation(id)
	if !ok {
		return s.writeError(c, storage.NotFoundError{ID: id})
	}
	return c.JSON(conv)
}

// handleCloseConversation ends a conversation and returns its final state.
func (s *Server) handleCloseConversation(c *fiber.Ctx) error {
	id := c.Params("id")

	var req OutcomeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	if err := s.memory.CloseConversation(c.UserContext(), id, req.Outcome); err != nil {
		return s.writeError(c, err)
	}

	conv, ok := s.memory.Conversation(id)
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(conv)
}

// handleReportOutcome records an outcome without closing the conversation.
func (s *Server) handleReportOutcome(c *fiber.Ctx) error {
	var req OutcomeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if err := s.memory.ReportOutcome(c.UserContext(), c.Params("id"), req.Outcome); err != nil {
		return s.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleReportFiles merges touched files into an open conversation.
func (s *Server) handleReportFiles(c *fiber.Ctx) error {
	var req FilesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Files) == 0 {
		return badRequest(c, "files are required")
	}

	if err := s.memory.ReportFiles(c.UserContext(), c.Params("id"), req.Files...); err != nil {
		return s.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSearchPatterns handles GET /v1/patterns.
// Query parameters:
//   - q (optional): substring of the signature or an example
//   - prefix (optional): signature prefix
//   - category (optional): one of the pattern categories
//   - limit (optional, default 20): number of patterns to return
func (s *Server) handleSearchPatterns(c *fiber.Ctx) error {
	q := consolidation.Query{
		Text:   c.Query("q"),
		Prefix: c.Query("prefix"),
	}

	if raw := c.Query("category"); raw != "" {
		cat, ok := memory.ParseCategory(raw)
		if !ok {
			return badRequest(c, "unknown category "+strconv.Quote(raw))
		}
		q.Category = cat
	}

	limit, err := positiveQueryInt(c, "limit", defaultPatternLimit)
	if err != nil {
		return badRequest(c, "limit must be a positive integer")
	}
	q.Limit = limit

	patterns := s.memory.QueryPatterns(q)
	return c.JSON(PatternsResponse{
		Count:    len(patterns),
		Patterns: patterns,
	})
}

// handlePrune runs an explicit pruning sweep.
func (s *Server) handlePrune(c *fiber.Ctx) error {
	res, err := s.memory.Prune(c.UserContext())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(res)
}

// handleValidate evaluates a proposed mutation without applying it. The
// verdict is returned as-is; a BLOCK is not an HTTP error.
func (s *Server) handleValidate(c *fiber.Ctx) error {
	var req rules.Request
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Op == "" || req.Target == "" {
		return badRequest(c, "op and target are required")
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	return c.JSON(s.memory.ValidateMutation(req))
}

func positiveQueryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
