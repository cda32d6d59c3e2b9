package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/memory"
)

var (
	recordMessageToolName    = "record_message"
	recordMessageDescription = "Record a message into engram short-term memory. Engram decides whether the message continues the active conversation or starts a new one. When the decision is ambiguous nothing is recorded and needs_clarification is true; ask the user the returned prompt and call again with resolve set to \"continue\" or \"new\"."

	closeConversationToolName    = "close_conversation"
	closeConversationDescription = "Close a conversation in engram memory with its outcome (planned, implemented, tested, abandoned or unknown)."

	recentConversationsToolName    = "recent_conversations"
	recentConversationsDescription = "List the most recently started conversations held in engram short-term memory, oldest first. Returns titles, entities discussed, files touched and outcomes, not message text."
)

// RecordMessageInput represents the input arguments for the MCP record_message tool.
type RecordMessageInput struct {
	Text    string   `json:"text" jsonschema:"the message text to record"`
	Role    string   `json:"role,omitempty" jsonschema:"who authored the message: user, assistant or system (default user)"`
	Files   []string `json:"files,omitempty" jsonschema:"files touched while handling this message"`
	Resolve string   `json:"resolve,omitempty" jsonschema:"answer to a clarification prompt: continue or new"`
}

// RecordMessageOutput represents the structured output of record_message.
type RecordMessageOutput struct {
	ConversationID     string  `json:"conversation_id"`
	MessageID          string  `json:"message_id"`
	Decision           string  `json:"decision"`
	Signal             string  `json:"signal"`
	Confidence         float64 `json:"confidence"`
	NeedsClarification bool    `json:"needs_clarification"`
	Prompt             string  `json:"prompt"`
}

// CloseConversationInput represents the input arguments for close_conversation.
type CloseConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation to close"`
	Outcome        string `json:"outcome,omitempty" jsonschema:"planned, implemented, tested, abandoned or unknown"`
}

// CloseConversationOutput represents the structured output of close_conversation.
type CloseConversationOutput struct {
	ConversationID string `json:"conversation_id"`
	Closed         bool   `json:"closed"`
}

// RecentConversationsInput represents the input arguments for recent_conversations.
type RecentConversationsInput struct {
	N int `json:"n,omitempty" jsonschema:"number of conversations to return (default 5)"`
}

// ConversationSummary is a message-free view of one conversation.
type ConversationSummary struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	StartedAt    string   `json:"started_at"`
	EndedAt      string   `json:"ended_at"`
	Active       bool     `json:"active"`
	Outcome      string   `json:"outcome"`
	MessageCount int      `json:"message_count"`
	Entities     []string `json:"entities"`
	Files        []string `json:"files"`
}

// RecentConversationsOutput represents the structured output of recent_conversations.
type RecentConversationsOutput struct {
	Conversations []ConversationSummary `json:"conversations"`
}

func (s *Server) handleRecordMessage(ctx context.Context, _ *mcp.CallToolRequest, input RecordMessageInput) (*mcp.CallToolResult, RecordMessageOutput, error) {
	if input.Text == "" {
		return errorResult("text is required"), RecordMessageOutput{}, nil
	}

	rec, err := s.config.Memory.RecordMessage(ctx, input.Text, engram.Metadata{
		Role:    memory.Role(input.Role),
		Files:   input.Files,
		Resolve: engram.Resolution(input.Resolve),
	})
	if err != nil {
		s.config.Logger.Warn("record_message failed", "error", err)
		return errorResult("Recording message failed: %v", err), RecordMessageOutput{}, nil
	}

	output := RecordMessageOutput{
		ConversationID:     rec.ConversationID,
		MessageID:          rec.MessageID,
		Decision:           string(rec.Decision.Kind),
		Signal:             string(rec.Decision.Signal),
		Confidence:         rec.Decision.Confidence,
		NeedsClarification: rec.NeedsClarification,
		Prompt:             rec.Prompt,
	}

	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: %v", err), RecordMessageOutput{}, nil
	}
	return result, output, nil
}

func (s *Server) handleCloseConversation(ctx context.Context, _ *mcp.CallToolRequest, input CloseConversationInput) (*mcp.CallToolResult, CloseConversationOutput, error) {
	if input.ConversationID == "" {
		return errorResult("conversation_id is required"), CloseConversationOutput{}, nil
	}

	if err := s.config.Memory.CloseConversation(ctx, input.ConversationID, memory.Outcome(input.Outcome)); err != nil {
		return errorResult("Closing conversation failed: %v", err), CloseConversationOutput{}, nil
	}

	output := CloseConversationOutput{ConversationID: input.ConversationID, Closed: true}
	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: %v", err), CloseConversationOutput{}, nil
	}
	return result, output, nil
}

func (s *Server) handleRecentConversations(_ context.Context, _ *mcp.CallToolRequest, input RecentConversationsInput) (*mcp.CallToolResult, RecentConversationsOutput, error) {
	n := input.N
	if n <= 0 {
		n = 5
	}

	convs := s.config.Memory.RecentConversations(n)
	output := RecentConversationsOutput{Conversations: make([]ConversationSummary, 0, len(convs))}
	for i := range convs {
		output.Conversations = append(output.Conversations, summarize(&convs[i]))
	}

	result, err := jsonResult(output)
	if err != nil {
		return errorResult("Failed to serialize results: %v", err), RecentConversationsOutput{}, nil
	}
	return result, output, nil
}

func summarize(c *memory.Conversation) ConversationSummary {
	out := ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		StartedAt:    c.StartedAt.UTC().Format(time.RFC3339),
		Active:       c.Active,
		Outcome:      string(c.Outcome),
		MessageCount: len(c.Messages),
		Entities:     append([]string{}, c.Entities...),
		Files:        append([]string{}, c.FilesTouched...),
	}
	if c.EndedAt != nil {
		out.EndedAt = c.EndedAt.UTC().Format(time.RFC3339)
	}
	return out
}
