package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	pendingFile = "pending.json"
)

// PendingMessage is a message that was not recorded because the boundary
// decision was ambiguous. It is replayed once the user answers the prompt.
type PendingMessage struct {
	// Text is the original message text.
	Text string `json:"text"`

	// Timestamp is when the message was first submitted.
	Timestamp time.Time `json:"timestamp"`

	// Files are the touched files reported with the message.
	Files []string `json:"files,omitempty"`

	// ConversationID is the conversation that was active at the time.
	ConversationID string `json:"conversation_id,omitempty"`

	// Prompt is the clarification question that was shown.
	Prompt string `json:"prompt,omitempty"`
}

// LoadPending loads the pending message from a target .engram/pending.json.
// Returns nil, nil if no message is pending.
// If overrideDir is non-empty, it is used instead of the default location.
func (m *Manager) LoadPending(overrideDir string) (*PendingMessage, error) {
	path, err := m.Path(overrideDir, pendingFile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pending message: %w", err)
	}

	pending := &PendingMessage{}
	if err := json.Unmarshal(data, pending); err != nil {
		return nil, fmt.Errorf("parsing pending message: %w", err)
	}

	return pending, nil
}

// SavePending persists msg to a target .engram/pending.json, replacing any
// previously pending message.
func (m *Manager) SavePending(msg *PendingMessage, overrideDir string) error {
	if msg == nil {
		return errors.New("cannot save nil pending message")
	}

	path, err := m.Path(overrideDir, pendingFile)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pending message: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing pending message: %w", err)
	}

	return nil
}

// ClearPending removes the pending message file.
// Returns nil if the file doesn't exist (already cleared).
func (m *Manager) ClearPending(overrideDir string) error {
	path, err := m.Path(overrideDir, pendingFile)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing pending message: %w", err)
	}

	return nil
}
