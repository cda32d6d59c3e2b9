// Package conversation implements the Tier-1 conversation store: an ordered,
// capacity-bounded window of recent conversations with FIFO eviction at
// conversation granularity.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/entity"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/metrics"
	"github.com/papercomputeco/engram/pkg/retry"
	"github.com/papercomputeco/engram/pkg/rules"
	"github.com/papercomputeco/engram/pkg/storage"
)

// DefaultMaxConversations is the retention ceiling used when none is
// configured.
const DefaultMaxConversations = 20

const actor = "conversation-store"

// EvictFunc receives a copy of every evicted conversation. It is called while
// the store's writer lock is held and must not block or call back into the
// store.
type EvictFunc func(conv memory.Conversation)

// Config is the configuration for a Store.
type Config struct {
	// Driver persists conversations. Required.
	Driver storage.ConversationDriver

	// Rules gates every mutation. Required.
	Rules *rules.Engine

	// MaxConversations is the retention ceiling (defaults to 20).
	MaxConversations int

	// Retry controls how failed persistence calls are retried.
	Retry retry.Config

	// OnEvict is notified of evicted conversations. Optional.
	OnEvict EvictFunc

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Logger is the configured logger
	Logger *slog.Logger
}

// Store is the Tier-1 conversation store. Mutations are serialized by a
// single writer lock; reads take the read lock and return deep copies.
type Store struct {
	mu sync.RWMutex

	// conversations are ordered by StartedAt, oldest first.
	conversations []*memory.Conversation
	byID          map[string]*memory.Conversation
	activeID      string

	driver  storage.ConversationDriver
	rules   *rules.Engine
	max     int
	retry   retry.Config
	onEvict EvictFunc
	metrics *metrics.Metrics
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates a Store and loads the retained conversations from the driver.
func New(ctx context.Context, c Config) (*Store, error) {
	if c.Driver == nil {
		return nil, errors.New("driver is required")
	}
	if c.Rules == nil {
		return nil, errors.New("rule engine is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if c.MaxConversations <= 0 {
		c.MaxConversations = DefaultMaxConversations
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.Retry.Retryable == nil {
		c.Retry.Retryable = func(err error) bool {
			var nf storage.NotFoundError
			return !errors.As(err, &nf)
		}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	s := &Store{
		byID:    make(map[string]*memory.Conversation),
		driver:  c.Driver,
		rules:   c.Rules,
		max:     c.MaxConversations,
		retry:   c.Retry,
		onEvict: c.OnEvict,
		metrics: c.Metrics,
		clock:   c.Clock,
		logger:  c.Logger,
	}

	var loaded []memory.Conversation
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		loaded, err = s.driver.LoadConversations(ctx)
		return err
	})
	if err != nil {
		return nil, &memory.Error{Kind: memory.KindStorageUnavailable, Op: "load", Err: err}
	}

	slices.SortStableFunc(loaded, func(a, b memory.Conversation) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	for i := range loaded {
		conv := &loaded[i]
		if conv.Active && conv.Ended() {
			conv.Active = false
		}
		if conv.Active {
			if s.activeID != "" {
				s.logger.Warn("multiple active conversations loaded, keeping the newest",
					"conversation_id", conv.ID,
					"previous", s.activeID,
				)
				s.byID[s.activeID].Active = false
			}
			s.activeID = conv.ID
		}
		s.conversations = append(s.conversations, conv)
		s.byID[conv.ID] = conv
	}

	s.metrics.SetConversations(len(s.conversations))
	s.logger.Debug("conversation store loaded",
		"conversations", len(s.conversations),
		"active_id", s.activeID,
		"max_conversations", s.max,
	)
	return s, nil
}

// StartOption configures StartNew.
type StartOption func(*startOptions)

type startOptions struct {
	closeActive bool
	marker      string
}

// WithCloseActive ends the active conversation, recording marker as its
// closing phrase, in the same write that opens the new one. Either both
// changes persist or neither does.
func WithCloseActive(marker string) StartOption {
	return func(o *startOptions) {
		o.closeActive = true
		o.marker = marker
	}
}

// StartNew opens a new conversation holding msg as its first message and
// returns its id. When the store is at capacity the oldest closed
// conversations are evicted before the new one becomes visible. StartNew
// fails with InvalidState while another conversation is active, unless
// WithCloseActive is given.
func (s *Store) StartNew(ctx context.Context, msg memory.Message, opts ...StartOption) (string, error) {
	const op = "start_new"

	o := &startOptions{}
	for _, opt := range opts {
		opt(o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != "" && !o.closeActive {
		return "", &memory.Error{
			Kind:           memory.KindInvalidState,
			Op:             op,
			ConversationID: s.activeID,
			Err:            errors.New("another conversation is active"),
		}
	}
	if err := validMessage(op, "", msg); err != nil {
		return "", err
	}

	var ended *memory.Conversation
	if s.activeID != "" {
		if err := s.gate("end", rules.Request{
			Op:             rules.OpEnd,
			ConversationID: s.activeID,
			Description:    "close conversation at boundary",
		}); err != nil {
			return "", err
		}
		next := s.closed(s.byID[s.activeID], "", o.marker)
		ended = &next
	}

	conv := &memory.Conversation{
		ID:     uuid.NewString(),
		Title:  entity.Topic(msg.Text),
		Active: true,
	}
	msg = s.prepareMessage(conv.ID, msg)
	if n := len(s.conversations); n > 0 {
		if last := s.conversations[n-1].StartedAt; !msg.Timestamp.After(last) {
			msg.Timestamp = last.Add(time.Nanosecond)
		}
	}
	conv.StartedAt = msg.Timestamp
	conv.Messages = []memory.Message{msg}
	conv.AddEntities(msg.Entities...)

	closing := ""
	if ended != nil {
		closing = ended.ID
	}
	evicted := s.evictionCandidates(closing)
	evictedIDs := make([]string, len(evicted))
	for i, e := range evicted {
		evictedIDs[i] = e.ID
		if e.ID == closing {
			evicted[i] = ended
			ended = nil
		}
	}

	err := s.gate(op, rules.Request{
		Op:             rules.OpStartNew,
		ConversationID: conv.ID,
		Text:           msg.Text,
		Sanctioned:     true,
		Projected:      len(s.conversations) + 1 - len(evicted),
	})
	if err != nil {
		return "", err
	}

	if err := s.persist(ctx, op, conv.ID, func(ctx context.Context) error {
		if closing != "" {
			return s.driver.RolloverConversation(ctx, ended, conv, evictedIDs...)
		}
		return s.driver.SaveConversation(ctx, conv, evictedIDs...)
	}); err != nil {
		return "", err
	}

	if ended != nil {
		s.replace(ended)
	}
	if closing != "" {
		s.logger.Debug("conversation ended",
			"conversation_id", closing,
			"closing_marker", o.marker,
		)
	}
	for _, e := range evicted {
		s.remove(e.ID)
		s.logger.Info("conversation evicted",
			"conversation_id", e.ID,
			"title", e.Title,
			"messages", len(e.Messages),
		)
		if s.onEvict != nil {
			s.onEvict(e.Clone())
		}
	}
	s.conversations = append(s.conversations, conv)
	s.byID[conv.ID] = conv
	s.activeID = conv.ID

	s.metrics.RecordEviction(len(evicted))
	s.metrics.SetConversations(len(s.conversations))
	s.logger.Debug("conversation started",
		"conversation_id", conv.ID,
		"title", conv.Title,
		"evicted", len(evicted),
	)
	return conv.ID, nil
}

// Append adds msg to the conversation. Appending to an unknown or ended
// conversation fails with InvalidState.
func (s *Store) Append(ctx context.Context, conversationID string, msg memory.Message) (memory.Message, error) {
	const op = "append"

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.open(op, conversationID)
	if err != nil {
		return memory.Message{}, err
	}
	if err := validMessage(op, conversationID, msg); err != nil {
		return memory.Message{}, err
	}

	if err := s.gate(op, rules.Request{
		Op:             rules.OpAppend,
		ConversationID: conversationID,
		Text:           msg.Text,
	}); err != nil {
		return memory.Message{}, err
	}

	msg = s.prepareMessage(conversationID, msg)
	if last := current.LastActivity(); msg.Timestamp.Before(last) {
		msg.Timestamp = last
	}
	next := current.Clone()
	next.Messages = append(next.Messages, msg)
	next.AddEntities(msg.Entities...)

	if err := s.persist(ctx, op, conversationID, func(ctx context.Context) error {
		return s.driver.AppendMessage(ctx, &next, msg)
	}); err != nil {
		return memory.Message{}, err
	}

	s.replace(&next)
	return msg, nil
}

// EndOption configures End.
type EndOption func(*endOptions)

type endOptions struct {
	marker string
}

// WithClosingMarker records the boundary phrase that closed the conversation.
func WithClosingMarker(marker string) EndOption {
	return func(o *endOptions) {
		o.marker = marker
	}
}

// End closes the conversation with outcome. An empty outcome keeps a
// previously reported one, or records OutcomeUnknown. Ending an unknown or
// already ended conversation fails with InvalidState.
func (s *Store) End(ctx context.Context, conversationID string, outcome memory.Outcome, opts ...EndOption) error {
	const op = "end"

	o := &endOptions{}
	for _, opt := range opts {
		opt(o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.open(op, conversationID)
	if err != nil {
		return err
	}
	if outcome != "" {
		if _, ok := memory.ParseOutcome(string(outcome)); !ok {
			return &memory.Error{
				Kind:           memory.KindMalformedInput,
				Op:             op,
				ConversationID: conversationID,
				Err:            fmt.Errorf("unknown outcome %q", outcome),
			}
		}
	}

	if err := s.gate(op, rules.Request{
		Op:             rules.OpEnd,
		ConversationID: conversationID,
		Description:    "close conversation with outcome " + string(outcome),
	}); err != nil {
		return err
	}

	next := s.closed(current, outcome, o.marker)

	if err := s.persist(ctx, op, conversationID, func(ctx context.Context) error {
		return s.driver.SaveConversation(ctx, &next)
	}); err != nil {
		return err
	}

	s.replace(&next)
	if s.activeID == conversationID {
		s.activeID = ""
	}
	s.logger.Debug("conversation ended",
		"conversation_id", conversationID,
		"outcome", next.Outcome,
		"closing_marker", next.ClosingMarker,
	)
	return nil
}

// closed returns an ended copy of c. An empty outcome keeps a previously
// reported one, or records OutcomeUnknown.
func (s *Store) closed(c *memory.Conversation, outcome memory.Outcome, marker string) memory.Conversation {
	next := c.Clone()
	switch {
	case outcome != "":
		next.Outcome = outcome
	case next.Outcome == "":
		next.Outcome = memory.OutcomeUnknown
	}
	ended := s.clock()
	if last := next.LastActivity(); ended.Before(last) {
		ended = last
	}
	next.EndedAt = &ended
	next.Active = false
	next.ClosingMarker = marker
	return next
}

// SetOutcome records the outcome reported for an open conversation without
// closing it.
func (s *Store) SetOutcome(ctx context.Context, conversationID string, outcome memory.Outcome) error {
	const op = "set_outcome"

	if _, ok := memory.ParseOutcome(string(outcome)); !ok {
		return &memory.Error{
			Kind:           memory.KindMalformedInput,
			Op:             op,
			ConversationID: conversationID,
			Err:            fmt.Errorf("unknown outcome %q", outcome),
		}
	}

	return s.update(ctx, op, rules.Request{
		Op:             rules.OpUpdate,
		ConversationID: conversationID,
		Description:    "report outcome " + string(outcome),
	}, func(c *memory.Conversation) {
		c.Outcome = outcome
	})
}

// AddFiles merges files into the touched-file set of an open conversation.
func (s *Store) AddFiles(ctx context.Context, conversationID string, files ...string) error {
	const op = "add_files"

	cleaned := make([]string, 0, len(files))
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			cleaned = append(cleaned, f)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}

	return s.update(ctx, op, rules.Request{
		Op:             rules.OpUpdate,
		ConversationID: conversationID,
		Description:    "report touched files",
		Files:          cleaned,
	}, func(c *memory.Conversation) {
		c.AddFiles(cleaned...)
	})
}

func (s *Store) update(ctx context.Context, op string, req rules.Request, mutate func(*memory.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.open(op, req.ConversationID)
	if err != nil {
		return err
	}
	if err := s.gate(op, req); err != nil {
		return err
	}

	next := current.Clone()
	mutate(&next)

	if err := s.persist(ctx, op, next.ID, func(ctx context.Context) error {
		return s.driver.SaveConversation(ctx, &next)
	}); err != nil {
		return err
	}

	s.replace(&next)
	return nil
}

// Active returns a copy of the active conversation.
func (s *Store) Active() (memory.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return memory.Conversation{}, false
	}
	return s.byID[s.activeID].Clone(), true
}

// Get returns a copy of the conversation with id.
func (s *Store) Get(id string) (memory.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return memory.Conversation{}, false
	}
	return c.Clone(), true
}

// Recent returns copies of the n most recently started conversations,
// oldest first. A non-positive n returns every retained conversation.
func (s *Store) Recent(n int) []memory.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := s.conversations
	if n > 0 && n < len(convs) {
		convs = convs[len(convs)-n:]
	}
	out := make([]memory.Conversation, len(convs))
	for i, c := range convs {
		out[i] = c.Clone()
	}
	return out
}

// RecentMessages returns the last n messages across the retained
// conversations, newest last.
func (s *Store) RecentMessages(n int) []memory.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.Message
	for i := len(s.conversations) - 1; i >= 0 && len(out) < n; i-- {
		msgs := s.conversations[i].Messages
		for j := len(msgs) - 1; j >= 0 && len(out) < n; j-- {
			m := msgs[j]
			m.Entities = slices.Clone(m.Entities)
			out = append(out, m)
		}
	}
	slices.Reverse(out)
	return out
}

// Len returns the number of retained conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// MaxConversations returns the configured retention ceiling.
func (s *Store) MaxConversations() int {
	return s.max
}

// Snapshot summarizes the store for rule evaluation.
func (s *Store) Snapshot() rules.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() rules.Snapshot {
	closed := 0
	for _, c := range s.conversations {
		if !c.Active {
			closed++
		}
	}
	return rules.Snapshot{
		Conversations:    len(s.conversations),
		Closed:           closed,
		MaxConversations: s.max,
		ActiveID:         s.activeID,
	}
}

// evictionCandidates returns the oldest closed conversations that must leave
// to make room for one more. closing names a conversation being ended by the
// same mutation; it counts as closed.
func (s *Store) evictionCandidates(closing string) []*memory.Conversation {
	over := len(s.conversations) + 1 - s.max
	var out []*memory.Conversation
	for _, c := range s.conversations {
		if over <= 0 {
			break
		}
		if c.Active && c.ID != closing {
			continue
		}
		out = append(out, c)
		over--
	}
	return out
}

// open returns the conversation with id if it accepts mutations.
func (s *Store) open(op, id string) (*memory.Conversation, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, &memory.Error{
			Kind:           memory.KindInvalidState,
			Op:             op,
			ConversationID: id,
			Err:            storage.NotFoundError{ID: id},
		}
	}
	if c.Ended() {
		return nil, &memory.Error{
			Kind:           memory.KindInvalidState,
			Op:             op,
			ConversationID: id,
			Err:            errors.New("conversation has ended"),
		}
	}
	return c, nil
}

func (s *Store) gate(op string, req rules.Request) error {
	req.Target = rules.TargetTier1
	req.Actor = actor
	req.Snapshot = s.snapshotLocked()

	v := s.rules.Evaluate(req)
	s.metrics.RecordVerdict(string(req.Op), string(v.Decision))
	if v.Decision == rules.Warn {
		s.logger.Warn("rule warning",
			"op", op,
			"conversation_id", req.ConversationID,
			"violations", v.Reasons(),
		)
	}
	return v.Err(op, req.ConversationID)
}

func (s *Store) persist(ctx context.Context, op, conversationID string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, s.retry, fn)
	if err == nil {
		return nil
	}

	kind := memory.KindStorageUnavailable
	var nf storage.NotFoundError
	if errors.As(err, &nf) {
		kind = memory.KindInvalidState
	}
	s.logger.Error("persisting conversation failed",
		"op", op,
		"conversation_id", conversationID,
		"error", err,
	)
	return &memory.Error{Kind: kind, Op: op, ConversationID: conversationID, Err: err}
}

func (s *Store) prepareMessage(conversationID string, msg memory.Message) memory.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	if msg.Role == "" {
		msg.Role = memory.RoleUser
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock()
	}
	if msg.Entities == nil {
		msg.Entities = entity.Values(entity.Extract(msg.Text))
	}
	return msg
}

func (s *Store) replace(next *memory.Conversation) {
	for i, c := range s.conversations {
		if c.ID == next.ID {
			s.conversations[i] = next
			break
		}
	}
	s.byID[next.ID] = next
}

func (s *Store) remove(id string) {
	s.conversations = slices.DeleteFunc(s.conversations, func(c *memory.Conversation) bool {
		return c.ID == id
	})
	delete(s.byID, id)
}

func validMessage(op, conversationID string, msg memory.Message) error {
	if msg.Role != "" && !msg.Role.Valid() {
		return &memory.Error{
			Kind:           memory.KindMalformedInput,
			Op:             op,
			ConversationID: conversationID,
			Err:            fmt.Errorf("unknown role %q", msg.Role),
		}
	}
	return nil
}
