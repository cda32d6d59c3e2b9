package engram_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/boundary"
	"github.com/papercomputeco/engram/pkg/engram"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/metrics"
	"github.com/papercomputeco/engram/pkg/retry"
	"github.com/papercomputeco/engram/pkg/rules"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.Event
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, e *eventstream.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

// startFailingDriver refuses to persist new conversations once armed.
type startFailingDriver struct {
	*inmemory.Driver
	armed bool
}

func (d *startFailingDriver) SaveConversation(ctx context.Context, conv *memory.Conversation, evicted ...string) error {
	if d.armed && conv.Active {
		return errors.New("disk gone")
	}
	return d.Driver.SaveConversation(ctx, conv, evicted...)
}

func (d *startFailingDriver) RolloverConversation(ctx context.Context, ended, started *memory.Conversation, evicted ...string) error {
	if d.armed {
		return errors.New("disk gone")
	}
	return d.Driver.RolloverConversation(ctx, ended, started, evicted...)
}

var _ = Describe("Memory", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
		pub    *recordingPublisher
		mem    *engram.Memory
		t0     time.Time
	)

	newMemory := func(c engram.Config) *engram.Memory {
		c.Driver = driver
		c.Publisher = pub
		c.Logger = logger.Nop()
		if c.Metrics == nil {
			c.Metrics = metrics.New()
		}
		m, err := engram.New(ctx, c)
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	record := func(text string, at time.Duration) engram.Recorded {
		res, err := mem.RecordMessage(ctx, text, engram.Metadata{Timestamp: t0.Add(at)})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		pub = &recordingPublisher{}
		t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		mem = newMemory(engram.Config{})
	})

	Describe("New", func() {
		It("requires a driver and a logger", func() {
			_, err := engram.New(ctx, engram.Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("driver")))
			_, err = engram.New(ctx, engram.Config{Driver: driver})
			Expect(err).To(MatchError(ContainSubstring("logger")))
		})
	})

	Describe("RecordMessage", func() {
		It("starts a conversation when none is active", func() {
			res := record("add a FAB button", 0)
			Expect(res.Decision.Kind).To(Equal(boundary.StartNew))
			Expect(res.Decision.Signal).To(Equal(boundary.SignalNoActive))
			Expect(res.Decision.Confidence).To(Equal(1.0))
			Expect(res.ConversationID).NotTo(BeEmpty())
			Expect(res.MessageID).NotTo(BeEmpty())
			Expect(res.NeedsClarification).To(BeFalse())
		})

		It("continues a conversation on a short gap even without shared entities", func() {
			first := record("add a FAB button", 0)
			second := record("make it purple", 10*time.Minute)

			Expect(second.Decision.Kind).To(Equal(boundary.Continue))
			Expect(second.Decision.Signal).To(Equal(boundary.SignalTimeGap))
			Expect(second.ConversationID).To(Equal(first.ConversationID))

			conv, ok := mem.Conversation(first.ConversationID)
			Expect(ok).To(BeTrue())
			Expect(conv.Messages).To(HaveLen(2))
			Expect(conv.Entities).To(ContainElements("button", "purple"))
		})

		It("closes the active conversation on an explicit marker", func() {
			first := record("add a FAB button", 0)
			second := record("new topic: fix the navbar", 2*time.Minute)

			Expect(second.Decision.Kind).To(Equal(boundary.StartNew))
			Expect(second.Decision.Marker).To(Equal("new topic"))
			Expect(second.ConversationID).NotTo(Equal(first.ConversationID))

			prev, _ := mem.Conversation(first.ConversationID)
			Expect(prev.Ended()).To(BeTrue())
			Expect(prev.Outcome).To(Equal(memory.OutcomeUnknown))
			Expect(prev.ClosingMarker).To(Equal("new topic"))

			active, ok := mem.ActiveConversation()
			Expect(ok).To(BeTrue())
			Expect(active.ID).To(Equal(second.ConversationID))
		})

		It("leaves the active conversation untouched when the new one cannot be stored", func() {
			failing := &startFailingDriver{Driver: driver}
			m, err := engram.New(ctx, engram.Config{
				Driver:    failing,
				Publisher: pub,
				Retry:     retry.Config{MaxAttempts: 2},
				Logger:    logger.Nop(),
			})
			Expect(err).NotTo(HaveOccurred())

			first, err := m.RecordMessage(ctx, "add search to the navbar", engram.Metadata{Timestamp: t0})
			Expect(err).NotTo(HaveOccurred())

			failing.armed = true
			_, err = m.RecordMessage(ctx, "new topic: fix the login form", engram.Metadata{Timestamp: t0.Add(time.Minute)})
			Expect(memory.IsKind(err, memory.KindStorageUnavailable)).To(BeTrue())

			active, ok := m.ActiveConversation()
			Expect(ok).To(BeTrue())
			Expect(active.ID).To(Equal(first.ConversationID))
			Expect(active.Ended()).To(BeFalse())
			Expect(active.Outcome).To(BeEmpty())
			Expect(active.ClosingMarker).To(BeEmpty())
			Expect(m.RecentConversations(0)).To(HaveLen(1))

			stored, err := driver.LoadConversations(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].Active).To(BeTrue())
		})

		It("starts over after a long gap", func() {
			first := record("add a FAB button", 0)
			second := record("make it purple", 5*time.Hour)
			Expect(second.Decision.Signal).To(Equal(boundary.SignalTimeGap))
			Expect(second.ConversationID).NotTo(Equal(first.ConversationID))
		})

		It("asks for clarification on ambiguous messages and records nothing", func() {
			first := record("add a FAB button", 0)
			res := record("update the docs", 20*time.Minute)

			Expect(res.Decision.Kind).To(Equal(boundary.Ambiguous))
			Expect(res.NeedsClarification).To(BeTrue())
			Expect(res.Prompt).To(ContainSubstring("new topic"))
			Expect(res.ConversationID).To(Equal(first.ConversationID))
			Expect(res.MessageID).To(BeEmpty())

			conv, _ := mem.Conversation(first.ConversationID)
			Expect(conv.Messages).To(HaveLen(1))
		})

		It("applies the caller's resolution", func() {
			first := record("add a FAB button", 0)
			res, err := mem.RecordMessage(ctx, "update the docs", engram.Metadata{
				Timestamp: t0.Add(20 * time.Minute),
				Resolve:   engram.ResolveNew,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision.Signal).To(Equal(boundary.SignalCaller))
			Expect(res.ConversationID).NotTo(Equal(first.ConversationID))

			res, err = mem.RecordMessage(ctx, "and the changelog", engram.Metadata{
				Timestamp: t0.Add(50 * time.Minute),
				Resolve:   engram.ResolveContinue,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision.Kind).To(Equal(boundary.Continue))
		})

		It("rejects unknown resolutions", func() {
			_, err := mem.RecordMessage(ctx, "hi", engram.Metadata{Resolve: "maybe"})
			Expect(memory.IsKind(err, memory.KindMalformedInput)).To(BeTrue())
		})

		It("starts a new conversation once the outcome is reported and the session went quiet", func() {
			first := record("add a FAB button", 0)
			Expect(mem.ReportOutcome(ctx, first.ConversationID, memory.OutcomeImplemented)).To(Succeed())

			res := record("update the docs", 45*time.Minute)
			Expect(res.Decision.Signal).To(Equal(boundary.SignalSessionState))
			Expect(res.ConversationID).NotTo(Equal(first.ConversationID))

			prev, _ := mem.Conversation(first.ConversationID)
			Expect(prev.Outcome).To(Equal(memory.OutcomeImplemented))
		})

		It("records reported files", func() {
			res, err := mem.RecordMessage(ctx, "fix the router", engram.Metadata{
				Timestamp: t0,
				Files:     []string{"router.go", "router_test.go"},
			})
			Expect(err).NotTo(HaveOccurred())

			conv, _ := mem.Conversation(res.ConversationID)
			Expect(conv.FilesTouched).To(Equal([]string{"router.go", "router_test.go"}))
		})
	})

	Describe("eviction and consolidation", func() {
		It("consolidates evicted conversations before returning", func() {
			mem = newMemory(engram.Config{MaxConversations: 2})
			first := record("add search and test it", 0)
			record("new topic: add export and test it", time.Minute)
			record("new topic: add dark mode and test it", 2*time.Minute)

			_, ok := mem.Conversation(first.ConversationID)
			Expect(ok).To(BeFalse())
			Expect(mem.RecentConversations(0)).To(HaveLen(2))

			found := mem.SearchPatterns("add {feature} and test it", "", 0)
			Expect(found).To(HaveLen(1))
			Expect(found[0].ObservedCount).To(Equal(1))

			markers := mem.SearchPatterns("", memory.CategoryBoundaryMarker, 0)
			Expect(markers).To(HaveLen(1))
			Expect(markers[0].Signature).To(Equal("new topic"))

			Expect(pub.types()).To(Equal([]string{
				eventstream.EventTypeConversationEvicted,
				eventstream.EventTypePatternsConsolidated,
			}))
		})

		It("consolidates asynchronously and drains on Close", func() {
			mem = newMemory(engram.Config{MaxConversations: 2, AsyncConsolidation: true})
			record("add search and test it", 0)
			record("new topic: add export and test it", time.Minute)
			record("new topic: add dark mode and test it", 2*time.Minute)

			Expect(mem.Close()).To(Succeed())
			Expect(pub.closed).To(BeTrue())
			Expect(mem.SearchPatterns("add -> test", memory.CategoryMultiIntentSequence, 0)).To(HaveLen(1))
			Expect(pub.types()).To(ContainElement(eventstream.EventTypePatternsConsolidated))
		})

		It("recovers both tiers after a restart", func() {
			mem = newMemory(engram.Config{MaxConversations: 2})
			record("add search and test it", 0)
			record("new topic: add export and test it", time.Minute)
			last := record("new topic: add dark mode and test it", 2*time.Minute)

			reopened := newMemory(engram.Config{MaxConversations: 2})
			Expect(reopened.RecentConversations(0)).To(HaveLen(2))
			active, ok := reopened.ActiveConversation()
			Expect(ok).To(BeTrue())
			Expect(active.ID).To(Equal(last.ConversationID))
			Expect(reopened.SearchPatterns("add {feature}", "", 0)).NotTo(BeEmpty())
		})
	})

	Describe("CloseConversation", func() {
		It("closes with the given outcome", func() {
			res := record("add search", 0)
			Expect(mem.CloseConversation(ctx, res.ConversationID, memory.OutcomeTested)).To(Succeed())

			conv, _ := mem.Conversation(res.ConversationID)
			Expect(conv.Outcome).To(Equal(memory.OutcomeTested))
			_, ok := mem.ActiveConversation()
			Expect(ok).To(BeFalse())
		})

		It("fails with InvalidState for unknown conversations", func() {
			err := mem.CloseConversation(ctx, "nope", memory.OutcomeTested)
			Expect(memory.IsKind(err, memory.KindInvalidState)).To(BeTrue())
		})
	})

	Describe("ReportFiles", func() {
		It("refuses files that hold rule definitions", func() {
			res := record("tweak validation", 0)
			err := mem.ReportFiles(ctx, res.ConversationID, "pkg/rules/defaults.go")
			Expect(memory.IsKind(err, memory.KindRuleViolation)).To(BeTrue())

			var merr *memory.Error
			Expect(errors.As(err, &merr)).To(BeTrue())
			Expect(merr.Alternatives).NotTo(BeEmpty())
		})
	})

	Describe("ValidateMutation", func() {
		It("blocks proposals that skip tests", func() {
			v := mem.ValidateMutation(rules.Request{
				Op:          rules.OpCodeChange,
				Target:      rules.TargetExternal,
				Description: "ship the fix and skip tests",
			})
			Expect(v.Decision).To(Equal(rules.Block))
			Expect(v.Alternatives()).NotTo(BeEmpty())
		})

		It("blocks any request targeting the rule set", func() {
			v := mem.ValidateMutation(rules.Request{Op: rules.OpUpdate, Target: rules.TargetRuleSet})
			Expect(v.Decision).To(Equal(rules.Block))
			Expect(v.Violations[0].Severity).To(Equal(rules.SeverityBlocked))
		})

		It("allows ordinary proposals", func() {
			v := mem.ValidateMutation(rules.Request{
				Op:          rules.OpCodeChange,
				Target:      rules.TargetExternal,
				Description: "add a failing test, then implement search",
			})
			Expect(v.Decision).To(Equal(rules.Allow))
			Expect(v.Violations).To(BeEmpty())
		})
	})

	Describe("Prune", func() {
		It("removes weak patterns and announces them", func() {
			mem = newMemory(engram.Config{MaxConversations: 1})
			record("make it purple", 0)
			record("new topic: fix the navbar", time.Minute)

			Expect(mem.SearchPatterns("make it", "", 0)).NotTo(BeEmpty())
			res, err := mem.Prune(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Signatures).To(ContainElement("make it {color}"))
			Expect(mem.SearchPatterns("make it", "", 0)).To(BeEmpty())
			Expect(pub.types()).To(ContainElement(eventstream.EventTypePatternsPruned))
		})
	})
})
