package nop_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/memory"
)

var _ = Describe("Publisher", func() {
	var (
		ctx context.Context
		p   *nop.Publisher
	)

	BeforeEach(func() {
		ctx = context.Background()
		p = nop.NewPublisher()
	})

	It("rejects nil events", func() {
		Expect(p.Publish(ctx, nil)).To(MatchError(eventstream.ErrNilEvent))
		Expect(p.Counts()).To(BeEmpty())
	})

	It("counts discarded events by type", func() {
		now := time.Now()
		conv := &memory.Conversation{ID: "c-1", Title: "Add FAB button", StartedAt: now}

		Expect(p.Publish(ctx, eventstream.NewEvictionEvent(conv, now))).To(Succeed())
		Expect(p.Publish(ctx, eventstream.NewEvictionEvent(conv, now))).To(Succeed())
		Expect(p.Publish(ctx, &eventstream.Event{EventType: "custom"})).To(Succeed())

		counts := p.Counts()
		Expect(counts).To(HaveKeyWithValue(eventstream.EventTypeConversationEvicted, 2))
		Expect(counts).To(HaveKeyWithValue("custom", 1))
	})

	It("returns a copy of the counts", func() {
		Expect(p.Publish(ctx, &eventstream.Event{EventType: "custom"})).To(Succeed())
		p.Counts()["custom"] = 99
		Expect(p.Counts()).To(HaveKeyWithValue("custom", 1))
	})

	It("refuses events after Close", func() {
		Expect(p.Close()).To(Succeed())
		Expect(p.Publish(ctx, &eventstream.Event{EventType: "custom"})).To(MatchError(eventstream.ErrClosed))
	})
})
