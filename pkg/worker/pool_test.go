package worker_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/rules"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
	"github.com/papercomputeco/engram/pkg/worker"
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e *eventstream.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

// blockingIngester holds every Ingest until release is closed.
type blockingIngester struct {
	release chan struct{}
}

func (b *blockingIngester) Ingest(_ context.Context, conv memory.Conversation) (consolidation.Result, error) {
	<-b.release
	return consolidation.Result{ConversationID: conv.ID}, nil
}

type failingIngester struct{}

func (failingIngester) Ingest(_ context.Context, conv memory.Conversation) (consolidation.Result, error) {
	return consolidation.Result{ConversationID: conv.ID}, errors.New("boom")
}

func evictedConversation(id, text string) memory.Conversation {
	return memory.Conversation{
		ID: id,
		Messages: []memory.Message{
			{ID: id + "-m", ConversationID: id, Role: memory.RoleUser, Text: text},
		},
	}
}

var _ = Describe("Worker Pool", func() {
	var (
		ctx    context.Context
		engine *consolidation.Engine
		pub    *recordingPublisher
	)

	BeforeEach(func() {
		ctx = context.Background()
		pub = &recordingPublisher{}

		var err error
		engine, err = consolidation.New(ctx, consolidation.Config{
			Driver:     inmemory.NewDriver(),
			Rules:      rules.NewDefaultEngine(),
			PruneEvery: -1,
			Logger:     logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires an ingester and a logger", func() {
		_, err := worker.NewPool(&worker.Config{Logger: logger.Nop()})
		Expect(err).To(MatchError(ContainSubstring("ingester")))
		_, err = worker.NewPool(&worker.Config{Ingester: engine})
		Expect(err).To(MatchError(ContainSubstring("logger")))
	})

	Describe("Enqueue", func() {
		It("consolidates queued conversations before Close returns", func() {
			wp, err := worker.NewPool(&worker.Config{Ingester: engine, Publisher: pub, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())

			Expect(wp.Enqueue(worker.Job{Conversation: evictedConversation("c1", "make it purple")})).To(BeTrue())
			Expect(wp.Enqueue(worker.Job{Conversation: evictedConversation("c2", "make it blue")})).To(BeTrue())
			wp.Close()

			p, ok := engine.Get("make it {color}")
			Expect(ok).To(BeTrue())
			Expect(p.ObservedCount).To(Equal(2))
			Expect(pub.types()).To(Equal([]string{
				eventstream.EventTypePatternsConsolidated,
				eventstream.EventTypePatternsConsolidated,
			}))
		})

		It("drops jobs when the queue is full", func() {
			ing := &blockingIngester{release: make(chan struct{})}
			wp, err := worker.NewPool(&worker.Config{Ingester: ing, NumWorkers: 1, QueueSize: 1, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())

			accepted := 0
			for i := range 5 {
				if wp.Enqueue(worker.Job{Conversation: evictedConversation(string(rune('a'+i)), "x")}) {
					accepted++
				}
			}
			Expect(accepted).To(BeNumerically("<=", 2))
			Expect(accepted).To(BeNumerically(">=", 1))

			close(ing.release)
			wp.Close()
		})

		It("drops jobs after Close", func() {
			wp, err := worker.NewPool(&worker.Config{Ingester: engine, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())
			wp.Close()
			wp.Close()

			Expect(wp.Enqueue(worker.Job{Conversation: evictedConversation("c1", "make it purple")})).To(BeFalse())
		})

		It("keeps running after a failed ingest", func() {
			wp, err := worker.NewPool(&worker.Config{Ingester: failingIngester{}, Publisher: pub, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())

			Expect(wp.Enqueue(worker.Job{Conversation: evictedConversation("c1", "x")})).To(BeTrue())
			Expect(wp.Enqueue(worker.Job{Conversation: evictedConversation("c2", "y")})).To(BeTrue())
			wp.Close()

			Expect(pub.types()).To(BeEmpty())
		})
	})
})
