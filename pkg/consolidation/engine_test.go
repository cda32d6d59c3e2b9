package consolidation_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/consolidation"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/retry"
	"github.com/papercomputeco/engram/pkg/rules"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
)

var errDisk = errors.New("disk on fire")

// flakyDriver fails the next n pattern writes.
type flakyDriver struct {
	*inmemory.Driver

	mu       sync.Mutex
	failures int
}

func (d *flakyDriver) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *flakyDriver) PutPattern(ctx context.Context, p *memory.Pattern) error {
	d.mu.Lock()
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return errDisk
	}
	d.mu.Unlock()
	return d.Driver.PutPattern(ctx, p)
}

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		driver *flakyDriver
		engine *consolidation.Engine
	)

	newEngine := func(c consolidation.Config) *consolidation.Engine {
		c.Driver = driver
		if c.Rules == nil {
			c.Rules = rules.NewDefaultEngine()
		}
		c.Retry = retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond}
		c.Logger = logger.Nop()
		e, err := consolidation.New(ctx, c)
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = &flakyDriver{Driver: inmemory.NewDriver()}
		engine = newEngine(consolidation.Config{})
	})

	Describe("Ingest", func() {
		It("inserts new patterns at the initial confidence", func() {
			res, err := engine.Ingest(ctx, conversationOf("c1", "make it purple"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(1))
			Expect(res.Reinforced).To(Equal(0))

			p, ok := engine.Get("make it {color}")
			Expect(ok).To(BeTrue())
			Expect(p.Confidence).To(Equal(memory.InitialConfidence))
			Expect(p.ObservedCount).To(Equal(1))
			Expect(p.Examples).To(Equal([]string{"make it purple"}))
			Expect(p.ID).NotTo(BeEmpty())
		})

		It("reinforces a signature seen in three conversations", func() {
			texts := []string{"add search and test it", "add dark mode and test it", "add export and test it"}
			for i, t := range texts {
				_, err := engine.Ingest(ctx, conversationOf(fmt.Sprintf("c%d", i), t))
				Expect(err).NotTo(HaveOccurred())
			}

			p, ok := engine.Get("add {feature} and test it")
			Expect(ok).To(BeTrue())
			Expect(p.ObservedCount).To(Equal(3))
			Expect(p.Confidence).To(BeNumerically(">=", 0.70))
			Expect(p.Examples).To(Equal(texts))

			seq, ok := engine.Get("add -> test")
			Expect(ok).To(BeTrue())
			Expect(seq.ObservedCount).To(Equal(3))
		})

		It("caps confidence at 0.99 and keeps a bounded example buffer", func() {
			engine = newEngine(consolidation.Config{ExampleLimit: 3, PruneEvery: -1})
			for i := range 15 {
				_, err := engine.Ingest(ctx, conversationOf(fmt.Sprintf("c%d", i), fmt.Sprintf("make it purple %d", i)))
				Expect(err).NotTo(HaveOccurred())
			}

			p, _ := engine.Get("make it {color} {number}")
			Expect(p.ObservedCount).To(Equal(15))
			Expect(p.Confidence).To(BeNumerically("<=", memory.MaxConfidence))
			Expect(p.Confidence).To(BeNumerically("~", 0.99, 1e-9))
			Expect(p.Examples).To(Equal([]string{"make it purple 12", "make it purple 13", "make it purple 14"}))
		})

		It("rejects malformed conversations without touching the registry", func() {
			_, err := engine.Ingest(ctx, memory.Conversation{ID: "empty"})
			Expect(memory.IsKind(err, memory.KindMalformedInput)).To(BeTrue())

			bad := conversationOf("c1", "make it purple")
			bad.Messages[0].ConversationID = "other"
			_, err = engine.Ingest(ctx, bad)
			Expect(memory.IsKind(err, memory.KindMalformedInput)).To(BeTrue())
			Expect(engine.Len()).To(Equal(0))
		})

		It("consumes a conversation only once", func() {
			conv := conversationOf("c1", "make it purple")
			_, err := engine.Ingest(ctx, conv)
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.Ingest(ctx, conv)
			Expect(memory.IsKind(err, memory.KindInvalidState)).To(BeTrue())

			p, ok := engine.Get("make it {color}")
			Expect(ok).To(BeTrue())
			Expect(p.ObservedCount).To(Equal(1))
			Expect(p.Confidence).To(BeNumerically("~", memory.InitialConfidence, 1e-9))
		})

		It("skips candidates blocked by the rule engine", func() {
			noSecrets := rules.Rule{
				ID:    "no-secrets",
				Layer: rules.LayerTierBoundary,
				Predicate: func(req rules.Request) (rules.Severity, string) {
					if req.Pattern != nil && strings.Contains(req.Pattern.Signature, "password") {
						return rules.SeverityBlocked, "looks like a credential"
					}
					return rules.SeverityOK, ""
				},
				Alternatives: []string{"Drop credentials from the conversation"},
			}
			re, err := rules.NewEngine(append(rules.DefaultRules(), noSecrets)...)
			Expect(err).NotTo(HaveOccurred())
			engine = newEngine(consolidation.Config{Rules: re})

			res, err := engine.Ingest(ctx, conversationOf("c1", "make it purple", "set the password to 42"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(1))
			Expect(res.Skipped).To(Equal(1))
			_, ok := engine.Get("set the password to {number}")
			Expect(ok).To(BeFalse())
		})

		It("retries a failed write once", func() {
			driver.failNext(1)
			res, err := engine.Ingest(ctx, conversationOf("c1", "make it purple"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(1))
		})

		It("surfaces StorageUnavailable and leaves the pattern unmerged", func() {
			driver.failNext(2)
			_, err := engine.Ingest(ctx, conversationOf("c1", "make it purple"))
			Expect(memory.IsKind(err, memory.KindStorageUnavailable)).To(BeTrue())
			Expect(errors.Is(err, errDisk)).To(BeTrue())
			Expect(engine.Len()).To(Equal(0))
		})

		It("stops between merges when cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			res, err := engine.Ingest(cctx, conversationOf("c1", "make it purple"))
			Expect(err).To(MatchError(context.Canceled))
			Expect(res.Added).To(Equal(0))
		})

		It("prunes automatically every PruneEvery ingests", func() {
			engine = newEngine(consolidation.Config{PruneEvery: 2})
			_, err := engine.Ingest(ctx, conversationOf("c1", "make it purple"))
			Expect(err).NotTo(HaveOccurred())
			res, err := engine.Ingest(ctx, conversationOf("c2", "fix the navbar"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Pruned).To(ConsistOf("make it {color}", "fix the {component}"))
			Expect(engine.Len()).To(Equal(0))
		})
	})

	Describe("Prune", func() {
		It("removes a single-observation pattern at the initial confidence", func() {
			_, err := engine.Ingest(ctx, conversationOf("c1", "make it purple"))
			Expect(err).NotTo(HaveOccurred())

			res, err := engine.Prune(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Removed).To(Equal(1))
			Expect(res.Signatures).To(Equal([]string{"make it {color}"}))
			_, ok := engine.Get("make it {color}")
			Expect(ok).To(BeFalse())

			persisted, err := driver.LoadPatterns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(persisted).To(BeEmpty())
		})

		It("keeps reinforced patterns", func() {
			for i := range 2 {
				_, err := engine.Ingest(ctx, conversationOf(fmt.Sprintf("c%d", i), "make it purple"))
				Expect(err).NotTo(HaveOccurred())
			}

			res, err := engine.Prune(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Removed).To(Equal(0))
			Expect(engine.Len()).To(Equal(1))
		})

		It("leaves no prunable pattern behind", func() {
			for i := range 5 {
				_, err := engine.Ingest(ctx, conversationOf(fmt.Sprintf("c%d", i), fmt.Sprintf("make it purple %d", i), "fix the navbar"))
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := engine.Ingest(ctx, conversationOf("x", "add a modal"))
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.Prune(ctx)
			Expect(err).NotTo(HaveOccurred())
			for _, p := range engine.Query(consolidation.Query{}) {
				Expect(p.ObservedCount < 3 && p.Confidence < memory.InitialConfidence).To(BeFalse())
				Expect(p.Prunable()).To(BeFalse())
			}
		})

		It("does not disturb results already returned to readers", func() {
			_, err := engine.Ingest(ctx, conversationOf("c1", "make it purple"))
			Expect(err).NotTo(HaveOccurred())

			snapshot := engine.Query(consolidation.Query{})
			_, err = engine.Prune(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot).To(HaveLen(1))
			Expect(snapshot[0].Signature).To(Equal("make it {color}"))
		})
	})

	Describe("Query", func() {
		BeforeEach(func() {
			engine = newEngine(consolidation.Config{PruneEvery: -1})
			for i := range 3 {
				_, err := engine.Ingest(ctx, conversationOf(fmt.Sprintf("a%d", i), "add search and test it"))
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := engine.Ingest(ctx, conversationOf("b", "make it purple"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("filters by category", func() {
			got := engine.Query(consolidation.Query{Category: memory.CategoryMultiIntentSequence})
			Expect(got).To(HaveLen(1))
			Expect(got[0].Signature).To(Equal("add -> test"))
		})

		It("filters by signature prefix", func() {
			got := engine.Query(consolidation.Query{Prefix: "make"})
			Expect(got).To(HaveLen(1))
			Expect(got[0].Signature).To(Equal("make it {color}"))
		})

		It("matches text in signatures and examples", func() {
			got := engine.Query(consolidation.Query{Text: "PURPLE"})
			Expect(got).To(HaveLen(1))
			Expect(got[0].Signature).To(Equal("make it {color}"))
		})

		It("orders by confidence and applies the limit", func() {
			got := engine.Query(consolidation.Query{Limit: 2})
			Expect(got).To(HaveLen(2))
			Expect(got[0].Confidence).To(BeNumerically(">=", got[1].Confidence))
			Expect(got[0].ObservedCount).To(Equal(3))
		})

		It("returns copies", func() {
			got := engine.Query(consolidation.Query{Prefix: "make"})
			got[0].Examples[0] = "mutated"
			p, _ := engine.Get("make it {color}")
			Expect(p.Examples[0]).To(Equal("make it purple"))
		})
	})

	Describe("New", func() {
		It("recovers the registry from the driver", func() {
			_, err := engine.Ingest(ctx, conversationOf("c1", "make it purple"))
			Expect(err).NotTo(HaveOccurred())

			reopened := newEngine(consolidation.Config{})
			p, ok := reopened.Get("make it {color}")
			Expect(ok).To(BeTrue())
			Expect(p.ObservedCount).To(Equal(1))
		})
	})
})
