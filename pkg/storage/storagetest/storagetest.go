// Package storagetest holds the behavioural specs every storage.Driver must
// pass. Driver packages register them from their own test suites.
package storagetest

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/storage"
)

// Conversation builds a closed conversation with n messages starting at start.
func Conversation(id string, start time.Time, n int) memory.Conversation {
	c := memory.Conversation{
		ID:        id,
		Title:     "topic " + id,
		StartedAt: start,
	}
	for i := range n {
		c.Messages = append(c.Messages, memory.Message{
			ID:             id + "-m" + string(rune('a'+i)),
			ConversationID: id,
			Timestamp:      start.Add(time.Duration(i) * time.Minute),
			Role:           memory.RoleUser,
			Text:           "add a button",
			Entities:       []string{"button"},
		})
	}
	c.AddEntities("button")
	end := start.Add(time.Hour)
	c.EndedAt = &end
	c.Outcome = memory.OutcomeTested
	return c
}

// DescribeDriver registers the shared driver specs under name. newDriver is
// called before each test and the returned driver is closed after it.
func DescribeDriver(name string, newDriver func(ctx context.Context) storage.Driver) bool {
	return Describe(name+" conformance", func() {
		var (
			ctx    context.Context
			driver storage.Driver
			base   time.Time
		)

		BeforeEach(func() {
			ctx = context.Background()
			driver = nil
			driver = newDriver(ctx)
			base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		})

		AfterEach(func() {
			if driver != nil {
				Expect(driver.Close()).To(Succeed())
			}
		})

		Describe("conversations", func() {
			It("returns nothing from an empty store", func() {
				convs, err := driver.LoadConversations(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(convs).To(BeEmpty())
			})

			It("round trips a conversation with its messages", func() {
				c := Conversation("c1", base, 3)
				c.AddFiles("main.go", "go.mod")
				c.ClosingMarker = "new topic"
				c.Consolidated = true
				Expect(driver.SaveConversation(ctx, &c)).To(Succeed())

				convs, err := driver.LoadConversations(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(convs).To(HaveLen(1))

				got := convs[0]
				Expect(got.ID).To(Equal("c1"))
				Expect(got.Title).To(Equal("topic c1"))
				Expect(got.StartedAt.Equal(base)).To(BeTrue())
				Expect(got.EndedAt).NotTo(BeNil())
				Expect(got.EndedAt.Equal(base.Add(time.Hour))).To(BeTrue())
				Expect(got.Outcome).To(Equal(memory.OutcomeTested))
				Expect(got.Entities).To(Equal([]string{"button"}))
				Expect(got.FilesTouched).To(Equal([]string{"go.mod", "main.go"}))
				Expect(got.ClosingMarker).To(Equal("new topic"))
				Expect(got.Consolidated).To(BeTrue())
				Expect(got.Messages).To(HaveLen(3))
				Expect(got.Messages[0].ID).To(Equal("c1-ma"))
				Expect(got.Messages[2].ID).To(Equal("c1-mc"))
				Expect(got.Messages[1].Entities).To(Equal([]string{"button"}))
			})

			It("keeps conversations ordered by start time", func() {
				later := Conversation("later", base.Add(time.Hour), 1)
				earlier := Conversation("earlier", base, 1)
				Expect(driver.SaveConversation(ctx, &later)).To(Succeed())
				Expect(driver.SaveConversation(ctx, &earlier)).To(Succeed())

				convs, err := driver.LoadConversations(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(convs).To(HaveLen(2))
				Expect(convs[0].ID).To(Equal("earlier"))
				Expect(convs[1].ID).To(Equal("later"))
			})

			It("evicts and inserts in one call", func() {
				old := Conversation("old", base, 2)
				Expect(driver.SaveConversation(ctx, &old)).To(Succeed())

				fresh := Conversation("fresh", base.Add(time.Hour), 1)
				fresh.EndedAt = nil
				fresh.Active = true
				Expect(driver.SaveConversation(ctx, &fresh, "old")).To(Succeed())

				convs, err := driver.LoadConversations(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(convs).To(HaveLen(1))
				Expect(convs[0].ID).To(Equal("fresh"))
				Expect(convs[0].Active).To(BeTrue())
				Expect(convs[0].EndedAt).To(BeNil())
			})

			It("closes, evicts and inserts in one rollover", func() {
				old := Conversation("old", base, 1)
				Expect(driver.SaveConversation(ctx, &old)).To(Succeed())

				current := Conversation("current", base.Add(time.Hour), 2)
				current.EndedAt = nil
				current.Active = true
				Expect(driver.SaveConversation(ctx, &current)).To(Succeed())

				ended := current.Clone()
				endedAt := base.Add(2 * time.Hour)
				ended.EndedAt = &endedAt
				ended.Active = false
				ended.ClosingMarker = "new topic"

				next := Conversation("next", base.Add(3*time.Hour), 1)
				next.EndedAt = nil
				next.Active = true
				Expect(driver.RolloverConversation(ctx, &ended, &next, "old")).To(Succeed())

				convs, err := driver.LoadConversations(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(convs).To(HaveLen(2))
				Expect(convs[0].ID).To(Equal("current"))
				Expect(convs[0].Active).To(BeFalse())
				Expect(convs[0].ClosingMarker).To(Equal("new topic"))
				Expect(convs[0].Messages).To(HaveLen(2))
				Expect(convs[1].ID).To(Equal("next"))
				Expect(convs[1].Active).To(BeTrue())
			})

			It("appends a message and updates the header", func() {
				c := Conversation("c1", base, 1)
				c.EndedAt = nil
				c.Active = true
				Expect(driver.SaveConversation(ctx, &c)).To(Succeed())

				msg := memory.Message{
					ID:             "c1-new",
					ConversationID: "c1",
					Timestamp:      base.Add(10 * time.Minute),
					Role:           memory.RoleUser,
					Text:           "make it purple",
					Entities:       []string{"purple"},
				}
				c.Messages = append(c.Messages, msg)
				c.AddEntities("purple")
				Expect(driver.AppendMessage(ctx, &c, msg)).To(Succeed())

				convs, err := driver.LoadConversations(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(convs[0].Messages).To(HaveLen(2))
				Expect(convs[0].Messages[1].Text).To(Equal("make it purple"))
				Expect(convs[0].Entities).To(Equal([]string{"button", "purple"}))
			})

			It("fails to append to an unknown conversation", func() {
				c := Conversation("ghost", base, 1)
				err := driver.AppendMessage(ctx, &c, c.Messages[0])
				Expect(err).To(HaveOccurred())
				Expect(err).To(BeAssignableToTypeOf(storage.NotFoundError{}))
			})
		})

		Describe("patterns", func() {
			pattern := func(sig string, count int, conf float64) *memory.Pattern {
				return &memory.Pattern{
					ID:               "p-" + sig,
					Signature:        sig,
					Category:         memory.CategoryConversationPattern,
					Confidence:       conf,
					ObservedCount:    count,
					Examples:         []string{"make it purple"},
					LastReinforcedAt: base,
					CreatedAt:        base,
				}
			}

			It("upserts by signature", func() {
				Expect(driver.PutPattern(ctx, pattern("make it {color}", 1, 0.6))).To(Succeed())
				Expect(driver.PutPattern(ctx, pattern("make it {color}", 2, 0.65))).To(Succeed())

				ps, err := driver.LoadPatterns(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(ps).To(HaveLen(1))
				Expect(ps[0].ObservedCount).To(Equal(2))
				Expect(ps[0].Confidence).To(Equal(0.65))
				Expect(ps[0].Examples).To(Equal([]string{"make it purple"}))
				Expect(ps[0].LastReinforcedAt.Equal(base)).To(BeTrue())
			})

			It("deletes by signature", func() {
				Expect(driver.PutPattern(ctx, pattern("a {color}", 1, 0.6))).To(Succeed())
				Expect(driver.PutPattern(ctx, pattern("b {color}", 1, 0.6))).To(Succeed())
				Expect(driver.DeletePatterns(ctx, "a {color}")).To(Succeed())
				Expect(driver.DeletePatterns(ctx)).To(Succeed())

				ps, err := driver.LoadPatterns(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(ps).To(HaveLen(1))
				Expect(ps[0].Signature).To(Equal("b {color}"))
			})
		})
	})
}
