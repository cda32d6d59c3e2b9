package entity_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/entity"
)

var _ = Describe("Extract", func() {
	It("finds colors and components", func() {
		ents := entity.Extract("Add a FAB button")
		Expect(entity.Values(ents)).To(Equal([]string{"button", "fab"}))
		Expect(ents[0].Type).To(Equal(entity.TypeComponent))
	})

	It("finds file paths", func() {
		ents := entity.Extract("update pkg/entity/entity.go please")
		Expect(ents).To(HaveLen(1))
		Expect(ents[0].Type).To(Equal(entity.TypeFile))
		Expect(ents[0].Value).To(Equal("pkg/entity/entity.go"))
	})

	It("captures feature phrases after action verbs", func() {
		ents := entity.Extract("add dark mode and test it")
		Expect(ents).To(HaveLen(1))
		Expect(ents[0].Type).To(Equal(entity.TypeFeature))
		Expect(ents[0].Value).To(Equal("dark mode"))
	})

	It("does not capture an attribute change as a feature", func() {
		Expect(entity.Values(entity.Extract("make it purple"))).To(Equal([]string{"purple"}))
	})

	It("returns nothing for text without entities", func() {
		Expect(entity.Extract("sounds good to me")).To(BeEmpty())
	})
})

var _ = Describe("Normalize", func() {
	DescribeTable("replaces entities with placeholders",
		func(in, out string) {
			Expect(entity.Normalize(in)).To(Equal(out))
		},
		Entry("color", "Make it purple!", "make it {color}"),
		Entry("feature", "add login and test it", "add {feature} and test it"),
		Entry("another feature", "Add search, and test it", "add {feature} and test it"),
		Entry("component with color", "add a purple button", "add a {color} {component}"),
		Entry("file", "rename main.go to app.go", "rename {file} to {file}"),
		Entry("plain", "sounds good", "sounds good"),
	)

	It("reports placeholders", func() {
		Expect(entity.HasPlaceholder("make it {color}")).To(BeTrue())
		Expect(entity.HasPlaceholder("sounds good")).To(BeFalse())
	})
})

var _ = Describe("Intents", func() {
	It("lists action verbs in order", func() {
		Expect(entity.Intents("add search and then test it, then commit")).To(Equal([]string{"add", "test", "commit"}))
	})

	It("collapses immediate repeats", func() {
		Expect(entity.Intents("fix fix the bug")).To(Equal([]string{"fix"}))
	})
})

var _ = Describe("Topic", func() {
	It("prefers a feature phrase", func() {
		Expect(entity.Topic("please add dark mode to the app")).To(Equal("dark mode"))
	})

	It("falls back to a component", func() {
		Expect(entity.Topic("the button looks off")).To(Equal("button"))
	})

	It("falls back to the leading words", func() {
		Expect(entity.Topic("what do you think about this approach overall today")).To(Equal("what do you think about this"))
	})

	It("titles empty text", func() {
		Expect(entity.Topic("  ")).To(Equal("untitled"))
	})
})

var _ = Describe("References", func() {
	It("resolves a pronoun to an entity in the same message", func() {
		refs := entity.References("", "add a button and make it purple")
		Expect(refs).To(HaveLen(1))
		Expect(refs[0].Pronoun).To(Equal("it"))
		Expect(refs[0].Referent.Value).To(Equal("button"))
		Expect(refs[0].Referent.Type).To(Equal(entity.TypeComponent))
	})

	It("falls back to the previous message", func() {
		refs := entity.References("add a FAB button", "make it purple")
		Expect(refs).To(HaveLen(1))
		Expect(refs[0].Referent.Value).To(Equal("button"))
	})

	It("skips pronouns with no referent", func() {
		Expect(entity.References("", "make it purple")).To(BeEmpty())
	})
})
