package dotdir_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/dotdir"
)

var _ = Describe("dotdir.Manager pending message", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		m = dotdir.NewManager()
	})

	Describe("LoadPending", func() {
		It("returns nil when nothing is pending", func() {
			pending, err := m.LoadPending(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeNil())
		})

		It("loads a pending message written by hand", func() {
			data := `{"text":"update the docs","timestamp":"2025-03-01T10:20:00Z","files":["README.md"],"prompt":"new topic?"}`
			Expect(os.WriteFile(filepath.Join(tmpDir, "pending.json"), []byte(data), 0o600)).To(Succeed())

			pending, err := m.LoadPending(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.Text).To(Equal("update the docs"))
			Expect(pending.Files).To(Equal([]string{"README.md"}))
			Expect(pending.Timestamp.Equal(time.Date(2025, 3, 1, 10, 20, 0, 0, time.UTC))).To(BeTrue())
		})

		It("returns an error for invalid JSON", func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "pending.json"), []byte("not json"), 0o600)).To(Succeed())

			pending, err := m.LoadPending(tmpDir)
			Expect(err).To(HaveOccurred())
			Expect(pending).To(BeNil())
		})
	})

	Describe("SavePending", func() {
		It("rejects nil", func() {
			Expect(m.SavePending(nil, tmpDir)).To(HaveOccurred())
		})

		It("round-trips and overwrites", func() {
			first := &dotdir.PendingMessage{Text: "one", ConversationID: "c1"}
			Expect(m.SavePending(first, tmpDir)).To(Succeed())
			second := &dotdir.PendingMessage{Text: "two", ConversationID: "c2"}
			Expect(m.SavePending(second, tmpDir)).To(Succeed())

			pending, err := m.LoadPending(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.Text).To(Equal("two"))
			Expect(pending.ConversationID).To(Equal("c2"))
		})
	})

	Describe("ClearPending", func() {
		It("removes the file and tolerates a missing one", func() {
			Expect(m.SavePending(&dotdir.PendingMessage{Text: "one"}, tmpDir)).To(Succeed())
			Expect(m.ClearPending(tmpDir)).To(Succeed())
			Expect(m.ClearPending(tmpDir)).To(Succeed())

			pending, err := m.LoadPending(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeNil())
		})
	})
})
