package mcp_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/api/mcp"
	"github.com/papercomputeco/engram/pkg/engram"
	engramlogger "github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
)

var _ = Describe("MCP Server", func() {
	var mem *engram.Memory

	BeforeEach(func() {
		var err error
		mem, err = engram.New(context.Background(), engram.Config{
			Driver: inmemory.NewDriver(),
			Logger: engramlogger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mem.Close)
	})

	Describe("NewServer", func() {
		It("returns an error when memory is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Logger: engramlogger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("memory is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Memory: mem})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("creates a server with valid config", func() {
			server, err := mcp.NewServer(mcp.Config{Memory: mem, Logger: engramlogger.Nop()})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Handler()).NotTo(BeNil())
		})

		It("creates an empty server in noop mode", func() {
			server, err := mcp.NewServer(mcp.Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Handler()).NotTo(BeNil())
		})
	})
})
