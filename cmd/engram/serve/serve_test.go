package servecmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	servecmder "github.com/papercomputeco/engram/cmd/engram/serve"
)

var _ = Describe("NewServeCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := servecmder.NewServeCmd()
		Expect(cmd.Use).To(Equal("serve"))
	})

	It("registers the shared config flags", func() {
		cmd := servecmder.NewServeCmd()
		for _, name := range []string{
			"listen",
			"storage-provider",
			"sqlite",
			"postgres-dsn",
			"max-conversations",
			"recent-window",
			"async-consolidation",
			"workers",
			"eventstream-provider",
			"eventstream-brokers",
			"eventstream-topic",
			"log-file",
			"disable-mcp",
		} {
			Expect(cmd.Flags().Lookup(name)).NotTo(BeNil(), name)
		}
	})

	It("defaults the listen flag from the config defaults", func() {
		cmd := servecmder.NewServeCmd()
		flag := cmd.Flags().Lookup("listen")
		Expect(flag.Shorthand).To(Equal("l"))
		Expect(flag.DefValue).To(Equal(":8082"))
	})

	It("rejects positional arguments", func() {
		cmd := servecmder.NewServeCmd()
		cmd.SetArgs([]string{"extra"})
		Expect(cmd.Execute()).To(HaveOccurred())
	})
})
