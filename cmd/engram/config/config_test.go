package configcmder_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/cmd/engram/cmdtest"
	configcmder "github.com/papercomputeco/engram/cmd/engram/config"
	"github.com/papercomputeco/engram/pkg/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var tmpDir string

	run := func(args ...string) (string, error) {
		return cmdtest.Run(tmpDir, configcmder.NewConfigCmd(), args...)
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	Describe("set subcommand", func() {
		It("sets a config value successfully", func() {
			_, err := run("set", "storage.provider", "postgres")
			Expect(err).NotTo(HaveOccurred())

			data, err := os.ReadFile(filepath.Join(tmpDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())

			cfg, err := config.ParseConfigTOML(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Provider).To(Equal("postgres"))
		})

		It("rejects unknown keys", func() {
			_, err := run("set", "invalid_key", "value")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("requires exactly two arguments", func() {
			_, err := run("set", "storage.provider")
			Expect(err).To(HaveOccurred())
		})

		It("rejects zero arguments", func() {
			_, err := run("set")
			Expect(err).To(HaveOccurred())
		})

		It("rejects invalid integer values", func() {
			_, err := run("set", "memory.max_conversations", "not-a-number")
			Expect(err).To(HaveOccurred())
		})

		It("rejects unknown providers", func() {
			_, err := run("set", "storage.provider", "mongo")
			Expect(err).To(HaveOccurred())
		})

		It("rejects malformed durations", func() {
			_, err := run("set", "storage.retry_backoff", "soon")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			_, err := run("set", "memory.max_conversations", "42")
			Expect(err).NotTo(HaveOccurred())

			out, err := run("get", "memory.max_conversations")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("42"))
		})

		It("reports defaults for an unset file", func() {
			out, err := run("get", "api.listen")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(":8082"))
		})

		It("rejects unknown keys", func() {
			_, err := run("get", "invalid_key")
			Expect(err).To(HaveOccurred())
		})

		It("requires exactly one argument", func() {
			_, err := run("get")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("list subcommand", func() {
		It("lists every key when no config exists", func() {
			out, err := run("list")
			Expect(err).NotTo(HaveOccurred())
			for _, key := range config.ValidConfigKeys() {
				Expect(out).To(ContainSubstring(key))
			}
		})

		It("shows values that were set", func() {
			_, err := run("set", "eventstream.topic", "memory.events")
			Expect(err).NotTo(HaveOccurred())

			out, err := run("list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(`"memory.events"`))
		})

		It("rejects any arguments", func() {
			_, err := run("list", "extra")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Config output", func() {
	var tmpDir string

	run := func(args ...string) (string, error) {
		return cmdtest.Run(tmpDir, configcmder.NewConfigCmd(), args...)
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("gets several keys at once", func() {
		out, err := run("get", "api.listen", "memory.max_conversations")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(":8082"))
		Expect(out).To(ContainSubstring("20"))
	})

	It("shows the previous value when a key changes", func() {
		out, err := run("set", "memory.max_conversations", "30")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("20"))
		Expect(out).To(ContainSubstring("30"))
	})

	It("groups list output by section", func() {
		out, err := run("list")
		Expect(err).NotTo(HaveOccurred())
		for _, section := range []string{"[storage]", "[memory]", "[api]", "[eventstream]"} {
			Expect(out).To(ContainSubstring(section))
		}
		Expect(out).To(ContainSubstring("(default)"))
	})

	It("limits list --changed to keys that differ from the defaults", func() {
		_, err := run("set", "memory.workers", "4")
		Expect(err).NotTo(HaveOccurred())

		out, err := run("list", "--changed")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("memory.workers"))
		Expect(out).NotTo(ContainSubstring("api.listen"))
		Expect(out).NotTo(ContainSubstring("(default)"))
	})
})
