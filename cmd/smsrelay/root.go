package main

import (
	"fmt"
	"os"

	"smsrelay/internal/config"
	"smsrelay/internal/di"
	"smsrelay/internal/logging"
	"smsrelay/internal/observability"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagBinding maps a CLI flag to a dotted configuration key.
type flagBinding struct {
	flag string
	key  string
}

type cli struct {
	viper    *viper.Viper
	bindings []flagBinding

	configPath string
	envFiles   []string
}

func newRootCommand() *cobra.Command {
	_, root := newCLI()
	return root
}

func newCLI() (*cli, *cobra.Command) {
	c := &cli{viper: viper.New()}

	root := &cobra.Command{
		Use:   "smsrelay",
		Short: "Relay SMS conversations into Slack threads",
		Long: `smsrelay receives carrier webhooks, keeps one conversation per phone number
and mirrors it into a Slack thread that agents reply from.

Configuration is read from built-in defaults, an optional YAML file
(--config or SMSRELAY_CONFIG), the environment and finally flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "YAML configuration file")
	flags.StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("storage-driver", "", "durable store (postgres, sqlite, memory, file)")
	flags.String("database-url", "", "postgres connection string")
	flags.String("storage-path", "", "sqlite or file store path")
	c.bind(root, "log-level", "observability.log_level")
	c.bind(root, "log-format", "observability.log_format")
	c.bind(root, "storage-driver", "storage.driver")
	c.bind(root, "database-url", "storage.dsn")
	c.bind(root, "storage-path", "storage.path")

	root.AddCommand(newServeCommand(c))
	root.AddCommand(newMigrateCommand(c))
	root.AddCommand(newConversationsCommand(c))
	return c, root
}

// bind registers name (persistent or local to cmd) under a configuration key.
func (c *cli) bind(cmd *cobra.Command, name, key string) {
	flag := cmd.PersistentFlags().Lookup(name)
	if flag == nil {
		flag = cmd.Flags().Lookup(name)
	}
	if flag == nil {
		panic(fmt.Sprintf("flag %q is not defined", name))
	}
	_ = c.viper.BindPFlag(key, flag)
	c.bindings = append(c.bindings, flagBinding{flag: name, key: key})
}

// overrides collects the flags the user actually set.
func (c *cli) overrides(cmd *cobra.Command) config.Overrides {
	out := config.Overrides{}
	for _, b := range c.bindings {
		if cmd.Flags().Changed(b.flag) {
			out[b.key] = c.viper.GetString(b.key)
		}
	}
	return out
}

// load resolves the runtime configuration and installs the process logger.
func (c *cli) load(cmd *cobra.Command) (config.RuntimeConfig, config.Metadata, error) {
	if err := config.LoadDotEnv(c.envFiles...); err != nil {
		return config.RuntimeConfig{}, config.Metadata{}, err
	}
	cfg, meta, err := config.Load(
		config.WithConfigPath(c.configPath),
		config.WithOverrides(c.overrides(cmd)),
	)
	if err != nil {
		return config.RuntimeConfig{}, config.Metadata{}, err
	}

	logging.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: os.Stderr,
	}))
	di.Version = version
	return cfg, meta, nil
}
