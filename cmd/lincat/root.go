package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docutag/lincat/config"
	"github.com/docutag/lincat/logger"
)

// cli carries what every subcommand needs once PersistentPreRunE has run.
type cli struct {
	v       *viper.Viper
	envFile string
	cfg     *config.Config
	log     logger.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "lincat",
		Short:         "Categorize links and notes with heuristics and a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "optional dotenv file read before the environment")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().Bool("log-pretty", false, "human readable colored logs")
	root.PersistentFlags().String("database-driver", "sqlite3", "sqlite3 or postgres")
	root.PersistentFlags().String("database-url", "", "sqlite file path or postgres DSN")
	bindFlags(c.v, root, map[string]string{
		"LINCAT_LOG_LEVEL":  "log-level",
		"LINCAT_LOG_PRETTY": "log-pretty",
		"DATABASE_DRIVER":   "database-driver",
		"DATABASE_URL":      "database-url",
	})

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(c.v, c.envFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		log, err := logger.New(cfg.LogLevel, cfg.PrettyLog)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		c.cfg = cfg
		c.log = log
		log.Debug("configuration loaded", logger.String("config", fmt.Sprintf("%+v", cfg.Redacted())))
		return nil
	}
	root.PersistentPostRun = func(*cobra.Command, []string) {
		if c.log != nil {
			_ = c.log.Sync()
		}
	}

	root.AddCommand(
		newServeCommand(c),
		newMigrateCommand(c),
		newCategorizeCommand(c),
	)
	return root
}

// bindFlags lets set flags override the environment for the given keys.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if flag == nil {
			panic("unknown flag " + name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(err)
		}
	}
}
