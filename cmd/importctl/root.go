package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/Reconcile/internal/catalog"
	"github.com/JonMunkholm/Reconcile/internal/config"
	"github.com/JonMunkholm/Reconcile/internal/core"
	_ "github.com/JonMunkholm/Reconcile/internal/flavors" // Register all flavors
	"github.com/JonMunkholm/Reconcile/internal/logging"
	"github.com/JonMunkholm/Reconcile/internal/store"
	mw "github.com/JonMunkholm/Reconcile/internal/web/middleware"
)

// cli holds state shared by all subcommands.
type cli struct {
	v          *viper.Viper
	configFile string
	owner      string
	output     string

	cfg     *config.Config
	store   core.Store
	service *core.Service
}

// flagKeys binds persistent flags to configuration keys.
var flagKeys = map[string]string{
	"db-driver":        "DB_DRIVER",
	"database-url":     "DATABASE_URL",
	"sqlite-path":      "SQLITE_PATH",
	"catalog-url":      "CATALOG_URL",
	"catalog-snapshot": "CATALOG_SNAPSHOT",
	"log-level":        "LOG_LEVEL",
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "importctl",
		Short: "Reconcile CSV imports against the title catalog",
		Long: `importctl starts and drives import sessions: it parses and validates a
CSV file, matches every row against the catalog, asks you to resolve
ambiguous rows and commits the results.

Settings come from flags, environment variables, a .env file and an
optional YAML config file, in that order of precedence.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.close()
		},
	}

	root.AddGroup(
		&cobra.Group{ID: "session", Title: "Session Commands:"},
		&cobra.Group{ID: "files", Title: "File Commands:"},
	)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default is ./importctl.yaml)")
	flags.StringVar(&c.owner, "owner", envOr("IMPORT_OWNER", mw.DefaultOwner), "operator that owns the session")
	flags.StringVarP(&c.output, "output", "o", "table", "output format: table, json or yaml")
	flags.String("db-driver", "", "database driver: sqlite or postgres")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("sqlite-path", "", "SQLite database file")
	flags.String("catalog-url", "", "catalog HTTP API base URL")
	flags.String("catalog-snapshot", "", "catalog YAML snapshot file")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	for flag, key := range flagKeys {
		if err := c.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	root.AddCommand(
		c.startCmd(),
		c.respondCmd(),
		c.statusCmd(),
		c.pauseCmd(),
		c.resumeCmd(),
		c.cancelCmd(),
		c.retryCmd(),
		c.checkCmd(),
		c.exportCmd(),
		c.auditCmd(),
		c.templateCmd(),
		c.flavorsCmd(),
		c.migrateCmd(),
	)
	return root
}

// setup loads configuration and opens the store and service. Offline
// commands only need the flavor registry.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations["offline"] == "true" {
		logging.SetupWriter(os.Stderr, envOr("LOG_LEVEL", "info"), "text")
		return nil
	}
	if err := c.loadConfig(); err != nil {
		return err
	}
	return c.open(cmd.Context())
}

func (c *cli) loadConfig() error {
	// .env is optional and never overrides the real environment.
	_ = godotenv.Load()

	if c.configFile != "" {
		c.v.SetConfigFile(c.configFile)
	} else {
		c.v.AddConfigPath(".")
		c.v.SetConfigName("importctl")
		c.v.SetConfigType("yaml")
	}
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	c.v.AutomaticEnv()
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	cfg, err := config.LoadFrom(viperLookup(c.v))
	if err != nil {
		return err
	}
	// Each command drives its session to a checkpoint before exiting.
	cfg.Import.Async = false
	c.cfg = cfg

	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

func (c *cli) open(ctx context.Context) error {
	st, err := store.Open(ctx, c.cfg.Database.StoreOptions())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	cat, err := catalog.Open(c.cfg.Catalog.Options())
	if err != nil {
		st.Close()
		return err
	}
	c.store = st
	c.service = core.NewService(st, cat, c.cfg.Import.ServiceConfig())
	return nil
}

func (c *cli) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

// viperLookup exposes viper's merged flags, env and file values to the
// config loader.
func viperLookup(v *viper.Viper) config.LookupFunc {
	return func(key string) (string, bool) {
		if !v.IsSet(key) {
			return "", false
		}
		val := v.GetString(key)
		if val == "" {
			if list := v.GetStringSlice(key); len(list) > 0 {
				val = strings.Join(list, ",")
			}
		}
		return val, val != ""
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
