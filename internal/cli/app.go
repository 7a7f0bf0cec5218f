// Package cli implements the filestore command-line tool.
package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/meigma/filestore"
	"github.com/meigma/filestore/internal/config"
	"github.com/meigma/filestore/internal/logging"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	metaConfig = "config"
	metaLogger = "logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "filestore",
		Usage:   "capacity-bounded local blob store",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			rmCommand(),
			statCommand(),
			verifyCommand(),
			dfCommand(),
			purgeCommand(),
			gcCommand(),
			runCommand(),
		},
		Before: setup,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a YAML config file",
			EnvVars: []string{"FILESTORE_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "root",
			Aliases: []string{"r"},
			Usage:   "storage root directory",
		},
		&cli.StringFlag{
			Name:  "capacity",
			Usage: "storage capacity, e.g. 10GiB",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "json, text or auto",
		},
	}
}

// flagKeys maps global flags to config keys.
var flagKeys = map[string]string{
	"root":       "root",
	"capacity":   "capacity",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// setup loads configuration and builds the logger before any command runs.
func setup(c *cli.Context) error {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	cfg, err := config.Load(c.String("config"), overrides)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return err
	}
	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaLogger] = logger
	return nil
}

func loadedConfig(c *cli.Context) config.Config {
	cfg, _ := c.App.Metadata[metaConfig].(config.Config)
	return cfg
}

func loadedLogger(c *cli.Context) *slog.Logger {
	if l, ok := c.App.Metadata[metaLogger].(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// withStore opens and starts the configured store, runs fn and stops the
// store again.
func withStore(c *cli.Context, fn func(*filestore.Store) error) (err error) {
	cfg := loadedConfig(c)
	capacity, err := cfg.CapacityBytes()
	if err != nil {
		return err
	}
	s, err := filestore.New(cfg.Root, capacity,
		filestore.WithShardDepth(cfg.Shard.Depth),
		filestore.WithShardFanout(cfg.Shard.Fanout),
		filestore.WithSweepInterval(cfg.Lifetime.Interval),
		filestore.WithStopTimeout(cfg.Shutdown.Timeout),
		filestore.WithLogger(loadedLogger(c)),
	)
	if err != nil {
		return err
	}
	if err := s.Start(c.Context); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Stop())
	}()
	return fn(s)
}

// keyArg returns the first positional argument.
func keyArg(c *cli.Context) (string, error) {
	key := c.Args().First()
	if key == "" {
		return "", errors.New("a key is required")
	}
	return key, nil
}
