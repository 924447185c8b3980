// Command docstow inspects and edits a docstow data root and runs sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/collection"
)

var (
	// Version information
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds what every command shares: resolved settings and the logger.
type app struct {
	v      *viper.Viper
	logger docstow.Logger
	logOut io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: docstow.NewNoopLogger()}

	cmd := &cobra.Command{
		Use:          "docstow",
		Short:        "Local-first JSON document store for a game library",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Root().PersistentFlags())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logOut != nil {
				return a.logOut.Close()
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("root", defaultRoot(), "data root directory")
	flags.String("config", "", "settings file (default: docstow.yaml in the user config dir)")
	flags.String("log-file", "", "write JSON logs to this file, rotated")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("no-color", false, "disable colored output")

	cmd.AddCommand(
		newGetCmd(a),
		newSetCmd(a),
		newDocsCmd(a),
		newRmCmd(a),
		newAttachCmd(a),
		newMigrateCmd(a),
		newSyncCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func defaultRoot() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".docstow"
	}
	return filepath.Join(dir, "docstow", "data")
}

// setup resolves settings from flags, DOCSTOW_* environment variables and
// the optional settings file, in that order of precedence.
func (a *app) setup(flags *pflag.FlagSet) error {
	v := a.v
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix("DOCSTOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("docstow")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "docstow"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read settings: %w", err)
		}
	}

	if v.GetBool("no-color") {
		disableColor()
	}
	return a.setupLogging()
}

func (a *app) setupLogging() error {
	level, err := zerolog.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	file := a.v.GetString("log-file")
	if file == "" {
		a.logger = docstow.NewNoopLogger()
		return nil
	}

	out := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	a.logOut = out
	a.logger = docstow.NewZerologLogger(zerolog.New(out).Level(level).With().Timestamp().Logger())
	return nil
}

// withManager opens the data root for the duration of fn.
func (a *app) withManager(ctx context.Context, fn func(ctx context.Context, m *collection.Manager) error) error {
	opts := append(collection.StoreOptions(), docstow.WithLogger(a.logger))
	store, err := docstow.Open(a.v.GetString("root"), opts...)
	if err != nil {
		if errors.Is(err, docstow.ErrLocked) {
			return fmt.Errorf("data root is in use by another docstow process: %w", err)
		}
		return err
	}
	defer store.Close()

	return fn(ctx, collection.New(store))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docstow version %s (%s)\n", Version, GitCommit)
		},
	}
}
