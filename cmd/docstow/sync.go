package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aigotowork/docstow/collection"
	"github.com/aigotowork/docstow/syncer"
	"github.com/aigotowork/docstow/syncer/hosted"
	"github.com/aigotowork/docstow/syncer/webdav"
)

func newSyncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the data root with a hosted database or a WebDAV folder",
	}
	cmd.AddCommand(
		newSyncRunCmd(a),
		newSyncStatusCmd(a),
		newSyncLoginCmd(a),
	)
	return cmd
}

// newBackend builds the backend selected by the sync settings.
func newBackend(settings syncer.Settings) (syncer.Backend, error) {
	var (
		backend syncer.Backend
		err     error
	)
	switch settings.Config.Mode {
	case syncer.ModeHosted:
		backend, err = hosted.New(settings)
	case syncer.ModeWebDAV:
		backend, err = webdav.New(settings)
	default:
		return nil, fmt.Errorf("unknown sync mode %q", settings.Config.Mode)
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// credentials returns the OS keychain, or the secret given through
// DOCSTOW_SECRET for headless runs.
func (a *app) credentials(ctx context.Context, m *collection.Manager) (syncer.CredentialStore, error) {
	secret := a.v.GetString("secret")
	if secret == "" {
		return syncer.KeyringCredentials{}, nil
	}
	cfg, err := syncer.LoadConfig(ctx, m.Config)
	if err != nil {
		return nil, err
	}
	creds := syncer.NewMemoryCredentials()
	if err := creds.SetSecret(cfg.Mode, cfg.Username(), secret); err != nil {
		return nil, err
	}
	return creds, nil
}

func parseDirection(s string) (syncer.Direction, error) {
	switch s {
	case "auto":
		return syncer.Auto, nil
	case "push":
		return syncer.Push, nil
	case "pull":
		return syncer.Pull, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (want auto, push or pull)", s)
	}
}

func newSyncRunCmd(a *app) *cobra.Command {
	var (
		direction string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync",
		Long: `Run one sync. "auto" pulls when the remote holds a newer snapshot than
the last sync of this machine and pushes otherwise. After a pull, stored
games are migrated to the current schema.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirection(direction)
			if err != nil {
				return err
			}

			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				creds, err := a.credentials(ctx, m)
				if err != nil {
					return err
				}

				errOut := cmd.ErrOrStderr()
				engine := syncer.New(m.Store, m.Config,
					syncer.WithBackendFactory(newBackend),
					syncer.WithCredentials(creds),
					syncer.WithOpTimeout(timeout),
					syncer.WithEngineLogger(a.logger),
					syncer.WithNotifier(syncer.NotifierFunc(func(event syncer.Event, status syncer.Status) {
						printEvent(errOut, event, status)
					})),
					syncer.WithAfterPull(func(ctx context.Context) error {
						return runMigrations(ctx, cmd, m)
					}),
				)
				return engine.Run(ctx, dir)
			})
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "auto", "auto, push or pull")
	cmd.Flags().DurationVar(&timeout, "timeout", syncer.DefaultOpTimeout, "bound of each remote request")
	return cmd
}

func printEvent(w io.Writer, event syncer.Event, status syncer.Status) {
	switch event {
	case syncer.EventSyncing:
		fmt.Fprintln(w, cyan("syncing..."))
	case syncer.EventSynced:
		fmt.Fprintf(w, "%s %s\n", green("synced"), dim(status.LastSync.Local().Format(time.DateTime)))
	case syncer.EventError:
		fmt.Fprintf(w, "%s %s\n", red("sync failed:"), status.Message)
	}
}

func newSyncStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync settings and the outcome of the latest run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				cfg, err := syncer.LoadConfig(ctx, m.Config)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				enabled := red("disabled")
				if cfg.Enabled {
					enabled = green("enabled")
				}
				fmt.Fprintf(out, "%s %s (%s)\n", bold("sync:"), enabled, cfg.Mode)
				switch cfg.Mode {
				case syncer.ModeHosted:
					fmt.Fprintf(out, "%s %s/%s as %s\n", bold("remote:"), cfg.Hosted.Endpoint, cfg.Hosted.Database, cfg.Hosted.Username)
				case syncer.ModeWebDAV:
					fmt.Fprintf(out, "%s %s%s as %s\n", bold("remote:"), cfg.WebDAV.URL, cfg.WebDAV.Path, cfg.WebDAV.Username)
				}

				last := "never"
				if t := cfg.LastSync(); !t.IsZero() {
					last = t.Local().Format(time.DateTime)
				}
				fmt.Fprintf(out, "%s %s\n", bold("last sync:"), last)

				state := string(cfg.Status.State)
				switch cfg.Status.State {
				case syncer.StateSuccess:
					state = green(state)
				case syncer.StateError:
					state = red(state)
				}
				fmt.Fprintf(out, "%s %s", bold("status:"), state)
				if cfg.Status.Message != "" {
					fmt.Fprintf(out, " %s", cfg.Status.Message)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

func newSyncLoginCmd(a *app) *cobra.Command {
	var (
		mode          string
		endpoint      string
		database      string
		url           string
		remotePath    string
		username      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Configure and enable sync, storing the password in the OS keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := a.v.GetString("secret")
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("a password is required (--password-stdin or DOCSTOW_SECRET)")
			}

			return a.withManager(cmd.Context(), func(ctx context.Context, m *collection.Manager) error {
				cfg, err := syncer.LoadConfig(ctx, m.Config)
				if err != nil {
					return err
				}
				cfg.Enabled = true
				cfg.Mode = syncer.Mode(mode)
				switch cfg.Mode {
				case syncer.ModeHosted:
					cfg.Hosted = syncer.HostedConfig{Endpoint: endpoint, Database: database, Username: username}
				case syncer.ModeWebDAV:
					cfg.WebDAV = syncer.WebDAVConfig{URL: url, Path: remotePath, Username: username}
				}
				if err := cfg.Validate(); err != nil {
					return err
				}

				if err := (syncer.KeyringCredentials{}).SetSecret(cfg.Mode, username, password); err != nil {
					return err
				}
				if err := syncer.SaveConfig(ctx, m.Config, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s sync for %s\n", green("enabled"), cfg.Mode, username)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", string(syncer.ModeHosted), "hosted or webdav")
	flags.StringVar(&endpoint, "endpoint", "", "hosted server URL")
	flags.StringVar(&database, "database", "", "hosted database name")
	flags.StringVar(&url, "url", "", "WebDAV server URL")
	flags.StringVar(&remotePath, "path", webdav.DefaultPath, "WebDAV folder")
	flags.StringVar(&username, "username", "", "account name")
	flags.BoolVar(&passwordStdin, "password-stdin", false, "read the password or token from stdin")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
