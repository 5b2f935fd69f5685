package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/skypro1111/chunkrec/internal/config"
	"github.com/skypro1111/chunkrec/internal/localstore"
	"github.com/skypro1111/chunkrec/internal/logging"
	"github.com/skypro1111/chunkrec/internal/remote"
)

const version = "1.0.0"

// app carries what every command needs once flags are parsed
type app struct {
	configPath string
	config     *config.Config
	logger     *slog.Logger
	logCloser  io.Closer
}

// NewRootCmd creates the chunkctl command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "chunkctl",
		Short:         "Record audio in chunks and manage chunked sessions",
		Long:          "chunkctl captures audio into fixed-duration chunks, uploads them to a chunk service and keeps a local copy for retry, recovery and export.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				a.logCloser.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (.yaml or .toml)")

	rootCmd.AddCommand(newRecordCmd(a))
	rootCmd.AddCommand(newRetryCmd(a))
	rootCmd.AddCommand(newExportCmd(a))
	rootCmd.AddCommand(newTranscribeCmd(a))
	rootCmd.AddCommand(newRecoverCmd(a))
	rootCmd.AddCommand(newSessionCmd(a))

	return rootCmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.config = cfg
	a.logger, a.logCloser = logging.New(cfg.Logging)
	return nil
}

func (a *app) remoteClient() (*remote.Client, error) {
	return remote.New(remote.Config{
		BaseURL:    a.config.Client.ServerURL,
		Timeout:    a.config.Client.GetTimeoutDuration(),
		MaxRetries: a.config.Upload.MaxRetries,
	}, a.logger)
}

// localStore opens the chunk cache; a disabled cache is not an error
func (a *app) localStore() (localstore.Store, error) {
	if !a.config.LocalStore.Enabled {
		return localstore.Disabled{}, nil
	}
	s, err := localstore.OpenSQLite(a.config.LocalStore.Path)
	if err != nil {
		return nil, fmt.Errorf("opening local cache: %w", err)
	}
	return s, nil
}

func (a *app) owner() string {
	if a.config.Client.Principal != "" {
		return a.config.Client.Principal
	}
	return "chunkctl"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
