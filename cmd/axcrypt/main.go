package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/axcrypt/internal/config"
	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
)

var (
	// Global flags
	cfgFile     string
	jsonOutput  bool
	verbose     bool
	sessionName string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "axcrypt",
	Short: "Encrypt, decrypt and securely wipe files",
	Long: `axcrypt encrypts files into password protected .axx containers,
decrypts them into private working copies and keeps those copies in sync
with their encrypted originals until they are wiped.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initialize,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default searches ./axcrypt.* and ~/.config/axcrypt)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&sessionName, "session", "default",
		"Session name")
}

func initialize(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	loaded, err := loader.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}

	if used := loader.ConfigFile(); used != "" {
		logger.WithField("file", used).Debug("Loaded config file")
	}
	return nil
}

// signalContext is canceled on the first interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			if !jsonOutput {
				printWarning("\nInterrupted, cancelling...")
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, models.ErrUsage):
		return 2
	case errors.Is(err, models.ErrPassphraseInvalid):
		return 3
	case errors.Is(err, models.ErrIntegrity):
		return 4
	case errors.Is(err, models.ErrFileLocked), errors.Is(err, models.ErrSharingViolation):
		return 5
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

// reportedError marks an error already printed as part of JSON output.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

func main() {
	err := rootCmd.Execute()
	var done *reportedError
	if err != nil && !errors.As(err, &done) {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"code":    models.ErrorCode(err),
				"error":   err.Error(),
			})
		} else {
			printError("%v", err)
		}
	}
	if code := exitCode(err); code != 0 {
		os.Exit(code)
	}
}
