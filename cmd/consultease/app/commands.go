// Package app provides the entry point for the consultease command-line
// application.
package app

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/consultease/consultease/pkg/config"
	"github.com/consultease/consultease/pkg/logger"
	"github.com/consultease/consultease/pkg/storage/sqlite"
)

// Process exit codes. Anything else exits 1.
const (
	exitConfig      = 2
	exitPersistence = 3
	exitTransport   = 4
)

// exitError carries a process exit code alongside the underlying error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:               "consultease",
	DisableAutoGenTag: true,
	Short:             "ConsultEase coordinates faculty presence and student consultations",
	Long: `ConsultEase is the central coordination system for faculty consultation desks.

It tracks faculty presence from BLE-beacon desk units over MQTT, routes
student consultation requests to the right desk, and keeps every state
change durable in SQLite. The serve command runs the coordinator; the
remaining commands manage faculty, student, and administrator records.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the consultease CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newFacultyCmd())
	rootCmd.AddCommand(newStudentCmd())
	rootCmd.AddCommand(newAdminCmd())
	rootCmd.AddCommand(newConsultationsCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true

	return rootCmd
}

// loadConfig reads the configuration from the --config path or the
// default search locations.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, exitWith(exitConfig, err)
	}
	return cfg, nil
}

// openStore opens the database for a management command. Management
// commands skip the single-instance lock so they work while serve is
// running; SQLite's own busy handling serializes the writes.
func openStore(ctx context.Context) (*sqlite.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := sqlite.NewStore(ctx, sqlite.Config{Path: cfg.DB.URL, SkipLock: true})
	if err != nil {
		return nil, exitWith(exitPersistence, err)
	}
	return store, nil
}
