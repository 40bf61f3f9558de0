package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

var (
	configFile string
	debug      bool

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "faceattend",
	Short: "Face recognition attendance kiosk",
	Long: `faceattend watches a camera, recognises enrolled faces and records the
first sighting of each person per day in an attendance ledger.

Enroll people with 'faceattend enroll', then start the kiosk with 'faceattend run'.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.WithError(err).Error("Command failed")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// setup loads configuration and logging before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	// .env file is optional, don't fail if not found
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env: %v\n", err)
	}

	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	cfg.ExpandPaths()
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err = logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
		logger, _ = logging.New(cfg.Logging.Level, "")
	}

	logger.WithFields(logging.Fields{
		"version":  Version,
		"data_dir": cfg.Storage.DataDir,
	}).Debug("faceattend starting")
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logger != nil {
		return logger.Close()
	}
	return nil
}

// galleryFiles returns the file store the gallery is kept in.
func galleryFiles() (*storage.FileStore, error) {
	files, err := storage.NewFileStore(cfg.Storage.EncryptionEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return files, nil
}
