package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jfmyers9/cadenza/internal/config"
	"github.com/jfmyers9/cadenza/internal/daemon"
	"github.com/jfmyers9/cadenza/internal/instance"
	"github.com/jfmyers9/cadenza/internal/player"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// startupTimeout bounds the instance handshake
const startupTimeout = 10 * time.Second

func init() {
	f := rootCmd.Flags()
	f.String("policy", "", "What to do when cadenza is already running (forward, forward-clear, replace, refuse, terminate, ignore)")
	f.String("data-dir", "", "Data directory for playlist, status and history (default: ~/.local/share/cadenza)")
	f.Bool("shuffle", false, "Play in shuffle order")
	f.Bool("loop", false, "Start over after the last track")
	f.Bool("continue", true, "Advance to the next track when one ends")
	f.Bool("auto-exit", false, "Quit when the end of the playlist is reached")
	f.Bool("no-start", false, "Load the playlist without starting playback")
	f.Int("volume", 0, "Initial volume (0-800)")
}

// applyFlags overrides configuration with the flags that were given
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("policy") {
		cfg.Instance.Policy, _ = f.GetString("policy")
	}
	if f.Changed("data-dir") {
		cfg.DataDir, _ = f.GetString("data-dir")
	}
	if f.Changed("shuffle") {
		cfg.Playback.Shuffle, _ = f.GetBool("shuffle")
	}
	if f.Changed("loop") {
		cfg.Playback.Loop, _ = f.GetBool("loop")
	}
	if f.Changed("continue") {
		cfg.Playback.Continue, _ = f.GetBool("continue")
	}
	if f.Changed("auto-exit") {
		cfg.Playback.AutoExit, _ = f.GetBool("auto-exit")
	}
	if noStart, _ := f.GetBool("no-start"); noStart {
		cfg.Playback.AutoStart = false
	}
	if f.Changed("volume") {
		cfg.Playback.Volume, _ = f.GetInt("volume")
	}
}

func runPlayer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cmd, cfg)

	policy, err := instance.ParsePolicy(cfg.Instance.Policy)
	if err != nil {
		return err
	}

	// Set up logging
	logger := setupLogger(logFile, logLevel)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	coord := &instance.Coordinator{
		LockPath:      cfg.LockPath(),
		SocketPath:    cfg.SocketPath(),
		Policy:        policy,
		Retries:       cfg.Instance.Retries,
		RetryInterval: cfg.Instance.RetryInterval,
		Logger:        logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	session, err := coord.Start(ctx, args)
	cancel()
	if err != nil {
		if errors.Is(err, instance.ErrRefused) {
			return fmt.Errorf("cadenza is already running")
		}
		return fmt.Errorf("failed to start: %w", err)
	}
	if session.Forwarded {
		return nil
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release instance lock")
		}
	}()

	logger.Info().
		Str("version", version).
		Str("data_dir", cfg.DataDir).
		Msg("Starting cadenza")

	argv := cfg.Engine.Command
	if len(argv) == 0 {
		argv = player.DefaultCommand
	}

	daemonCfg := daemon.Config{
		QueueCapacity: cfg.QueueCapacity,
		PlaylistFile:  cfg.PlaylistPath(),
		StateFile:     cfg.StatusPath(),
		CacheDir:      cfg.CacheDir(),
		Options:       daemon.Options(cfg),
		AutoStart:     cfg.Playback.AutoStart,
		Files:         args,
		Engine:        player.NewExecEngine(argv, logger),
		Output:        player.NewOutput(cfg.Engine.OutputDevice),
		Channel:       session.Channel,
		PollTimeout:   cfg.Instance.PollTimeout,
		ConfigDir:     config.GetConfigDir(),
	}
	if cfg.History.Enabled {
		daemonCfg.HistoryDB = cfg.HistoryPath()
		daemonCfg.HistoryMaxAge = cfg.History.MaxAge
	}

	d, err := daemon.New(daemonCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Run daemon (blocks until the loop quits)
	runErr := d.Run()

	// Graceful shutdown
	if err := d.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return fmt.Errorf("player error: %w", runErr)
	}

	logger.Info().Msg("Player stopped")
	return nil
}

// setupLogger creates a logger with the specified configuration
func setupLogger(logFile, logLevel string) zerolog.Logger {
	// Parse log level
	level := zerolog.InfoLevel
	switch logLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	// Set up output
	var output *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			output = os.Stderr
		} else {
			output = f
		}
	} else {
		output = os.Stderr
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	// Use pretty console output if logging to stderr
	if output == os.Stderr {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return logger
}
