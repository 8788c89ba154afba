package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jfmyers9/cadenza/internal/command"
	"github.com/jfmyers9/cadenza/internal/config"
	"github.com/jfmyers9/cadenza/internal/history"
	"github.com/jfmyers9/cadenza/internal/instance"
	"github.com/jfmyers9/cadenza/internal/player"
	"github.com/jfmyers9/cadenza/internal/playlist"
	"github.com/rs/zerolog"
)

// quitGrace is how long a shutdown signal waits for the loop to quit on its
// own before the engine is killed
const quitGrace = 500 * time.Millisecond

// Config holds daemon configuration
type Config struct {
	QueueCapacity int
	PlaylistFile  string // Playlist saved on exit and reloaded on start
	StateFile     string // Status file read by the now command and the TUI
	HistoryDB     string // Play log database; empty disables history
	HistoryMaxAge time.Duration
	CacheDir      string // Archive extraction cache

	Options   player.Options
	AutoStart bool     // Start playing once the playlist is loaded
	Files     []string // Files given on the command line

	Engine player.Engine
	Output player.Output

	// Channel receives messages from other processes; nil disables the
	// server
	Channel     instance.MessageChannel
	PollTimeout time.Duration

	// ConfigDir is watched for changes to playback settings; empty
	// disables watching
	ConfigDir string
}

// Options converts the playback section of the configuration
func Options(cfg *config.Config) player.Options {
	return player.Options{
		Loop:     cfg.Playback.Loop,
		Shuffle:  cfg.Playback.Shuffle,
		Continue: cfg.Playback.Continue,
		AutoExit: cfg.Playback.AutoExit,
		Volume:   cfg.Playback.Volume,
		Add: playlist.AddOptions{
			Expand: cfg.Playback.Expand,
			Dedup:  cfg.Playback.Dedup,
			Filter: cfg.Playback.Filter,
		},
	}
}

// Daemon coordinates the playback loop, the instance server, status
// publishing and the play log
type Daemon struct {
	config   Config
	queue    *command.Queue
	playlist *playlist.Playlist
	loop     *player.Loop
	server   *instance.Server
	state    *State
	history  *history.Store
	session  string
	logger   zerolog.Logger

	savedRevision uint64 // playlist revision last written, loop goroutine only

	mu      sync.Mutex
	options player.Options // latest settings, read by the loop on ApplySettings
}

// New creates a new Daemon instance
func New(cfg Config, logger zerolog.Logger) (*Daemon, error) {
	d := &Daemon{
		config:  cfg,
		queue:   command.NewQueue(cfg.QueueCapacity),
		state:   NewState(cfg.StateFile),
		session: uuid.NewString(),
		options: cfg.Options,
		logger:  logger.With().Str("component", "daemon").Logger(),
	}

	if cfg.HistoryDB != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryDB), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := history.NewStore(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		d.history = store
	}

	d.playlist = playlist.New(playlist.WithExpander(playlist.NewExpander(cfg.CacheDir)))

	d.loop = player.New(player.Config{
		Queue:    d.queue,
		Playlist: d.playlist,
		Engine:   cfg.Engine,
		Output:   cfg.Output,
		Options:  cfg.Options,
		Settings: d.settings,
		Observer: observer{d},
		Logger:   logger,
	})

	if cfg.Channel != nil {
		d.server = instance.NewServer(cfg.Channel, d.queue, cfg.PollTimeout, logger)
	}

	return d, nil
}

// Queue returns the command queue feeding the loop
func (d *Daemon) Queue() *command.Queue {
	return d.queue
}

// Run starts the daemon and blocks until the loop quits
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	loopDone := make(chan struct{})

	// First signal asks the loop to quit, second signal forces exit
	go func() {
		select {
		case <-sigChan:
		case <-loopDone:
			return
		}
		d.logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
		d.queue.Push(command.New(command.Quit))

		select {
		case <-loopDone:
			return
		case <-sigChan:
			d.logger.Warn().Msg("Second shutdown signal received, forcing exit")
			os.Exit(1)
		case <-time.After(quitGrace):
			// The engine did not react in time
			cancel()
		}

		select {
		case <-loopDone:
		case <-sigChan:
			d.logger.Warn().Msg("Second shutdown signal received, forcing exit")
			os.Exit(1)
		}
	}()

	err := d.run(ctx)
	close(loopDone)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// run is the main daemon loop
func (d *Daemon) run(ctx context.Context) error {
	d.logger.Info().Str("session", d.session).Msg("Starting daemon")

	if err := d.state.Update(d.loop.Status()); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to write status")
	}

	d.enqueueStartup()

	if d.config.ConfigDir != "" {
		if _, err := config.Watch(d.config.ConfigDir, d.configChanged); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to watch config")
			// Not a fatal error, continue
		}
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	var wg sync.WaitGroup

	// Start instance server
	if d.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.server.Run(serverCtx); err != nil {
				d.logger.Error().Err(err).Msg("Instance server error")
			}
		}()
	}

	// Periodically write status changes skipped by throttling
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.flushState(serverCtx)
	}()

	err := d.loop.Run(ctx)

	stopServer()
	wg.Wait()

	d.savePlaylist()

	d.logger.Info().Msg("Daemon stopped")
	return err
}

// enqueueStartup loads the saved playlist and the command line files
func (d *Daemon) enqueueStartup() {
	saved, err := playlist.ReadFile(d.config.PlaylistFile)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", d.config.PlaylistFile).Msg("Failed to read saved playlist")
	}
	if len(saved) > 0 {
		d.queue.Push(command.Files(saved, 0))
	}

	if len(d.config.Files) > 0 {
		d.queue.Push(command.Files(d.config.Files, command.SelectFirst))
	}

	if d.config.AutoStart && (len(saved) > 0 || len(d.config.Files) > 0) {
		d.queue.Push(command.New(command.Load))
	}

	d.logger.Info().
		Int("saved", len(saved)).
		Int("files", len(d.config.Files)).
		Bool("auto_start", d.config.AutoStart).
		Msg("Queued startup playlist")
}

func (d *Daemon) savePlaylist() {
	if d.config.PlaylistFile == "" {
		return
	}
	if err := d.playlist.SaveFile(d.config.PlaylistFile); err != nil {
		d.logger.Error().Err(err).Msg("Failed to save playlist")
		return
	}
	d.savedRevision = d.playlist.Revision()
	d.logger.Info().Int("entries", d.playlist.Len()).Msg("Saved playlist")
}

// playlistChanged keeps the saved playlist current while the player runs
func (d *Daemon) playlistChanged() {
	if d.playlist.Revision() != d.savedRevision {
		d.savePlaylist()
	}
}

func (d *Daemon) flushState(ctx context.Context) {
	ticker := time.NewTicker(defaultPersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := d.state.Flush(); err != nil {
				d.logger.Warn().Err(err).Msg("Failed to write status")
			}
			return
		case <-ticker.C:
			if err := d.state.Flush(); err != nil {
				d.logger.Warn().Err(err).Msg("Failed to write status")
			}
		}
	}
}

// configChanged runs on the config watcher goroutine
func (d *Daemon) configChanged(cfg *config.Config) {
	d.mu.Lock()
	prev := d.options
	d.options = Options(cfg)
	next := d.options
	d.mu.Unlock()

	if next == prev {
		d.logger.Debug().Msg("Configuration rewritten without changes")
		return
	}

	// A volume change alone keeps the current track playing
	volumeOnly := prev
	volumeOnly.Volume = next.Volume
	if volumeOnly == next {
		d.logger.Info().Int("volume", next.Volume).Msg("Volume setting changed")
		d.queue.Push(command.Volume(next.Volume - prev.Volume))
		return
	}

	d.logger.Info().Msg("Configuration changed")
	d.queue.Push(command.New(command.ApplySettings))
}

// settings is read by the loop when it applies settings
func (d *Daemon) settings() player.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.options
}

// Shutdown releases resources after Run returned
func (d *Daemon) Shutdown() error {
	d.logger.Info().Msg("Shutting down daemon")

	if err := d.state.Reset(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to write status")
	}

	if d.history == nil {
		return nil
	}

	// Cleanup old records
	if d.config.HistoryMaxAge > 0 {
		if _, err := d.history.Cleanup(context.Background(), d.config.HistoryMaxAge); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to cleanup history")
		}
	}

	if err := d.history.Close(); err != nil {
		return fmt.Errorf("failed to close history: %w", err)
	}
	return nil
}

// observer receives loop events on the loop goroutine
type observer struct {
	d *Daemon
}

func (o observer) StatusChanged(st player.Status) {
	if err := o.d.state.Update(st); err != nil {
		o.d.logger.Warn().Err(err).Msg("Failed to write status")
	}
	o.d.playlistChanged()
}

func (o observer) TrackFinished(entry playlist.Entry, result command.Kind, started time.Time) {
	if o.d.history == nil {
		return
	}
	play := history.Play{
		Session: o.d.session,
		Path:    entry.Path,
		Title:   entry.Title,
		Result:  result.String(),
		Started: started,
		Ended:   time.Now(),
	}
	if _, err := o.d.history.Record(context.Background(), play); err != nil {
		o.d.logger.Warn().Err(err).Msg("Failed to record play")
		// Not a fatal error, continue
	}
}

func (o observer) NothingPlayable() {
	if err := o.d.state.SetNotice("nothing playable in playlist"); err != nil {
		o.d.logger.Warn().Err(err).Msg("Failed to write status")
	}
}

func (o observer) OutputFailed(err error) {
	if serr := o.d.state.SetNotice("cannot open output: " + err.Error()); serr != nil {
		o.d.logger.Warn().Err(serr).Msg("Failed to write status")
	}
}
