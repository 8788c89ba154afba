package player

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jfmyers9/cadenza/internal/command"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultCommand is the synthesizer invocation used when none is configured.
// The track path is appended unless an argument contains {{path}}.
var DefaultCommand = []string{"timidity", "-Os", "--volume={{volume}}"}

const defaultPollInterval = 50 * time.Millisecond

// ExecEngine plays a track by running an external synthesizer process
type ExecEngine struct {
	argv         []string
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewExecEngine creates an engine running argv for each track
func NewExecEngine(argv []string, logger zerolog.Logger) *ExecEngine {
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	return &ExecEngine{
		argv:         argv,
		pollInterval: defaultPollInterval,
		logger:       logger.With().Str("component", "engine").Logger(),
	}
}

// Play runs the synthesizer until it exits or a transport command arrives
func (e *ExecEngine) Play(ctx context.Context, track Track, ctl Controls) command.Command {
	args := e.args(track)

	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(procCtx, args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		e.logger.Error().Err(err).Str("command", args[0]).Msg("Failed to start synthesizer")
		return command.New(command.Error)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	// Without a process handle pause is unavailable; playback still works
	proc, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		e.logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("Cannot inspect synthesizer process")
		proc = nil
	}
	if ctl.Paused() {
		e.suspend(proc, true)
	}

	e.logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("Synthesizer started")

	stop := func() {
		cancel()
		<-done
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					e.logger.Warn().Int("exit_code", exitErr.ExitCode()).Str("path", track.Path).Msg("Synthesizer failed")
				} else {
					e.logger.Warn().Err(err).Str("path", track.Path).Msg("Synthesizer failed")
				}
				return command.New(command.Error)
			}
			return command.New(command.TuneEnd)

		case <-ctx.Done():
			stop()
			return command.New(command.Quit)

		case <-ticker.C:
			for {
				c, ok := ctl.Poll()
				if !ok {
					break
				}
				if c.Kind.IsTransport() {
					stop()
					return c
				}
				if c.Kind == command.PauseToggle {
					e.suspend(proc, ctl.TogglePause())
					continue
				}
				if next, ok := ctl.Dispatch(c); ok {
					stop()
					return next
				}
			}
		}
	}
}

func (e *ExecEngine) suspend(proc *process.Process, paused bool) {
	if proc == nil {
		return
	}
	var err error
	if paused {
		err = proc.Suspend()
	} else {
		err = proc.Resume()
	}
	if err != nil {
		e.logger.Warn().Err(err).Bool("paused", paused).Msg("Failed to signal synthesizer")
	}
}

func (e *ExecEngine) args(track Track) []string {
	volume := strconv.Itoa(track.Volume)
	args := make([]string, 0, len(e.argv)+1)
	hasPath := false
	for _, a := range e.argv {
		if strings.Contains(a, "{{path}}") {
			hasPath = true
		}
		a = strings.ReplaceAll(a, "{{volume}}", volume)
		a = strings.ReplaceAll(a, "{{path}}", track.Path)
		args = append(args, a)
	}
	if !hasPath {
		args = append(args, track.Path)
	}
	return args
}
