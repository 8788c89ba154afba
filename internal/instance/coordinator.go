package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Policy decides what a starting process does when an instance is already
// running
type Policy string

const (
	PolicyForward      Policy = "forward"       // hand files over and exit
	PolicyForwardClear Policy = "forward-clear" // clear its playlist first
	PolicyReplace      Policy = "replace"       // terminate it and take over
	PolicyRefuse       Policy = "refuse"        // exit with ErrRefused
	PolicyTerminate    Policy = "terminate"     // terminate it and exit too
	PolicyIgnore       Policy = "ignore"        // run beside it
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyForward, PolicyForwardClear, PolicyReplace, PolicyRefuse, PolicyTerminate, PolicyIgnore:
		return p, nil
	case "":
		return PolicyForward, nil
	default:
		return "", fmt.Errorf("unknown instance policy %q", s)
	}
}

// ErrRefused is returned under PolicyRefuse when another instance runs
var ErrRefused = errors.New("instance: another instance is already running")

// secondarySuffix names the lock and socket of an instance started with
// PolicyIgnore
const secondarySuffix = "-2"

// Session is the outcome of Start. When Forwarded is set the work was
// handed to the running instance and the caller should exit; otherwise the
// caller is the running instance and serves Channel.
type Session struct {
	Forwarded bool
	Lock      *Lock
	Channel   MessageChannel
}

// Close releases the instance lock
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	return s.Lock.Release()
}

// Coordinator implements the startup policy
type Coordinator struct {
	LockPath      string
	SocketPath    string
	Policy        Policy
	Retries       int           // lock attempts after asking the holder to terminate
	RetryInterval time.Duration // wait between lock attempts
	Logger        zerolog.Logger

	// NewChannel opens the channel at a socket path; defaults to a
	// SocketChannel
	NewChannel func(path string) MessageChannel
	// Kill force-terminates a process; defaults to gopsutil
	Kill func(pid int) error
}

// Start acquires the instance lock or applies the policy against the
// current holder. files are forwarded under the forward policies.
func (c *Coordinator) Start(ctx context.Context, files []string) (*Session, error) {
	logger := c.Logger.With().Str("component", "coordinator").Logger()

	lock, err := Acquire(c.LockPath)
	if err == nil {
		return c.session(lock, c.SocketPath), nil
	}
	if !errors.Is(err, ErrLocked) {
		return nil, err
	}

	logger.Info().Str("policy", string(c.Policy)).Msg("Another instance is running")
	ch := c.channel(c.SocketPath)

	switch c.Policy {
	case PolicyForward, PolicyForwardClear, "":
		err := c.forward(ctx, ch, files)
		if errors.Is(err, ErrNoInstance) {
			// The holder may be exiting; one more try before giving up
			if lock, lerr := Acquire(c.LockPath); lerr == nil {
				logger.Info().Msg("Previous instance went away, running")
				return c.session(lock, c.SocketPath), nil
			}
		}
		if err != nil {
			return nil, err
		}
		logger.Info().Int("files", len(files)).Msg("Forwarded to running instance")
		return &Session{Forwarded: true}, nil

	case PolicyReplace:
		lock, err := c.replace(ctx, ch, logger)
		if err != nil {
			return nil, err
		}
		return c.session(lock, c.SocketPath), nil

	case PolicyRefuse:
		return nil, ErrRefused

	case PolicyTerminate:
		if err := Send(ctx, ch, Message{Name: NameTerminate}); err != nil {
			return nil, err
		}
		logger.Info().Msg("Asked running instance to terminate")
		return &Session{Forwarded: true}, nil

	case PolicyIgnore:
		lock, err := Acquire(c.LockPath + secondarySuffix)
		if err != nil {
			return nil, fmt.Errorf("acquire secondary lock: %w", err)
		}
		return c.session(lock, c.SocketPath+secondarySuffix), nil

	default:
		return nil, fmt.Errorf("unknown instance policy %q", c.Policy)
	}
}

func (c *Coordinator) forward(ctx context.Context, ch MessageChannel, files []string) error {
	if c.Policy == PolicyForwardClear {
		if err := Send(ctx, ch, Message{Name: NameClearPlaylist}); err != nil {
			return err
		}
	}
	if len(files) == 0 {
		return nil
	}
	return Send(ctx, ch, FilesMessage(files))
}

// replace asks the holder to terminate and waits for the lock, killing the
// holder when it does not let go in time
func (c *Coordinator) replace(ctx context.Context, ch MessageChannel, logger zerolog.Logger) (*Lock, error) {
	if err := Send(ctx, ch, Message{Name: NameTerminate}); err != nil {
		logger.Warn().Err(err).Msg("Could not ask running instance to terminate")
	}

	if lock, err := c.retryAcquire(ctx); err == nil || !errors.Is(err, ErrLocked) {
		return lock, err
	}

	pid, err := HolderPID(c.LockPath)
	if err != nil {
		return nil, fmt.Errorf("take over instance: %w", err)
	}
	if pid == os.Getpid() {
		return nil, fmt.Errorf("take over instance: %w", ErrLocked)
	}

	logger.Warn().Int("pid", pid).Msg("Running instance did not exit, killing it")
	if err := c.kill(pid); err != nil {
		return nil, fmt.Errorf("kill instance %d: %w", pid, err)
	}

	lock, err := c.retryAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("take over instance: %w", err)
	}
	return lock, nil
}

func (c *Coordinator) retryAcquire(ctx context.Context) (*Lock, error) {
	retries := max(c.Retries, 1)
	for i := 0; i < retries; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RetryInterval):
		}

		lock, err := Acquire(c.LockPath)
		if err == nil || !errors.Is(err, ErrLocked) {
			return lock, err
		}
	}
	return nil, ErrLocked
}

func (c *Coordinator) session(lock *Lock, socketPath string) *Session {
	return &Session{Lock: lock, Channel: c.channel(socketPath)}
}

func (c *Coordinator) channel(path string) MessageChannel {
	if c.NewChannel != nil {
		return c.NewChannel(path)
	}
	return NewSocketChannel(path)
}

func (c *Coordinator) kill(pid int) error {
	if c.Kill != nil {
		return c.Kill(pid)
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return proc.Kill()
}
