package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jfmyers9/cadenza/internal/command"
	"github.com/jfmyers9/cadenza/internal/playlist"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultPollTimeout bounds each wait for a connection so the server notices
// shutdown promptly
const DefaultPollTimeout = 200 * time.Millisecond

// Server receives messages from other processes and turns them into
// commands for the playback loop. It only ever pushes to the queue.
type Server struct {
	channel     MessageChannel
	queue       *command.Queue
	pollTimeout time.Duration
	logger      zerolog.Logger
}

// NewServer creates a server feeding queue
func NewServer(ch MessageChannel, queue *command.Queue, pollTimeout time.Duration, logger zerolog.Logger) *Server {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &Server{
		channel:     ch,
		queue:       queue,
		pollTimeout: pollTimeout,
		logger:      logger.With().Str("component", "server").Logger(),
	}
}

// Run serves the channel until ctx is cancelled or a Terminate message
// arrives
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.channel.Listen()
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = ln.Close() }()

	s.logger.Info().Msg("Listening for other instances")

	for ctx.Err() == nil {
		conn, err := ln.Accept(s.pollTimeout)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				// Skip this polling cycle
				s.logger.Warn().Err(err).Msg("Failed to accept connection")
				select {
				case <-ctx.Done():
				case <-time.After(s.pollTimeout):
				}
			}
			continue
		}

		terminate := s.serve(conn)
		_ = conn.Close()
		if terminate {
			s.logger.Info().Msg("Terminate requested, server stopping")
			return nil
		}
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

// serve handles messages until the peer closes. It reports whether a
// Terminate message was received.
func (s *Server) serve(conn Conn) bool {
	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// Closing the connection discards whatever else the peer sent
				s.logger.Warn().Err(err).Msg("Dropping malformed message")
			}
			return false
		}
		if s.dispatch(msg) {
			return true
		}
	}
}

func (s *Server) dispatch(msg Message) (terminate bool) {
	s.logger.Debug().Str("name", msg.Name).Int("params", len(msg.Params)).Msg("Received message")

	switch msg.Name {
	case NameFiles:
		paths := lo.FilterMap(msg.Params, func(p string, _ int) (string, bool) {
			if p == "" {
				return "", false
			}
			return playlist.Normalize(p), true
		})
		if len(paths) == 0 {
			return false
		}
		s.queue.PushAll(command.Files(paths, command.SelectFirst), command.New(command.Load))
		s.logger.Info().Int("files", len(paths)).Msg("Queued forwarded files")
	case NameTerminate:
		s.queue.Push(command.New(command.Stop))
		s.queue.Push(command.New(command.Quit))
		return true
	case NamePlay:
		s.queue.Push(command.New(command.Load))
	case NamePlayNext:
		s.queue.Push(command.New(command.Next))
	case NamePlayPrev:
		s.queue.Push(command.New(command.Prev))
	case NameStop:
		s.queue.Push(command.New(command.Stop))
	case NamePause:
		s.queue.Push(command.New(command.PauseToggle))
	case NameClearPlaylist:
		s.queue.Push(command.New(command.ClearPlaylist))
	default:
		s.logger.Warn().Str("name", msg.Name).Msg("Ignoring unknown message")
	}
	return false
}
