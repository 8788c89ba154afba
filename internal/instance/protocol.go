package instance

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Header opens every message and identifies the protocol version
const Header = "cadenza-ipc 1"

// Command names understood by the running instance
const (
	NameTerminate     = "Terminate"
	NameFiles         = "Files Argc Argv"
	NameClearPlaylist = "Playlist Clear"
	NamePlay          = "Play"
	NamePlayNext      = "Play Next"
	NamePlayPrev      = "Play Prev"
	NameStop          = "Stop"
	NamePause         = "Pause"
)

// maxParams caps the declared parameter count of a message
const maxParams = 4096

// Frame read retry schedule: the first wait is frameBackoff, doubling for
// each of frameAttempts tries.
const (
	frameBackoff  = 10 * time.Millisecond
	frameAttempts = 5
)

// ErrMalformed is returned for a message that cannot be decoded. The
// connection is no longer aligned on a message boundary afterwards.
var ErrMalformed = errors.New("instance: malformed message")

// Message is one command sent to the running instance
type Message struct {
	Name   string
	Params []string
}

// WriteMessage sends msg as header, name, count and parameter frames
func WriteMessage(conn Conn, msg Message) error {
	frames := make([]string, 0, 3+len(msg.Params))
	frames = append(frames, Header, msg.Name, strconv.Itoa(len(msg.Params)))
	for _, p := range msg.Params {
		if p == "" {
			return fmt.Errorf("empty parameter in %q message", msg.Name)
		}
		frames = append(frames, p)
	}

	for i, f := range frames {
		if err := conn.SendFrame([]byte(f)); err != nil {
			return fmt.Errorf("send frame %d of %q: %w", i+1, msg.Name, err)
		}
	}
	return nil
}

// ReadMessage receives one complete message. Every declared parameter is
// read even when the command is unknown, so the next message starts on a
// frame boundary. io.EOF means the peer closed before a new message began.
func ReadMessage(conn Conn) (Message, error) {
	header, err := receive(conn)
	if err != nil {
		return Message{}, err
	}
	if header != Header {
		return Message{}, fmt.Errorf("%w: unexpected header %q", ErrMalformed, header)
	}

	name, err := receive(conn)
	if err != nil {
		return Message{}, fmt.Errorf("read command name: %w", err)
	}

	count, err := receive(conn)
	if err != nil {
		return Message{}, fmt.Errorf("read parameter count: %w", err)
	}
	n, err := strconv.Atoi(count)
	if err != nil || n < 0 || n > maxParams {
		return Message{}, fmt.Errorf("%w: bad parameter count %q", ErrMalformed, count)
	}

	msg := Message{Name: name, Params: make([]string, 0, n)}
	for i := 0; i < n; i++ {
		p, err := receive(conn)
		if err != nil {
			return Message{}, fmt.Errorf("read parameter %d of %d: %w", i+1, n, err)
		}
		msg.Params = append(msg.Params, p)
	}
	return msg, nil
}

// receive reads one frame, retrying with a growing wait while none is
// pending
func receive(conn Conn) (string, error) {
	wait := frameBackoff
	for attempt := 0; attempt < frameAttempts; attempt++ {
		frame, err := conn.ReceiveFrame(wait)
		if err == nil {
			return string(frame), nil
		}
		if !errors.Is(err, ErrTimeout) {
			return "", err
		}
		wait *= 2
	}
	return "", ErrTimeout
}
