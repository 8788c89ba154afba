package instance

import (
	"errors"
	"io"
	"testing"
	"time"
)

// frameConn is an in-memory Conn fed with prepared frames
type frameConn struct {
	frames [][]byte
	sent   [][]byte
	closed bool
}

func newFrameConn(frames ...string) *frameConn {
	c := &frameConn{}
	for _, f := range frames {
		c.frames = append(c.frames, []byte(f))
	}
	return c
}

func (c *frameConn) SendFrame(frame []byte) error {
	c.sent = append(c.sent, append([]byte(nil), frame...))
	return nil
}

func (c *frameConn) ReceiveFrame(time.Duration) ([]byte, error) {
	if len(c.frames) == 0 {
		return nil, io.EOF
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, nil
}

func (c *frameConn) Close() error {
	c.closed = true
	return nil
}

// stallConn never has a frame pending
type stallConn struct {
	waits []time.Duration
}

func (c *stallConn) SendFrame([]byte) error { return nil }

func (c *stallConn) ReceiveFrame(timeout time.Duration) ([]byte, error) {
	c.waits = append(c.waits, timeout)
	return nil, ErrTimeout
}

func (c *stallConn) Close() error { return nil }

func TestWriteMessageFraming(t *testing.T) {
	conn := &frameConn{}
	msg := Message{Name: NameFiles, Params: []string{"/m/a.mid", "/m/b.mid"}}
	if err := WriteMessage(conn, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	want := []string{Header, "Files Argc Argv", "2", "/m/a.mid", "/m/b.mid"}
	if len(conn.sent) != len(want) {
		t.Fatalf("sent %d frames, want %d", len(conn.sent), len(want))
	}
	for i := range want {
		if string(conn.sent[i]) != want[i] {
			t.Errorf("frame %d = %q, want %q", i, conn.sent[i], want[i])
		}
	}
}

func TestWriteMessageRejectsEmptyParam(t *testing.T) {
	conn := &frameConn{}
	if err := WriteMessage(conn, Message{Name: NameFiles, Params: []string{""}}); err == nil {
		t.Fatal("expected error for empty parameter")
	}
	if len(conn.sent) != 0 {
		t.Errorf("sent %d frames before failing", len(conn.sent))
	}
}

func TestReadMessage(t *testing.T) {
	tests := []struct {
		name    string
		frames  []string
		want    Message
		wantErr error
	}{
		{
			name:   "no params",
			frames: []string{Header, "Play Next", "0"},
			want:   Message{Name: NamePlayNext},
		},
		{
			name:   "files",
			frames: []string{Header, NameFiles, "2", "/m/a.mid", "/m/b.mid"},
			want:   Message{Name: NameFiles, Params: []string{"/m/a.mid", "/m/b.mid"}},
		},
		{
			name:    "wrong header",
			frames:  []string{"cadenza-ipc 0", "Play", "0"},
			wantErr: ErrMalformed,
		},
		{
			name:    "bad count",
			frames:  []string{Header, "Play", "two"},
			wantErr: ErrMalformed,
		},
		{
			name:    "negative count",
			frames:  []string{Header, "Play", "-1"},
			wantErr: ErrMalformed,
		},
		{
			name:    "missing parameter",
			frames:  []string{Header, NameFiles, "2", "/m/a.mid"},
			wantErr: io.EOF,
		},
		{
			name:    "closed before header",
			wantErr: io.EOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadMessage(newFrameConn(tt.frames...))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if got.Name != tt.want.Name || len(got.Params) != len(tt.want.Params) {
				t.Fatalf("message = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want.Params {
				if got.Params[i] != tt.want.Params[i] {
					t.Errorf("param %d = %q, want %q", i, got.Params[i], tt.want.Params[i])
				}
			}
		})
	}
}

func TestReadMessageConsumesUnknownParams(t *testing.T) {
	conn := newFrameConn(
		Header, "Shuffle Mode", "2", "on", "now",
		Header, NameStop, "0",
	)

	first, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("first ReadMessage: %v", err)
	}
	if first.Name != "Shuffle Mode" || len(first.Params) != 2 {
		t.Errorf("first = %+v", first)
	}

	second, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("second ReadMessage: %v", err)
	}
	if second.Name != NameStop {
		t.Errorf("second = %+v, want Stop", second)
	}
}

func TestReceiveBacksOff(t *testing.T) {
	conn := &stallConn{}
	if _, err := ReadMessage(conn); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	want := []time.Duration{10, 20, 40, 80, 160}
	if len(conn.waits) != len(want) {
		t.Fatalf("waits = %v, want %d attempts", conn.waits, len(want))
	}
	for i, w := range want {
		if conn.waits[i] != w*time.Millisecond {
			t.Errorf("wait %d = %v, want %v", i, conn.waits[i], w*time.Millisecond)
		}
	}
}
