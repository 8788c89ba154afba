package instance

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingChannel captures what a client sends
type recordingChannel struct {
	path    string
	conns   []*frameConn
	openErr error
	onOpen  func()
}

func (c *recordingChannel) OpenWrite(context.Context) (Conn, error) {
	if c.onOpen != nil {
		c.onOpen()
	}
	if c.openErr != nil {
		return nil, c.openErr
	}
	conn := &frameConn{}
	c.conns = append(c.conns, conn)
	return conn, nil
}

func (c *recordingChannel) Listen() (Listener, error) {
	return nil, errors.New("recording channel cannot listen")
}

func (c *recordingChannel) messages(t *testing.T) []Message {
	t.Helper()
	var msgs []Message
	for _, conn := range c.conns {
		msg, err := ReadMessage(&frameConn{frames: conn.sent})
		if err != nil {
			t.Fatalf("decode sent message: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func newCoordinator(t *testing.T, policy Policy, ch *recordingChannel) *Coordinator {
	t.Helper()
	dir := t.TempDir()
	return &Coordinator{
		LockPath:      filepath.Join(dir, "cadenza.lock"),
		SocketPath:    filepath.Join(dir, "cadenza.sock"),
		Policy:        policy,
		Retries:       3,
		RetryInterval: 10 * time.Millisecond,
		Logger:        zerolog.Nop(),
		NewChannel: func(path string) MessageChannel {
			ch.path = path
			return ch
		},
		Kill: func(pid int) error {
			t.Errorf("unexpected kill of %d", pid)
			return nil
		},
	}
}

func holdLock(t *testing.T, path string) *Lock {
	t.Helper()
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = lock.Release() })
	return lock
}

func TestCoordinatorFirstInstanceRuns(t *testing.T) {
	ch := &recordingChannel{}
	c := newCoordinator(t, PolicyRefuse, ch)

	s, err := c.Start(context.Background(), []string{"/m/a.mid"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Close() }()

	if s.Forwarded || s.Lock == nil || s.Channel == nil {
		t.Errorf("session = %+v, want a running instance", s)
	}
	if len(ch.conns) != 0 {
		t.Error("first instance sent messages")
	}
}

func TestCoordinatorForward(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		files  []string
		want   []string
	}{
		{"files", PolicyForward, []string{"/m/a.mid", "/m/b.mid"}, []string{NameFiles}},
		{"no files", PolicyForward, nil, nil},
		{"clear first", PolicyForwardClear, []string{"/m/a.mid"}, []string{NameClearPlaylist, NameFiles}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &recordingChannel{}
			c := newCoordinator(t, tt.policy, ch)
			holdLock(t, c.LockPath)

			s, err := c.Start(context.Background(), tt.files)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if !s.Forwarded {
				t.Fatal("expected forwarded session")
			}

			msgs := ch.messages(t)
			if len(msgs) != len(tt.want) {
				t.Fatalf("sent %v, want %v", msgs, tt.want)
			}
			for i, name := range tt.want {
				if msgs[i].Name != name {
					t.Errorf("message %d = %q, want %q", i, msgs[i].Name, name)
				}
			}
			if len(tt.files) > 0 {
				files := msgs[len(msgs)-1]
				if len(files.Params) != len(tt.files) {
					t.Errorf("forwarded %v, want %v", files.Params, tt.files)
				}
			}
		})
	}
}

func TestCoordinatorForwardWithoutServer(t *testing.T) {
	ch := &recordingChannel{openErr: errors.New("connection refused")}
	c := newCoordinator(t, PolicyForward, ch)
	holdLock(t, c.LockPath)

	_, err := c.Start(context.Background(), []string{"/m/a.mid"})
	if !errors.Is(err, ErrNoInstance) {
		t.Errorf("err = %v, want ErrNoInstance", err)
	}
}

func TestCoordinatorRefuse(t *testing.T) {
	c := newCoordinator(t, PolicyRefuse, &recordingChannel{})
	holdLock(t, c.LockPath)

	if _, err := c.Start(context.Background(), nil); !errors.Is(err, ErrRefused) {
		t.Errorf("err = %v, want ErrRefused", err)
	}
}

func TestCoordinatorTerminate(t *testing.T) {
	ch := &recordingChannel{}
	c := newCoordinator(t, PolicyTerminate, ch)
	holdLock(t, c.LockPath)

	s, err := c.Start(context.Background(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Forwarded {
		t.Error("terminate policy should not run")
	}
	msgs := ch.messages(t)
	if len(msgs) != 1 || msgs[0].Name != NameTerminate {
		t.Errorf("sent %v, want Terminate", msgs)
	}
}

func TestCoordinatorReplaceAfterHolderExits(t *testing.T) {
	ch := &recordingChannel{}
	c := newCoordinator(t, PolicyReplace, ch)
	holder := holdLock(t, c.LockPath)
	ch.onOpen = func() { _ = holder.Release() }

	s, err := c.Start(context.Background(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Close() }()

	if s.Forwarded || s.Lock == nil {
		t.Errorf("session = %+v, want to run", s)
	}
	if msgs := ch.messages(t); len(msgs) != 1 || msgs[0].Name != NameTerminate {
		t.Errorf("sent %v, want Terminate", msgs)
	}
}

func TestCoordinatorReplaceKillsStuckHolder(t *testing.T) {
	ch := &recordingChannel{}
	c := newCoordinator(t, PolicyReplace, ch)
	holder := holdLock(t, c.LockPath)

	// Pretend the lock belongs to another process
	const stuckPID = 999999
	_ = holder.file.Truncate(0)
	_, _ = holder.file.WriteAt([]byte(strconv.Itoa(stuckPID)), 0)

	var killed int
	c.Kill = func(pid int) error {
		killed = pid
		return holder.Release()
	}

	s, err := c.Start(context.Background(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Close() }()

	if killed != stuckPID {
		t.Errorf("killed %d, want %d", killed, stuckPID)
	}
}

func TestCoordinatorReplaceGivesUp(t *testing.T) {
	ch := &recordingChannel{}
	c := newCoordinator(t, PolicyReplace, ch)
	holder := holdLock(t, c.LockPath)
	_ = holder.file.Truncate(0)
	_, _ = holder.file.WriteAt([]byte("999999"), 0)
	c.Kill = func(int) error { return nil }

	if _, err := c.Start(context.Background(), nil); !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestCoordinatorIgnoreRunsSecondary(t *testing.T) {
	ch := &recordingChannel{}
	c := newCoordinator(t, PolicyIgnore, ch)
	holdLock(t, c.LockPath)

	s, err := c.Start(context.Background(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Close() }()

	if !strings.HasSuffix(s.Lock.Path(), "-2") {
		t.Errorf("lock path = %s, want secondary lock", s.Lock.Path())
	}
	if !strings.HasSuffix(ch.path, "cadenza.sock-2") {
		t.Errorf("channel path = %s, want secondary socket", ch.path)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyForward {
		t.Errorf("ParsePolicy(\"\") = %q, %v", p, err)
	}
	if p, err := ParsePolicy("replace"); err != nil || p != PolicyReplace {
		t.Errorf("ParsePolicy(replace) = %q, %v", p, err)
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Error("ParsePolicy accepted bogus")
	}
}
