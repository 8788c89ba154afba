package instance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jfmyers9/cadenza/internal/playlist"
	"github.com/samber/lo"
)

// ErrNoInstance is returned when no running instance accepts messages
var ErrNoInstance = errors.New("instance: no running instance")

// Send delivers one message to the running instance and returns without
// waiting for a reply
func Send(ctx context.Context, ch MessageChannel, msg Message) error {
	conn, err := ch.OpenWrite(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoInstance, err)
	}
	defer func() { _ = conn.Close() }()

	return WriteMessage(conn, msg)
}

// FilesMessage builds a Files message carrying absolute paths
func FilesMessage(paths []string) Message {
	paths = lo.Filter(paths, func(p string, _ int) bool { return p != "" })
	return Message{
		Name:   NameFiles,
		Params: lo.Map(paths, func(p string, _ int) string { return playlist.Normalize(p) }),
	}
}
