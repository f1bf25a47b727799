//go:build linux

package shm

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Send passes a duplicate of fd to the receiver listening on addr. It fails with
// ErrNoReceiver when nobody is listening yet, which callers treat as "retry".
func Send(addr string, fd int) error {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: addr, Net: "unix"})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoReceiver, err)
	}
	defer conn.Close()

	if _, _, err := conn.WriteMsgUnix([]byte{0}, unix.UnixRights(fd), nil); err != nil {
		return fmt.Errorf("send descriptor: %w", err)
	}
	return nil
}

// Receive listens on addr for exactly one descriptor and wraps it in a Token. It
// returns when a descriptor arrives, the context ends, or the listener fails.
func Receive(ctx context.Context, addr string) (*Token, error) {
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: addr, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	defer l.Close()

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	conn, err := l.AcceptUnix()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil || len(fds) == 0 {
			continue
		}
		for _, extra := range fds[1:] {
			unix.Close(extra)
		}
		unix.CloseOnExec(fds[0])

		logrus.WithFields(logrus.Fields{
			"function": "Receive",
			"addr":     addr,
			"fd":       fds[0],
		}).Debug("Received shared memory descriptor")

		return NewToken(fds[0]), nil
	}
	return nil, ErrNoDescriptor
}
