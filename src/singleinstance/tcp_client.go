package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"chat-autoreply/src/messages"
)

// ErrUnexpectedResponse is returned when the resident answers with an unknown header.
var ErrUnexpectedResponse = errors.New("unexpected response from resident")

type tcpClient struct{}

func newTcpClient() Client { return &tcpClient{} }

func (c *tcpClient) Send(ctx context.Context, cmd messages.Command) (bool, string, error) {
	dialTimeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < dialTimeout {
			dialTimeout = d
		}
	}
	// scan configured range for resident using PING then request
	start, end := getPortRange()
	for port := start; port <= end; port++ {
		addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
		if !ping(addr, dialTimeout) {
			continue
		}
		payload, err := request(ctx, addr, cmd, dialTimeout)
		return true, payload, err
	}
	return false, "", nil
}

func request(ctx context.Context, addr string, cmd messages.Command, dialTimeout time.Duration) (string, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// Unblock the read below when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(cmd.String() + "\n"); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
	body, _ := io.ReadAll(br)
	switch status {
	case successHeader:
		return string(body), nil
	case errorHeader:
		return "", errors.New(string(body))
	default:
		return "", fmt.Errorf("%w: %q", ErrUnexpectedResponse, status)
	}
}
