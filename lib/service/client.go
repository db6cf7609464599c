// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/conveyor-ci/conveyor/lib/codec"
)

// dialTimeout bounds the connect phase; the server's read and write
// timeouts cover the rest of the exchange.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the response
// after writing the request. Matched to the server's readTimeout +
// writeTimeout to leave room for handler execution.
const responseReadTimeout = 45 * time.Second

// maxResponseSize caps a single CBOR response, matching the server's
// maxRequestSize for symmetry.
const maxResponseSize = 1024 * 1024

// ClientError is returned by Call when the server responds with
// ok=false. It carries the server's error message and the action that
// failed.
type ClientError struct {
	Action  string
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// Client sends CBOR requests to the webhook service's control socket.
// Each Call opens a new connection, matching the server's
// one-request-per-connection model, and closes it after reading the
// response.
type Client struct {
	socketPath string
}

// NewClient creates a client for the control socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends a request for the named action and decodes the response.
//
// The fields parameter carries handler-specific request fields; the
// client adds "action" itself. Pass nil for actions that take no
// parameters. On success, if result is non-nil and the response
// contains data, the data is CBOR-decoded into result.
//
// When the server responds ok=false, Call returns a *ClientError with
// the server's message. Connection and encoding failures are plain
// errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ClientError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side. CBOR is self-delimiting so the
	// server does not need this, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
