package singleinstance

// This file defines the API for single-instance ownership and command delegation.

import (
	"context"

	"chat-autoreply/src/messages"
)

// Server owns the TCP endpoint and answers control requests.
type Server interface {
	// Start begins listening on the first port of the configured range and accepting client requests.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted connection as a Conn, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn represents one client connection and exposes request + response API.
type Conn interface {
	// Request returns the parsed client request.
	Request() Request
	// RespondSuccess sends success followed by an optional payload.
	RespondSuccess(payload string) error
	// RespondError sends an error with human-readable message.
	RespondError(msg string) error
	// Close closes the underlying connection.
	Close() error
}

// Request represents a single control request.
type Request struct {
	Command messages.Command
}

// Client delegates commands to a resident server.
type Client interface {
	// Send scans the port range, performs the PING handshake, and delegates cmd.
	// If no resident is found, returns delegated=false, err=nil.
	Send(ctx context.Context, cmd messages.Command) (delegated bool, payload string, err error)
}

// NewServer returns TCP implementation.
func NewServer() Server { return newTcpServer() }

// NewClient returns TCP implementation.
func NewClient() Client { return newTcpClient() }
