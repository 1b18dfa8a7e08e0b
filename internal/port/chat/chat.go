// Package chat defines the chat transport port (interface).
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Strob0t/buildnotify/internal/domain/notification"
)

// ErrNotConfigured is returned when a transport has no credentials or endpoint.
var ErrNotConfigured = errors.New("chat: transport not configured")

// ErrChannelNotFound is returned when a channel name cannot be resolved.
var ErrChannelNotFound = errors.New("chat: channel not found")

// Request is a message plus per-send destination and identity overrides.
type Request struct {
	Message notification.Message
	// Channel overrides the configured rooms. Same syntax as the rooms setting.
	Channel        string
	ReplyBroadcast bool
	Username       string
	IconEmoji      string
	IconURL        string
}

// Response identifies a delivered message.
type Response struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"ts"`
}

// Ref returns the message reference usable for threads, updates and reactions.
func (r Response) Ref() Ref { return Ref{Channel: r.Channel, Timestamp: r.Timestamp} }

// Ref points at an already delivered message.
type Ref struct {
	Channel   string
	Timestamp string
}

// String renders the "channel:timestamp" form.
func (r Ref) String() string { return r.Channel + ":" + r.Timestamp }

// ParseRef parses a "channel:timestamp" reference.
func ParseRef(s string) (Ref, error) {
	channel, ts, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || channel == "" || ts == "" {
		return Ref{}, fmt.Errorf("invalid message reference %q (want channel:timestamp)", s)
	}
	return Ref{Channel: channel, Timestamp: ts}, nil
}

// File is uploaded content.
type File struct {
	Name     string
	Title    string
	Content  []byte
	Comment  string
	ThreadTS string
}

// Transport is the port interface for delivering chat messages.
type Transport interface {
	// Publish sends msg to the configured rooms and reports whether every
	// destination accepted it. It never returns an error; failures are logged.
	Publish(ctx context.Context, msg notification.Message) bool

	// Send is Publish with per-request overrides. It returns one response per
	// successful destination.
	Send(ctx context.Context, req Request) ([]Response, bool)

	// Update edits a previously delivered message.
	Update(ctx context.Context, ref Ref, msg notification.Message) error

	// React adds an emoji reaction to a previously delivered message.
	React(ctx context.Context, ref Ref, emoji string) error

	// Upload posts file content to a channel given by name or ID.
	Upload(ctx context.Context, channel string, f File) error
}

var roomSeparators = regexp.MustCompile(`[,; ]+`)

// SplitRooms splits a room list on commas, semicolons and spaces.
func SplitRooms(s string) []string {
	var rooms []string
	for _, r := range roomSeparators.Split(strings.TrimSpace(s), -1) {
		if r != "" {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

// Destination is one parsed room entry. A room of the form
// "C123:1700000000.000100" targets that thread.
type Destination struct {
	Channel  string
	ThreadTS string
}

// ParseDestination parses one room entry.
func ParseDestination(room string) Destination {
	channel, ts, _ := strings.Cut(room, ":")
	return Destination{Channel: channel, ThreadTS: ts}
}
