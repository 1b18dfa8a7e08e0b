package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/Strob0t/buildnotify/internal/domain/build"
	"github.com/Strob0t/buildnotify/internal/domain/notification"
	"github.com/Strob0t/buildnotify/internal/port/chat"
	"github.com/Strob0t/buildnotify/internal/service"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the services the HTTP API calls into.
type Handlers struct {
	Dispatcher *service.Dispatcher
	Steps      *service.StepService
	// Checks are reported by /health, keyed by dependency name.
	Checks map[string]HealthCheck
}

type healthStatus struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Health reports service status. Any failing check turns the response into a 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "ok"}
	code := http.StatusOK
	if len(h.Checks) > 0 {
		status.Dependencies = make(map[string]string, len(h.Checks))
	}
	for name, check := range h.Checks {
		if err := check(r.Context()); err != nil {
			status.Dependencies[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Dependencies[name] = "ok"
	}
	writeJSON(w, code, status)
}

// buildEventResponse is returned by HandleBuildEvent. Error is set when
// fail-on-error turned undelivered notifications into a failure.
type buildEventResponse struct {
	*service.Outcome
	Error string `json:"error,omitempty"`
}

// HandleBuildEvent handles POST /api/v1/builds/events.
func (h *Handlers) HandleBuildEvent(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	ev, err := build.ParseEvent(data)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}

	// Reasons are delivered one after another, each send bounded by the
	// Slack timeout, so the server-wide write deadline does not apply here.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.WarnContext(r.Context(), "clear write deadline", "error", err)
	}

	out, err := h.Dispatcher.Handle(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, buildEventResponse{Outcome: out})
	case errors.Is(err, service.ErrNotificationFailed) && out != nil:
		writeJSON(w, http.StatusBadGateway, buildEventResponse{Outcome: out, Error: err.Error()})
	default:
		writeDomainError(w, err, "")
	}
}

// SendMessage handles POST /api/v1/messages.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	step, ok := readJSON[service.MessageStep](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	res, err := h.Steps.SendMessage(r.Context(), step)
	if err != nil {
		if errors.Is(err, service.ErrNotificationFailed) && res != nil {
			writeJSON(w, http.StatusBadGateway, res)
			return
		}
		writeDomainError(w, err, "channel not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type updateMessageRequest struct {
	Text        string                    `json:"text"`
	Color       string                    `json:"color,omitempty"`
	Attachments []notification.Attachment `json:"attachments,omitempty"`
}

// UpdateMessage handles PUT /api/v1/messages/{channel}/{ts}.
func (h *Handlers) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[updateMessageRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	ref := messageRef(r)
	msg := notification.Message{Text: req.Text, Color: req.Color, Attachments: req.Attachments}
	if err := h.Steps.UpdateMessage(r.Context(), ref, msg); err != nil {
		writeDomainError(w, err, "channel not found")
		return
	}
	writeJSON(w, http.StatusOK, chat.Response{Channel: ref.Channel, Timestamp: ref.Timestamp})
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// AddReaction handles POST /api/v1/messages/{channel}/{ts}/reactions.
func (h *Handlers) AddReaction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reactionRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if err := h.Steps.React(r.Context(), messageRef(r), req.Emoji); err != nil {
		writeDomainError(w, err, "channel not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadRequest carries file content either base64 encoded in Content or
// as plain text in Text.
type uploadRequest struct {
	Channel  string `json:"channel"`
	Name     string `json:"name"`
	Title    string `json:"title,omitempty"`
	Content  []byte `json:"content,omitempty"`
	Text     string `json:"text,omitempty"`
	Comment  string `json:"comment,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// UploadFile handles POST /api/v1/files.
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[uploadRequest](w, r, maxUploadSize)
	if !ok {
		return
	}
	content := req.Content
	if len(content) == 0 && req.Text != "" {
		content = []byte(req.Text)
	}
	f := chat.File{
		Name:     strings.TrimSpace(req.Name),
		Title:    req.Title,
		Content:  content,
		Comment:  req.Comment,
		ThreadTS: req.ThreadTS,
	}
	if err := h.Steps.Upload(r.Context(), req.Channel, f); err != nil {
		writeDomainError(w, err, "channel not found")
		return
	}
	slog.InfoContext(r.Context(), "file uploaded",
		"channel", req.Channel,
		"name", f.Name,
		"size", units.HumanSize(float64(len(content))),
	)
	w.WriteHeader(http.StatusCreated)
}
