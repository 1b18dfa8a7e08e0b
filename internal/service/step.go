package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/buildnotify/internal/domain"
	"github.com/Strob0t/buildnotify/internal/domain/notification"
	"github.com/Strob0t/buildnotify/internal/port/chat"
)

// MessageStep is a free-form message sent from a pipeline step.
type MessageStep struct {
	Text        string                    `json:"text"`
	Color       string                    `json:"color,omitempty"`
	Channel     string                    `json:"channel,omitempty"`
	Attachments []notification.Attachment `json:"attachments,omitempty"`
	// Thread is a "channel:timestamp" reference to reply under.
	Thread         string `json:"thread,omitempty"`
	ReplyBroadcast bool   `json:"reply_broadcast,omitempty"`
	Username       string `json:"username,omitempty"`
	IconEmoji      string `json:"icon_emoji,omitempty"`
	IconURL        string `json:"icon_url,omitempty"`
	FailOnError    bool   `json:"fail_on_error,omitempty"`
}

// StepResult is the outcome of a message step.
type StepResult struct {
	Sent      bool            `json:"sent"`
	Responses []chat.Response `json:"responses"`
}

// StepService exposes the transport's message operations to pipeline steps.
type StepService struct {
	transport chat.Transport
}

// NewStepService creates a StepService.
func NewStepService(transport chat.Transport) *StepService {
	return &StepService{transport: transport}
}

// SendMessage delivers step to its destinations. A failed delivery is only
// an error when the step asked to fail on error.
func (s *StepService) SendMessage(ctx context.Context, step MessageStep) (*StepResult, error) {
	if strings.TrimSpace(step.Text) == "" && len(step.Attachments) == 0 {
		return nil, fmt.Errorf("%w: text or attachments required", domain.ErrValidation)
	}
	if step.Thread != "" {
		if _, err := chat.ParseRef(step.Thread); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	req := chat.Request{
		Message: notification.Message{
			Text:        step.Text,
			Color:       step.Color,
			Attachments: step.Attachments,
			Thread:      step.Thread,
		},
		Channel:        step.Channel,
		ReplyBroadcast: step.ReplyBroadcast,
		Username:       step.Username,
		IconEmoji:      step.IconEmoji,
		IconURL:        step.IconURL,
	}
	responses, ok := s.transport.Send(ctx, req)
	res := &StepResult{Sent: ok, Responses: responses}
	if res.Responses == nil {
		res.Responses = []chat.Response{}
	}
	if !ok {
		slog.WarnContext(ctx, "step message not delivered to every destination", "delivered", len(responses))
		if step.FailOnError {
			return res, fmt.Errorf("%w: message step", ErrNotificationFailed)
		}
	}
	return res, nil
}

// UpdateMessage edits a previously delivered message.
func (s *StepService) UpdateMessage(ctx context.Context, ref chat.Ref, msg notification.Message) error {
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 {
		return fmt.Errorf("%w: text or attachments required", domain.ErrValidation)
	}
	return stepError(s.transport.Update(ctx, ref, msg))
}

// React adds an emoji reaction to a previously delivered message.
func (s *StepService) React(ctx context.Context, ref chat.Ref, emoji string) error {
	if strings.Trim(emoji, ": ") == "" {
		return fmt.Errorf("%w: emoji required", domain.ErrValidation)
	}
	return stepError(s.transport.React(ctx, ref, emoji))
}

// Upload posts file content to a channel given by name or ID.
func (s *StepService) Upload(ctx context.Context, channel string, f chat.File) error {
	if strings.TrimSpace(channel) == "" {
		return fmt.Errorf("%w: channel required", domain.ErrValidation)
	}
	if f.Name == "" || len(f.Content) == 0 {
		return fmt.Errorf("%w: file name and content required", domain.ErrValidation)
	}
	return stepError(s.transport.Upload(ctx, channel, f))
}

// stepError marks unresolvable channels as not found.
func stepError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chat.ErrChannelNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}
