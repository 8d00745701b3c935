package app

import (
	"context"
	"fmt"
	"strings"

	"deathmatter/pkg/ids"
	"deathmatter/pkg/notify"
)

type ContactInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email,max=320"`
	Subject string `json:"subject" validate:"max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

// SubmitContact hands a contact-form message to the mail relay. userID is
// empty for anonymous visitors.
func (a *App) SubmitContact(ctx context.Context, userID string, in ContactInput) (string, error) {
	if err := a.check(in); err != nil {
		return "", err
	}
	if a.contact == nil {
		return "", fmt.Errorf("contact relay not configured")
	}
	msg := notify.ContactMessage{
		ID:        ids.New(),
		UserID:    userID,
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Subject:   strings.TrimSpace(in.Subject),
		Message:   strings.TrimSpace(in.Message),
		CreatedAt: a.now(),
	}
	if msg.Subject == "" {
		msg.Subject = "Message from " + msg.Name
	}
	if err := a.contact.PublishContact(ctx, msg); err != nil {
		a.metrics.UpstreamError("amqp")
		return "", fmt.Errorf("%w: publish contact: %v", ErrUpstream, err)
	}
	return msg.ID, nil
}
