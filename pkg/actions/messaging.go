package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/template"
)

// MessageSender delivers outbound messages to the provider that owns
// the channel. Implementations must be safe for concurrent use.
type MessageSender interface {
	SendEmail(ctx context.Context, contact *models.ContactSnapshot, email models.SendEmailConfig) (string, error)
	SendSMS(ctx context.Context, contact *models.ContactSnapshot, sms models.SendSMSConfig) (string, error)
}

// LoggingSender logs outbound messages instead of delivering them.
// Default for development setups without a provider.
type LoggingSender struct {
	logger *slog.Logger
}

func NewLoggingSender(logger *slog.Logger) *LoggingSender {
	return &LoggingSender{logger: logger.With("module", "sender")}
}

func (s *LoggingSender) SendEmail(ctx context.Context, contact *models.ContactSnapshot, email models.SendEmailConfig) (string, error) {
	messageID := uuid.New().String()

	s.logger.InfoContext(ctx, "email send",
		"message_id", messageID,
		"contact_id", contact.ID,
		"to", email.To,
		"subject", email.Subject,
	)

	return messageID, nil
}

func (s *LoggingSender) SendSMS(ctx context.Context, contact *models.ContactSnapshot, sms models.SendSMSConfig) (string, error) {
	messageID := uuid.New().String()

	s.logger.InfoContext(ctx, "sms send",
		"message_id", messageID,
		"contact_id", contact.ID,
		"to", sms.To,
	)

	return messageID, nil
}

// SendEmailExecutor sends an email to the enrolled contact. An empty
// recipient list falls back to the contact's email address.
type SendEmailExecutor struct {
	sender MessageSender
}

func NewSendEmailExecutor(sender MessageSender) *SendEmailExecutor {
	return &SendEmailExecutor{sender: sender}
}

func (e *SendEmailExecutor) Execute(ctx context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.SendEmailConfig](action)
	if err != nil {
		return nil, err
	}

	if config.Subject, err = template.Render(config.Subject, execCtx); err != nil {
		return nil, fmt.Errorf("action %s subject: %w", action.ID, err)
	}

	if config.Body, err = template.Render(config.Body, execCtx); err != nil {
		return nil, fmt.Errorf("action %s body: %w", action.ID, err)
	}

	if len(config.To) == 0 {
		if execCtx.Contact.Email == "" {
			return nil, fmt.Errorf("contact %s has no email address", execCtx.Contact.ID)
		}

		config.To = []string{execCtx.Contact.Email}
	}

	if execCtx.Contact.DND {
		return nil, fmt.Errorf("contact %s has do-not-disturb enabled", execCtx.Contact.ID)
	}

	messageID, err := e.sender.SendEmail(ctx, &execCtx.Contact, config)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"message_id": messageID,
		"to":         config.To,
		"subject":    config.Subject,
	}, nil
}

func (e *SendEmailExecutor) Validate(action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.SendEmailConfig](action)
	if err != nil {
		return err
	}

	if config.Subject == "" {
		return fmt.Errorf("action %s: email subject is required", action.ID)
	}

	return nil
}

// SendSMSExecutor sends an SMS to the enrolled contact.
type SendSMSExecutor struct {
	sender MessageSender
}

func NewSendSMSExecutor(sender MessageSender) *SendSMSExecutor {
	return &SendSMSExecutor{sender: sender}
}

func (e *SendSMSExecutor) Execute(ctx context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.SendSMSConfig](action)
	if err != nil {
		return nil, err
	}

	if config.Message, err = template.Render(config.Message, execCtx); err != nil {
		return nil, fmt.Errorf("action %s message: %w", action.ID, err)
	}

	if config.To == "" {
		if execCtx.Contact.Phone == "" {
			return nil, fmt.Errorf("contact %s has no phone number", execCtx.Contact.ID)
		}

		config.To = execCtx.Contact.Phone
	}

	if execCtx.Contact.DND {
		return nil, fmt.Errorf("contact %s has do-not-disturb enabled", execCtx.Contact.ID)
	}

	messageID, err := e.sender.SendSMS(ctx, &execCtx.Contact, config)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"message_id": messageID,
		"to":         config.To,
	}, nil
}

func (e *SendSMSExecutor) Validate(action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.SendSMSConfig](action)
	if err != nil {
		return err
	}

	if config.Message == "" {
		return fmt.Errorf("action %s: sms message is required", action.ID)
	}

	return nil
}
