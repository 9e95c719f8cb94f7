package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/supplyline/supplyline/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendVerification delivers an account verification code.
	TaskTypeSendVerification = "mail:verification"
)

// VerificationPayload describes a pending verification mail.
type VerificationPayload struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewVerificationTask constructs an Asynq task.
func NewVerificationTask(payload VerificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendVerification, data, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// Message is an outgoing plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs msg.
func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail", slog.String("to", msg.To), slog.String("subject", msg.Subject), slog.String("body", msg.Body))
	return nil
}

// SMTPSender delivers through a plain SMTP relay such as Mailpit.
type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

// Send delivers msg.
func (s SMTPSender) Send(_ context.Context, msg Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	if err := smtp.SendMail(s.Addr, s.Auth, s.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("jobs: smtp send: %w", err)
	}
	return nil
}

// VerificationMessage renders the mail for payload.
func VerificationMessage(payload VerificationPayload) Message {
	return Message{
		To:      payload.Email,
		Subject: "Your Supplyline verification code",
		Body: fmt.Sprintf("Your verification code is %s.\n\nIt expires at %s.\n",
			payload.Code, payload.ExpiresAt.UTC().Format(time.RFC1123)),
	}
}

// HandleVerificationTask returns the handler for TaskTypeSendVerification.
// Expired codes are dropped; malformed payloads are not retried.
func HandleVerificationTask(sender Sender, metrics *jobmetrics.Metrics, logger *slog.Logger, now func() time.Time) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VerificationPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: decode verification payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.Email == "" || payload.Code == "" {
			return fmt.Errorf("jobs: verification payload incomplete: %w", asynq.SkipRetry)
		}
		if now().After(payload.ExpiresAt) {
			logger.Warn("verification code expired before delivery", slog.String("to", payload.Email))
			metrics.Dropped(TaskTypeSendVerification, "expired")
			return nil
		}
		return sender.Send(ctx, VerificationMessage(payload))
	}
}
