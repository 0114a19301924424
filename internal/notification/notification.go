package notification

import (
	"context"
	"log/slog"
)

const (
	// KindPhoneVerification carries the registration confirmation code.
	KindPhoneVerification = "phone_verification"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems (SMS gateway).
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub gateway that records deliveries in the structured
// log. The body is not logged because it carries the verification code.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the delivery metadata to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification sent", "kind", message.Kind, "destination", MaskPhone(message.Destination), "length", len(message.Body))
	return nil
}

// MaskPhone hides all but the last four characters of phone.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	masked := make([]byte, len(phone))
	for i := range phone {
		if i < len(phone)-4 {
			masked[i] = '*'
		} else {
			masked[i] = phone[i]
		}
	}
	return string(masked)
}
