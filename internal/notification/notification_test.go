package notification

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerNotifierHidesCodeAndPhone(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := n.Send(context.Background(), Message{
		Kind:        KindPhoneVerification,
		Destination: "79001234567",
		Body:        "Your code: 4821",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "4821") {
		t.Fatalf("code leaked into log: %s", out)
	}
	if strings.Contains(out, "79001234567") || !strings.Contains(out, "*******4567") {
		t.Fatalf("phone not masked: %s", out)
	}
}

func TestNilNotifierIsNoop(t *testing.T) {
	var n *LoggerNotifier
	if err := n.Send(context.Background(), Message{}); err != nil {
		t.Fatalf("send: %v", err)
	}
}
