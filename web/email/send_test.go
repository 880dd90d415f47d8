package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSendEmailRequiresSettings(t *testing.T) {
	t.Setenv("SMTP_SERVER", "")
	if err := SendEmail("a@example.com", "hi", "body"); err == nil {
		t.Error("expected an error without SMTP settings")
	}
}

func TestPromotionNotifier(t *testing.T) {
	sent := make(chan string, 1)
	n := &PromotionNotifier{
		Lookup: func(_ context.Context, userID string) (string, error) {
			if userID == "u1" {
				return "u1@example.com", nil
			}
			return "", errors.New("unknown")
		},
		Send: func(to, subject, _ string) error {
			sent <- to + "|" + subject
			return nil
		},
		Logger: zap.NewNop(),
	}

	n.LevelPromoted(context.Background(), "u1", 2)
	select {
	case got := <-sent:
		if got != "u1@example.com|You completed level 2" {
			t.Errorf("unexpected mail %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no email sent")
	}

	n.LevelPromoted(context.Background(), "ghost", 1)
	select {
	case got := <-sent:
		t.Errorf("unexpected mail for unknown user: %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}
