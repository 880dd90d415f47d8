package email

import (
	"context"
	"fmt"
	"net/smtp"
	"os"

	"go.uber.org/zap"
)

func SendEmail(to string, subject string, body string) error {
	smtpServer := os.Getenv("SMTP_SERVER")
	smtpPort := os.Getenv("SMTP_PORT")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")
	fromAddr := os.Getenv("FROM_ADDR")
	fromName := os.Getenv("FROM_NAME")

	if smtpServer == "" || smtpPort == "" || smtpUser == "" || smtpPass == "" || fromAddr == "" || fromName == "" {
		return fmt.Errorf("missing SMTP settings: SMTP_SERVER=%q SMTP_PORT=%q SMTP_USER=%q FROM_ADDR=%q FROM_NAME=%q",
			smtpServer, smtpPort, smtpUser, fromAddr, fromName)
	}
	msg := []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		fromName, fromAddr, to, subject, body))

	auth := smtp.PlainAuth("", smtpUser, smtpPass, smtpServer)

	if err := smtp.SendMail(smtpServer+":"+smtpPort, auth, fromAddr, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func SendVerificationEmail(to string, token string) error {
	subject := "Please verify your email address"
	verifyLink := fmt.Sprintf("http://%s/verify?token=%s", os.Getenv("Web_Host"), token)
	body := fmt.Sprintf("Click the link below to verify your email address:\n\n%s\n\nThis link will expire in 24 hours.", verifyLink)
	return SendEmail(to, subject, body)
}

// PromotionNotifier mails users when one of their levels closes.
type PromotionNotifier struct {
	// Lookup returns the address of a user by UUID.
	Lookup func(ctx context.Context, userID string) (string, error)
	Send   func(to, subject, body string) error
	Logger *zap.Logger
}

func NewPromotionNotifier(lookup func(ctx context.Context, userID string) (string, error), logger *zap.Logger) *PromotionNotifier {
	return &PromotionNotifier{Lookup: lookup, Send: SendEmail, Logger: logger}
}

// LevelPromoted sends in the background. Delivery failures are only logged.
func (n *PromotionNotifier) LevelPromoted(ctx context.Context, userID string, level int) {
	to, err := n.Lookup(ctx, userID)
	if err != nil || to == "" {
		n.Logger.Warn("no address for promotion notice", zap.String("user", userID), zap.Error(err))
		return
	}

	subject := fmt.Sprintf("You completed level %d", level)
	body := fmt.Sprintf("Both of your teams filled level %d. Your referrals now count toward level %d.", level, level+1)
	go func() {
		if err := n.Send(to, subject, body); err != nil {
			n.Logger.Warn("promotion email failed", zap.String("user", userID), zap.Int("level", level), zap.Error(err))
		}
	}()
}
