// Package mailer sends the application's transactional email over SMTP and
// implements the delivery worker's Sender contract.
package mailer

import (
	"context"
	"fmt"
	"html"

	"github.com/asmiverse/capsule-server/internal/config"
	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/wneessen/go-mail"
)

type Mailer struct {
	client  *mail.Client
	from    string
	baseURL string
}

func New(cfg config.SMTPConfig, baseURL string) (*Mailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Pass),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Mailer{client: client, from: cfg.From, baseURL: baseURL}, nil
}

func (m *Mailer) send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)
	return m.client.DialAndSendWithContext(ctx, msg)
}

// SendCapsule delivers an unlocked capsule to its recipient. One attempt, no
// retry; the delivery worker re-selects the capsule if this fails.
func (m *Mailer) SendCapsule(ctx context.Context, toEmail string, c *models.Capsule) error {
	subject := fmt.Sprintf("Your Time Capsule %q is Ready!", c.Title)
	return m.send(ctx, toEmail, subject, capsuleUnlockedBody(m.baseURL, c))
}

// SendCreationConfirmation tells the owner their capsule was scheduled.
// Callers fire this best-effort; it is not part of the delivery contract.
func (m *Mailer) SendCreationConfirmation(ctx context.Context, ownerEmail string, c *models.Capsule) error {
	return m.send(ctx, ownerEmail, "Your Time Capsule Was Created Successfully",
		creationConfirmationBody(c))
}

func (m *Mailer) SendVerification(ctx context.Context, toEmail, token string) error {
	link := fmt.Sprintf("%s/verifyemail?token=%s", m.baseURL, token)
	body := fmt.Sprintf(`<p>Click <a href="%s">here</a> to verify your email.<br>%s</p>`, link, link)
	return m.send(ctx, toEmail, "Verify your AsmiVerse account", body)
}

func (m *Mailer) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", m.baseURL, token)
	body := fmt.Sprintf(`<p>Click <a href="%s">here</a> to reset your password.<br>%s</p>`, link, link)
	return m.send(ctx, toEmail, "Reset your AsmiVerse password", body)
}

func (m *Mailer) SendWelcome(ctx context.Context, toEmail, name string) error {
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf(`<p>Welcome, %s! Start creating your first capsule <a href="%s/Create">here</a>.</p>`,
		html.EscapeString(name), m.baseURL)
	return m.send(ctx, toEmail, "Welcome to AsmiVerse!", body)
}

func capsuleUnlockedBody(baseURL string, c *models.Capsule) string {
	body := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #8a2be2;">Your Time Capsule is Unlocked!</h2>
  <p>Hello %s,</p>
  <p>The time capsule <strong>%q</strong> scheduled for <strong>%s</strong> is now open.</p>`,
		html.EscapeString(c.RecipientName),
		html.EscapeString(c.Title),
		c.UnlockAt.Format(displayTimeLayout))
	if c.Message != "" {
		body += fmt.Sprintf("\n  <p>%s</p>", html.EscapeString(c.Message))
	}
	if c.MediaURL != "" {
		body += fmt.Sprintf("\n  <p>It includes an attachment: <a href=%q>view media</a>.</p>", c.MediaURL)
	}
	body += fmt.Sprintf(`
  <p>View it <a href="%s/view-capsule/%s">here</a>.</p>
</div>`, baseURL, c.ID)
	return body
}

func creationConfirmationBody(c *models.Capsule) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #8a2be2;">Time Capsule Created!</h2>
  <p>Your time capsule <strong>%q</strong> has been created successfully.</p>
  <p>It will be delivered to <strong>%s</strong> (%s) on <strong>%s</strong>.</p>
  <p>You can view and manage your capsules from your account dashboard.</p>
  <p>Thank you for using our Time Capsule service!</p>
</div>`,
		html.EscapeString(c.Title),
		html.EscapeString(c.RecipientName),
		html.EscapeString(c.RecipientEmail),
		c.UnlockAt.Format(displayTimeLayout))
}

const displayTimeLayout = "02 January 2006, 03:04 PM MST"
