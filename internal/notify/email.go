package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/config"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
)

// Mailer sends one plain-text message.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer delivers mail through the configured SMTP relay.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

// NewSMTPMailer creates a mailer for cfg.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send composes the RFC 5322 message and hands it to the relay.
func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		m.cfg.From, strings.Join(to, ", "), subject, time.Now().UTC().Format(time.RFC1123Z),
	)
	msg := []byte(headers + strings.ReplaceAll(body, "\n", "\r\n") + "\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if m.cfg.UseTLS {
		return sendMailTLS(addr, m.cfg.Host, auth, m.cfg.From, to, msg)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, to, msg)
}

// sendMailTLS connects via implicit TLS (port 465) and falls back to
// smtp.SendMail, which upgrades with STARTTLS, when the TLS dial fails.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}

// EmailNotifier mails the association (or the admin, for registrations) on each event.
type EmailNotifier struct {
	mailer     Mailer
	adminEmail string
}

// NewEmailNotifier creates an email notifier. adminEmail receives registration notices.
func NewEmailNotifier(mailer Mailer, adminEmail string) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, adminEmail: adminEmail}
}

// Notify implements Notifier.
func (n *EmailNotifier) Notify(ctx context.Context, ev Event) error {
	to, subject, body := composeEmail(ev, n.adminEmail)
	if len(to) == 0 {
		telemetry.NotificationsTotal.WithLabelValues("email", string(ev.Kind), "skipped").Inc()
		return nil
	}

	if err := n.mailer.Send(ctx, to, subject, body); err != nil {
		telemetry.NotificationsTotal.WithLabelValues("email", string(ev.Kind), "failed").Inc()
		slog.Warn("email notification failed",
			"event", ev.Kind, "association_id", ev.Association.ID, "error", err)
		return fmt.Errorf("email %s notification: %w", ev.Kind, err)
	}

	telemetry.NotificationsTotal.WithLabelValues("email", string(ev.Kind), "sent").Inc()
	return nil
}

// composeEmail returns recipients, subject and body for ev. No recipients means skip.
func composeEmail(ev Event, adminEmail string) ([]string, string, string) {
	a := ev.Association
	var lines []string
	var subject string
	to := []string{a.Email}

	switch ev.Kind {
	case EventRegistered:
		if adminEmail == "" {
			return nil, "", ""
		}
		to = []string{adminEmail}
		subject = "New association registered: " + a.Name
		lines = []string{
			"A new association has registered and is waiting for approval:",
			"",
			"Name: " + a.Name,
			"Email: " + a.Email,
			"Phone: " + a.Phone,
			fmt.Sprintf("Address: %s, %s, %s, %s", a.Address, a.City, a.Region, a.PostalCode),
			"Registered: " + a.RegisteredAt.UTC().Format(time.RFC1123),
		}
		if ev.Links.Approve != "" {
			lines = append(lines, "", "Approve: "+ev.Links.Approve, "Reject: "+ev.Links.Reject)
		}
		if ev.Links.Info != "" {
			lines = append(lines, "Details: "+ev.Links.Info)
		}
		if ev.Links.Suspend != "" {
			lines = append(lines, "",
				"Once approved, manage the association with:",
				"Suspend: "+ev.Links.Suspend,
				"Reactivate: "+ev.Links.Reactivate,
				"Delete: "+ev.Links.Delete,
			)
		}

	case EventApproved:
		subject = "Your association has been approved"
		lines = []string{
			fmt.Sprintf("Hello %s,", a.Name),
			"",
			"Your association has been approved. You can now log in and publish animals for adoption.",
		}
		if ev.Notes != "" {
			lines = append(lines, "", "Notes from the administrator: "+ev.Notes)
		}

	case EventRejected:
		subject = "Your association registration was not accepted"
		lines = []string{
			fmt.Sprintf("Hello %s,", a.Name),
			"",
			"We are sorry, your registration request could not be accepted and your data has been removed.",
		}
		if ev.Reason != "" {
			lines = append(lines, "", "Reason: "+ev.Reason)
		}
		lines = append(lines, "", "You are welcome to register again with complete information.")

	case EventSuspended:
		subject = "Your association has been suspended"
		lines = []string{
			fmt.Sprintf("Hello %s,", a.Name),
			"",
			"Your association account has been temporarily suspended. Your published animals remain visible,",
			"but you cannot log in until the account is reactivated. Please contact the administrator.",
		}

	case EventReactivated:
		subject = "Your association has been reactivated"
		lines = []string{
			fmt.Sprintf("Hello %s,", a.Name),
			"",
			"Your association account is active again. You can log in and manage your animals.",
		}

	case EventDeleted:
		subject = "Your association has been deleted"
		lines = []string{
			fmt.Sprintf("Hello %s,", a.Name),
			"",
			"Your association account has been deleted and its animals are no longer listed.",
		}

	case EventPasswordReset:
		if ev.Links.ResetPassword == "" {
			return nil, "", ""
		}
		subject = "Password reset request"
		lines = []string{
			fmt.Sprintf("Hello %s,", a.Name),
			"",
			"Use the following link to choose a new password. It is valid for one hour and can be used once:",
			"",
			ev.Links.ResetPassword,
			"",
			"If you did not request a password reset you can ignore this message.",
		}

	default:
		return nil, "", ""
	}

	if a.Email == "" && ev.Kind != EventRegistered {
		return nil, "", ""
	}

	lines = append(lines, "", "-- Shelter Registry")
	return to, subject, strings.Join(lines, "\n")
}
