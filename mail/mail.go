// Package mail delivers accept links for pending comments.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/nasermirzaei89/talkback/discuss"
)

const excerptLength = 280

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

// IsConfigured returns true if SMTP settings are present.
func (c SMTPConfig) IsConfigured() bool {
	return c.Host != "" && c.From != ""
}

// AcceptLink builds the link a human follows to accept a comment.
func AcceptLink(baseURL, commentID, token string) string {
	return fmt.Sprintf(
		"%s/comments/accept/%s/%s",
		strings.TrimRight(baseURL, "/"),
		url.PathEscape(commentID),
		url.PathEscape(token),
	)
}

// FormatBody builds the plain-text mail body for a pending comment.
func FormatBody(notification discuss.Notification, link string) string {
	var sb strings.Builder

	author := notification.Author
	if author == "" {
		author = "(anonymous)"
	}

	message := []rune(notification.Message)
	excerpt := string(message)

	if len(message) > excerptLength {
		excerpt = string(message[:excerptLength]) + "…"
	}

	fmt.Fprintf(&sb, "A new comment is waiting for confirmation.\n\n")
	fmt.Fprintf(&sb, "Target: %s\n", notification.Target)
	fmt.Fprintf(&sb, "Author: %s\n\n", author)
	fmt.Fprintf(&sb, "%s\n\n", excerpt)
	fmt.Fprintf(&sb, "Publish it by opening:\n\n%s\n\n", link)
	fmt.Fprintf(
		&sb,
		"The link expires at %s. Unconfirmed comments are removed afterwards.\n",
		notification.ExpiresAt.UTC().Format(time.RFC1123),
	)

	return sb.String()
}

func buildEmail(from, to, subject, body string) []byte {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("From: %s\r\n", from))
	sb.WriteString(fmt.Sprintf("To: %s\r\n", to))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)

	return []byte(sb.String())
}

// SMTPNotifier mails accept links over SMTP. Port 465 uses implicit TLS,
// every other port upgrades with STARTTLS when the server offers it.
type SMTPNotifier struct {
	config  SMTPConfig
	baseURL string
}

var _ discuss.Notifier = (*SMTPNotifier)(nil)

func NewSMTPNotifier(config SMTPConfig, baseURL string) *SMTPNotifier {
	return &SMTPNotifier{config: config, baseURL: baseURL}
}

func (n *SMTPNotifier) NotifyPending(ctx context.Context, notification discuss.Notification) error {
	if notification.Destination == "" {
		return fmt.Errorf("no notification destination configured")
	}

	link := AcceptLink(n.baseURL, notification.CommentID, notification.Token)
	subject := fmt.Sprintf("New comment on %s", notification.Target)
	msg := buildEmail(n.config.From, notification.Destination, subject, FormatBody(notification, link))

	err := n.send(ctx, notification.Destination, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func (n *SMTPNotifier) send(ctx context.Context, to string, msg []byte) (err error) {
	addr := net.JoinHostPort(n.config.Host, n.config.Port)
	tlsCfg := &tls.Config{ServerName: n.config.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn

	if n.config.Port == "465" {
		dialer := &tls.Dialer{Config: tlsCfg}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		dialer := &net.Dialer{}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}

	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		err = conn.SetDeadline(deadline)
		if err != nil {
			return fmt.Errorf("failed to set connection deadline: %w", err)
		}
	}

	c, err := smtp.NewClient(conn, n.config.Host)
	if err != nil {
		_ = conn.Close()

		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	quit := false

	defer func() {
		if quit {
			return
		}

		closeErr := c.Close()
		if closeErr != nil {
			slog.DebugContext(ctx, "failed to close SMTP client", "error", closeErr)
		}
	}()

	if n.config.Port != "465" {
		if ok, _ := c.Extension("STARTTLS"); ok {
			err = c.StartTLS(tlsCfg)
			if err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if n.config.User != "" {
		err = c.Auth(smtp.PlainAuth("", n.config.User, n.config.Pass, n.config.Host))
		if err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	err = c.Mail(n.config.From)
	if err != nil {
		return fmt.Errorf("failed on mail from: %w", err)
	}

	err = c.Rcpt(to)
	if err != nil {
		return fmt.Errorf("failed on rcpt to %s: %w", to, err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to open data: %w", err)
	}

	_, err = w.Write(msg)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}

	err = c.Quit()
	if err != nil {
		return fmt.Errorf("failed to quit: %w", err)
	}

	quit = true

	return nil
}

// LogNotifier writes accept links to out instead of mailing them. It is used
// when SMTP is not configured.
type LogNotifier struct {
	out     io.Writer
	baseURL string
}

var _ discuss.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(out io.Writer, baseURL string) *LogNotifier {
	return &LogNotifier{out: out, baseURL: baseURL}
}

func (n *LogNotifier) NotifyPending(ctx context.Context, notification discuss.Notification) error {
	link := AcceptLink(n.baseURL, notification.CommentID, notification.Token)

	slog.InfoContext(ctx, "accept link generated", "commentId", notification.CommentID, "target", notification.Target)

	_, err := fmt.Fprintf(n.out, "[DEV] Accept link for comment %s on %s: %s\n", notification.CommentID, notification.Target, link)
	if err != nil {
		return fmt.Errorf("failed to write accept link: %w", err)
	}

	return nil
}
