package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"shelfwatch/internal/event"
)

// EmailOptions configures the SMTP notifier.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SendMailFunc matches smtp.SendMail, which upgrades with STARTTLS when offered.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends multipart text and HTML alerts over SMTP.
type EmailNotifier struct {
	opts     EmailOptions
	sendMail SendMailFunc
	logger   zerolog.Logger
}

// NewEmailNotifier validates opts. A nil sendMail uses smtp.SendMail.
func NewEmailNotifier(opts EmailOptions, sendMail SendMailFunc, logger zerolog.Logger) (*EmailNotifier, error) {
	if opts.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if len(opts.To) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.From == "" {
		opts.From = opts.Username
	}
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &EmailNotifier{
		opts:     opts,
		sendMail: sendMail,
		logger:   logger.With().Str("component", "alert_email").Logger(),
	}, nil
}

// Send composes and delivers the message. smtp.SendMail has no context
// support, so ctx is only checked before dialing.
func (n *EmailNotifier) Send(ctx context.Context, ev event.Event, localTime string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := n.compose(ev, localTime)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}
	addr := net.JoinHostPort(n.opts.Host, strconv.Itoa(n.opts.Port))
	if err := n.sendMail(addr, auth, n.opts.From, n.opts.To, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info().
		Str("kind", string(ev.Kind())).
		Str("entity", ev.EntityName()).
		Msg("告警已发送 (Email)")
	return nil
}

func (n *EmailNotifier) compose(ev event.Event, localTime string) ([]byte, error) {
	html, err := HTMLBody(ev, localTime)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", TextBody(ev, localTime)},
		{"text/html; charset=utf-8", html},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.opts.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.opts.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", Subject(ev)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

var _ Notifier = (*EmailNotifier)(nil)
