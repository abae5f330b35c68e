package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// MailConfig denotes the SMTP settings used to deliver alerts
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	From     string `yaml:"from"`
}

// Validate checks that the mail settings are complete
func (c MailConfig) Validate() error {
	if c.Host == "" {
		return errors.New("smtp host not configured")
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid smtp port %d", c.Port)
	}
	if c.From == "" {
		return errors.New("smtp sender address not configured")
	}
	return nil
}

type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailNotifier delivers alerts via SMTP
type MailNotifier struct {
	cfg      MailConfig
	template *Template
	send     sendMailFunc
}

// NewMailNotifier instantiates a new MailNotifier
func NewMailNotifier(cfg MailConfig, tpl *Template) (*MailNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tpl == nil {
		var err error
		if tpl, err = NewTemplate(""); err != nil {
			return nil, err
		}
	}
	return &MailNotifier{
		cfg:      cfg,
		template: tpl,
		send:     sendMail,
	}, nil
}

// Notify sends the alert to its recipient
func (n *MailNotifier) Notify(ctx context.Context, alert Alert) error {
	if alert.Recipient == "" {
		return errors.New("mail notifier: no recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := n.template.Render(alert)
	if err != nil {
		return fmt.Errorf("failed to render alert: %w", err)
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprint(n.cfg.Port))
	if err := n.send(ctx, addr, auth, n.cfg.From, []string{alert.Recipient}, buildMessage(n.cfg.From, alert.Recipient, body)); err != nil {
		return fmt.Errorf("failed to send alert mail to %s: %w", alert.Recipient, err)
	}
	return nil
}

// sendMail delivers msg like smtp.SendMail, but bounds the whole dialog by ctx
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return err
		}
	}

	// Unblocks any pending read or write on cancellation
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if err := converse(conn, host, a, from, to, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w (%s)", ctxErr, err)
		}
		return err
	}
	return nil
}

func converse(conn net.Conn, host string, a smtp.Auth, from string, to []string, msg []byte) error {
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp server does not support authentication")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}

func buildMessage(from, to, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", DefaultSubject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
