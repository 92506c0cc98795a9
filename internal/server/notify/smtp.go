package notify

import (
	"context"
	"fmt"
	"mime/quotedprintable"
	"net/smtp"
	"strings"
)

// SMTPSender delivers messages through a plain SMTP relay using AUTH PLAIN
// over STARTTLS (the default for port 587 relays).
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string

	// sendMail is a seam for testing; defaults to smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender constructs a sender for the given relay. host is the bare
// hostname, addr the host:port dial target.
func NewSMTPSender(host, addr, username, password, from string) *SMTPSender {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPSender{addr: addr, auth: auth, from: from, sendMail: smtp.SendMail}
}

// Send delivers the message as a multipart/alternative MIME mail.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := buildMIME(s.from, msg)
	if err != nil {
		return fmt.Errorf("build mail: %w", err)
	}
	if err := s.sendMail(s.addr, s.auth, s.from, []string{msg.To}, body); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

const mimeBoundary = "soma-alt-1a2b3c"

func buildMIME(from string, msg *Message) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", mimeBoundary)
	b.WriteString("\r\n")

	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	} {
		fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
		fmt.Fprintf(&b, "Content-Type: %s\r\n", part.contentType)
		b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

		w := quotedprintable.NewWriter(&b)
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)

	return []byte(b.String()), nil
}
