package newsletter

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"ewintr.nl/tubedigest/model"
)

// SMTP sends a multipart text and html message through a mail server.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(host string, port int, username, password string) *SMTP {
	return &SMTP{
		host:     host,
		port:     port,
		username: username,
		password: password,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: smtp: %w", model.ErrDeliveryFailed, err)
	}
	raw, err := buildMIME(msg)
	if err != nil {
		return fmt.Errorf("%w: smtp: %w", model.ErrDeliveryFailed, err)
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	addr := s.host + ":" + strconv.Itoa(s.port)
	if err := s.sendMail(addr, auth, msg.From, msg.To, raw); err != nil {
		return fmt.Errorf("%w: smtp: failed to send: %w", model.ErrDeliveryFailed, err)
	}

	return nil
}

func buildMIME(msg Message) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=\"UTF-8\"", msg.Text},
		{"text/html; charset=\"UTF-8\"", msg.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var raw bytes.Buffer
	fmt.Fprintf(&raw, "From: %s\r\n", msg.From)
	fmt.Fprintf(&raw, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&raw, "Subject: %s\r\n", msg.Subject)
	raw.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&raw, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	raw.Write(body.Bytes())

	return raw.Bytes(), nil
}
