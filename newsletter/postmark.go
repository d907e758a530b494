package newsletter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"github.com/mrz1836/postmark"
	"golang.org/x/exp/slog"
)

type statusKey struct{}

// statusTransport turns 429 and 5xx answers into a *retry.StatusError so the
// envelope retries them. It records the status code when the request context
// asks for it.
type statusTransport struct {
	next http.RoundTripper
}

func (st statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := st.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if code, ok := req.Context().Value(statusKey{}).(*int); ok {
		*code = resp.StatusCode
	}
	if retry.IsTransient(&retry.StatusError{Code: resp.StatusCode}) {
		err := retry.CheckResponse(resp)
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

// Postmark sends through the Postmark HTTP API.
type Postmark struct {
	client *postmark.Client
	retry  retry.Controller
	logger *slog.Logger
}

func NewPostmark(token string, httpClient *http.Client, rc retry.Controller, logger *slog.Logger) *Postmark {
	next := httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	hc := *httpClient
	hc.Transport = statusTransport{next: next}

	client := postmark.NewClient(token, "")
	client.HTTPClient = &hc

	return &Postmark{
		client: client,
		retry:  rc,
		logger: logger,
	}
}

// SetBaseURL points the client at another API host.
func (p *Postmark) SetBaseURL(url string) {
	p.client.BaseURL = strings.TrimSuffix(url, "/")
}

func (p *Postmark) Send(ctx context.Context, msg Message) error {
	email := postmark.Email{
		From:     msg.From,
		To:       strings.Join(msg.To, ","),
		Subject:  msg.Subject,
		HTMLBody: msg.HTML,
		TextBody: msg.Text,
	}

	if err := p.retry.Do(ctx, "postmark", func(ctx context.Context) error {
		var status int
		resp, err := p.client.SendEmail(context.WithValue(ctx, statusKey{}, &status), email)
		if err == nil {
			return nil
		}
		// accepted, but the answer could not be read
		if resp.ErrorCode == 0 && status >= 200 && status < 300 {
			p.logger.Warn("postmark accepted the email with an unreadable response", slog.Int("status", status), slog.String("error", err.Error()))
			return nil
		}
		return err
	}); err != nil {
		return fmt.Errorf("%w: postmark: %w", model.ErrDeliveryFailed, err)
	}

	return nil
}
