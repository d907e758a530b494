package newsletter_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/newsletter"
	"ewintr.nl/tubedigest/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestPostmarkSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Postmark-Server-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"To": "a@example.com", "ErrorCode": 0, "Message": "OK", "MessageID": "abc"}`)
	}))
	defer srv.Close()

	pm := newsletter.NewPostmark("secret", srv.Client(), retry.Passthrough{}, testLogger())
	pm.SetBaseURL(srv.URL)

	err := pm.Send(context.Background(), newsletter.Message{
		From:    "from@example.com",
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "subject",
		HTML:    "<p>html</p>",
		Text:    "text",
	})
	require.NoError(t, err)
	assert.Equal(t, "from@example.com", got["From"])
	assert.Equal(t, "a@example.com,b@example.com", got["To"])
	assert.Equal(t, "<p>html</p>", got["HtmlBody"])
	assert.Equal(t, "text", got["TextBody"])
}

func TestPostmarkUnreadableAcceptance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>ok</html>`)
	}))
	defer srv.Close()

	pm := newsletter.NewPostmark("secret", srv.Client(), retry.Passthrough{}, testLogger())
	pm.SetBaseURL(srv.URL)

	assert.NoError(t, pm.Send(context.Background(), newsletter.Message{To: []string{"a@example.com"}}))
}

func TestPostmarkFailure(t *testing.T) {
	for _, tc := range []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{name: "rejected", status: http.StatusUnprocessableEntity, body: `{"ErrorCode": 300, "Message": "Invalid email request"}`},
		{name: "error code", status: http.StatusOK, body: `{"ErrorCode": 406, "Message": "Inactive recipient"}`},
		{name: "unavailable", status: http.StatusServiceUnavailable, transient: true},
		{name: "gateway", status: 520, transient: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			pm := newsletter.NewPostmark("secret", srv.Client(), retry.Passthrough{}, testLogger())
			pm.SetBaseURL(srv.URL)

			err := pm.Send(context.Background(), newsletter.Message{To: []string{"a@example.com"}})
			assert.ErrorIs(t, err, model.ErrDeliveryFailed)
			assert.Equal(t, tc.transient, retry.IsTransient(err))
		})
	}
}

type recordingSender struct {
	msgs []newsletter.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg newsletter.Message) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestNewsletterPublish(t *testing.T) {
	sender := &recordingSender{}
	nl := newsletter.New("from@example.com", []string{"to@example.com"}, sender, testLogger())

	require.NoError(t, nl.Publish(context.Background(), date, entries()))
	require.Len(t, sender.msgs, 1)
	assert.Equal(t, "YouTube Update - May 3, 2024", sender.msgs[0].Subject)
	assert.Equal(t, []string{"to@example.com"}, sender.msgs[0].To)
	assert.Contains(t, sender.msgs[0].HTML, "Older video")

	sender.err = errors.New("connection refused")
	err := nl.Publish(context.Background(), date, entries())
	assert.ErrorIs(t, err, model.ErrDeliveryFailed)
}
