package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ewintr.nl/tubedigest/model"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	className = "DigestEntry"
)

// Weaviate archives delivered digest entries so past newsletters can be
// searched semantically.
type Weaviate struct {
	client *weaviate.Client
}

// NewWeaviate connects over https unless host carries an explicit http://
// scheme, which is what a local instance usually needs.
func NewWeaviate(host, weaviateApiKey, openaiApiKey string) (*Weaviate, error) {
	scheme := "https"
	if rest, ok := strings.CutPrefix(host, "http://"); ok {
		scheme, host = "http", rest
	}
	host = strings.TrimPrefix(host, "https://")

	config := weaviate.Config{
		Scheme:     scheme,
		Host:       host,
		AuthConfig: auth.ApiKey{Value: weaviateApiKey},
		Headers: map[string]string{
			"X-OpenAI-Api-Key": openaiApiKey,
		},
	}

	c, err := weaviate.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &Weaviate{client: c}, nil
}

// EnsureSchema creates the archive class if it does not exist yet.
func (w *Weaviate) EnsureSchema(ctx context.Context) error {
	_, err := w.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
	if err == nil {
		return nil
	}
	var clientErr *fault.WeaviateClientError
	if !errors.As(err, &clientErr) || clientErr.StatusCode != http.StatusNotFound {
		return err
	}

	text := func(name string, vectorize bool) *models.Property {
		return &models.Property{
			Name:     name,
			DataType: []string{"text"},
			ModuleConfig: map[string]any{
				"text2vec-openai": map[string]any{"skip": !vectorize},
			},
		}
	}
	classObj := &models.Class{
		Class:       className,
		Description: "Summarized videos that were sent in a digest",
		Vectorizer:  "text2vec-openai",
		Properties: []*models.Property{
			text("videoId", false),
			text("channel", false),
			text("title", true),
			text("url", false),
			text("publishedAt", false),
			text("synopsis", true),
			{Name: "keyPoints", DataType: []string{"text[]"}},
			text("provider", false),
		},
		ModuleConfig: map[string]any{
			"text2vec-openai": map[string]any{
				"model":        "ada",
				"modelVersion": "002",
				"type":         "text",
			},
		},
	}

	return w.client.Schema().ClassCreator().WithClass(classObj).Do(ctx)
}

func entryID(entry model.DigestEntry) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(entry.Video.URL())).String()
}

func (w *Weaviate) Save(ctx context.Context, entry model.DigestEntry) error {
	vID := entryID(entry)
	props := map[string]any{
		"videoId":     string(entry.Video.ID),
		"channel":     entry.Video.ChannelName,
		"title":       entry.Video.Title,
		"url":         entry.Video.URL(),
		"publishedAt": entry.Video.PublishedAt.Format(time.RFC3339),
		"synopsis":    entry.Summary.Synopsis,
		"keyPoints":   entry.Summary.KeyPoints,
		"provider":    entry.Summary.Provider,
	}

	// check it already exists
	exists, err := w.client.Data().
		Checker().
		WithID(vID).
		WithClassName(className).
		Do(ctx)
	if err != nil {
		return err
	}

	if exists {
		return w.client.Data().
			Updater().
			WithID(vID).
			WithClassName(className).
			WithProperties(props).
			Do(ctx)
	}

	_, err = w.client.Data().
		Creator().
		WithClassName(className).
		WithID(vID).
		WithProperties(props).
		Do(ctx)

	return err
}
