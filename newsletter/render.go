package newsletter

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"ewintr.nl/tubedigest/model"
)

const (
	placeholder = "<!-- VIDEO_CONTENT_PLACEHOLDER -->"
	header      = "<h1>YouTube Update</h1>"
	dateLayout  = "January 2, 2006"
)

//go:embed email.html
var layout string

var cardTemplate = template.Must(template.New("card").Parse(`
<div class="video-card">
  <h2><a href="{{ .Video.URL }}">{{ .Video.Title }}</a></h2>
  <p class="channel-name">{{ .Video.ChannelName }}</p>
  <a href="{{ .Video.URL }}"><img class="thumbnail" src="{{ .Thumbnail }}" alt="{{ .Video.Title }}"></a>
  <p class="synopsis">{{ .Summary.Synopsis }}</p>
  <ul class="key-points">
  {{- range .Summary.KeyPoints }}
    <li>{{ . }}</li>
  {{- end }}
  </ul>
</div>
`))

type card struct {
	model.DigestEntry
	Thumbnail string
}

// Rendered is a digest ready to be sent.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

func Subject(date time.Time) string {
	return fmt.Sprintf("YouTube Update - %s", date.Format(dateLayout))
}

// Render fills the email layout with one card per entry, in the order given,
// and renders a plain text version alongside.
func Render(date time.Time, entries []model.DigestEntry) (Rendered, error) {
	var cards strings.Builder
	for _, e := range entries {
		thumb := e.Video.ThumbnailURL
		if thumb == "" {
			thumb = model.DefaultThumbnail(e.Video.ID)
		}
		if err := cardTemplate.Execute(&cards, card{DigestEntry: e, Thumbnail: thumb}); err != nil {
			return Rendered{}, fmt.Errorf("render card for %s: %w", e.Video.ID, err)
		}
	}

	html := strings.Replace(layout, placeholder, cards.String(), 1)
	html = strings.Replace(html, header, fmt.Sprintf("<h1>YouTube Update - %s</h1>", template.HTMLEscapeString(date.Format(dateLayout))), 1)

	return Rendered{
		Subject: Subject(date),
		HTML:    html,
		Text:    renderText(date, entries),
	}, nil
}

func renderText(date time.Time, entries []model.DigestEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "YouTube Update - %s\n\n", date.Format(dateLayout))
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\n", e.Video.Title)
		fmt.Fprintf(&b, "Channel: %s\n", e.Video.ChannelName)
		fmt.Fprintf(&b, "%s\n\n", e.Video.URL())
		fmt.Fprintf(&b, "%s\n\n", e.Summary.Synopsis)
		for _, p := range e.Summary.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n---\n\n")
	}

	return b.String()
}
