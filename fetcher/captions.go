package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
)

var ErrNoCaptions = errors.New("no usable captions")

// CaptionFetcher returns the published caption text of a video, or
// ErrNoCaptions.
type CaptionFetcher interface {
	FetchCaptions(ctx context.Context, videoID model.YoutubeVideoID) (string, error)
}

const (
	innertubePlayerURL = "https://www.youtube.com/youtubei/v1/player"
	androidVersion     = "20.10.38"
	androidUserAgent   = "com.google.android.youtube/" + androidVersion + " (Linux; U; Android 11) gzip"
)

type playerRequest struct {
	VideoID        string        `json:"videoId"`
	Context        playerContext `json:"context"`
	RacyCheckOk    bool          `json:"racyCheckOk"`
	ContentCheckOk bool          `json:"contentCheckOk"`
}

type playerContext struct {
	Client playerClient `json:"client"`
}

type playerClient struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	AndroidSdkVersion int    `json:"androidSdkVersion,omitempty"`
	Hl                string `json:"hl,omitempty"`
}

type playerResponse struct {
	Captions *struct {
		Renderer struct {
			Tracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type timedText struct {
	Lines []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

// Innertube reads caption tracks the way the Android app does: the player
// endpoint lists the tracks, the chosen track is fetched as timedtext XML.
type Innertube struct {
	PlayerURL string
	Languages []string
	client    *http.Client
	retry     retry.Controller
}

func NewInnertube(client *http.Client, languages []string, rc retry.Controller) *Innertube {
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	return &Innertube{
		PlayerURL: innertubePlayerURL,
		Languages: languages,
		client:    client,
		retry:     rc,
	}
}

func (it *Innertube) FetchCaptions(ctx context.Context, videoID model.YoutubeVideoID) (string, error) {
	player, err := retry.Call(ctx, it.retry, "youtube-captions", func(ctx context.Context) (playerResponse, error) {
		return it.player(ctx, videoID)
	})
	if err != nil {
		return "", fmt.Errorf("player %s: %w", videoID, err)
	}
	if player.PlayabilityStatus != nil && player.PlayabilityStatus.Status != "" && player.PlayabilityStatus.Status != "OK" {
		return "", fmt.Errorf("%w: video %s is %s: %s", ErrNoCaptions, videoID, player.PlayabilityStatus.Status, player.PlayabilityStatus.Reason)
	}
	if player.Captions == nil || len(player.Captions.Renderer.Tracks) == 0 {
		return "", fmt.Errorf("%w: video %s has no caption tracks", ErrNoCaptions, videoID)
	}
	track, ok := pickTrack(player.Captions.Renderer.Tracks, it.Languages)
	if !ok {
		return "", fmt.Errorf("%w: video %s only has browser bound tracks", ErrNoCaptions, videoID)
	}

	text, err := retry.Call(ctx, it.retry, "youtube-captions", func(ctx context.Context) (string, error) {
		return it.timedText(ctx, track.BaseURL)
	})
	if err != nil {
		return "", fmt.Errorf("timedtext %s: %w", videoID, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: video %s has an empty caption track", ErrNoCaptions, videoID)
	}

	return text, nil
}

func (it *Innertube) player(ctx context.Context, videoID model.YoutubeVideoID) (playerResponse, error) {
	body, err := json.Marshal(playerRequest{
		VideoID: string(videoID),
		Context: playerContext{Client: playerClient{
			ClientName:        "ANDROID",
			ClientVersion:     androidVersion,
			AndroidSdkVersion: 30,
			Hl:                "en",
		}},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return playerResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.PlayerURL+"?prettyPrint=false", bytes.NewReader(body))
	if err != nil {
		return playerResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", androidUserAgent)
	req.Header.Set("X-Youtube-Client-Name", "3")
	req.Header.Set("X-Youtube-Client-Version", androidVersion)

	resp, err := it.client.Do(req)
	if err != nil {
		return playerResponse{}, err
	}
	defer resp.Body.Close()
	if err := retry.CheckResponse(resp); err != nil {
		return playerResponse{}, err
	}

	var player playerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 3*1024*1024)).Decode(&player); err != nil {
		return playerResponse{}, fmt.Errorf("decode player response: %w", err)
	}

	return player, nil
}

func (it *Innertube) timedText(ctx context.Context, trackURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", androidUserAgent)

	resp, err := it.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := retry.CheckResponse(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", err
	}

	return parseTimedText(body)
}

func parseTimedText(body []byte) (string, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext: %w", err)
	}

	lines := make([]string, 0, len(tt.Lines))
	for _, line := range tt.Lines {
		// timedtext escapes twice, xml decoding only removes one level
		text := strings.Join(strings.Fields(html.UnescapeString(line.Text)), " ")
		if text != "" {
			lines = append(lines, text)
		}
	}

	return strings.Join(lines, " "), nil
}

// pickTrack prefers manual tracks over generated ones in the order of the
// preferred languages, then any English track. Tracks that need a browser
// proof of origin token are skipped.
func pickTrack(tracks []captionTrack, languages []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if t.BaseURL != "" && !strings.Contains(t.BaseURL, "&exp=xpe") {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range languages {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range languages {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}

	return usable[0], true
}
