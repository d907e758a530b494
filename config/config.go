package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ewintr.nl/tubedigest/model"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
}

type Config struct {
	Channels     []model.Channel
	ChannelsFile string

	VideoSource      string
	YoutubeAPIKey    string
	MinifluxEndpoint string
	MinifluxAPIKey   string
	CaptionLanguages []string

	OpenAIAPIKey             string
	GroqAPIKey               string
	SummaryProviders         []string
	TranscriptionProviders   []string
	OpenAIModel              string
	GroqModel                string
	OpenAITranscriptionModel string
	GroqTranscriptionModel   string

	Delivery      string
	PostmarkToken string
	SMTP          SMTP
	EmailFrom     string
	EmailTo       []string

	Storage         string
	SQLitePath      string
	Postgres        Postgres
	TranscriptCache string
	RedisURL        string
	WeaviateHost    string
	WeaviateAPIKey  string

	Concurrency         int
	MaxKeyPoints        int
	TargetWords         int
	MaxTranscriptChars  int
	MaxVideosPerChannel int
	InitialLookback     time.Duration
	RunTimeout          time.Duration
	CallTimeout         time.Duration
	MaxAttempts         int
	MaxRateWait         time.Duration
	MaxFailedRuns       int
	AlwaysAdvance       bool

	AudioDir  string
	YtDlpPath string
	LockPath  string
	LogLevel  string
}

type channelFile struct {
	Channels []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"channels"`
}

// Load reads the configuration from the environment and the channel list
// from CHANNELS_FILE. Every problem is reported as model.ErrConfiguration.
func Load() (Config, error) {
	p := &parser{}
	cfg := Config{
		ChannelsFile: getParam("CHANNELS_FILE", filepath.Join(xdg.ConfigHome, "tubedigest", "channels.yaml")),

		VideoSource:      getParam("VIDEO_SOURCE", "youtube"),
		YoutubeAPIKey:    getParam("YOUTUBE_API_KEY", ""),
		MinifluxEndpoint: getParam("MINIFLUX_ENDPOINT", "http://localhost/v1"),
		MinifluxAPIKey:   getParam("MINIFLUX_APIKEY", ""),
		CaptionLanguages: list(getParam("CAPTION_LANGUAGES", "en")),

		OpenAIAPIKey:             getParam("OPENAI_API_KEY", ""),
		GroqAPIKey:               getParam("GROQ_API_KEY", ""),
		SummaryProviders:         list(getParam("SUMMARY_PROVIDERS", "openai,groq")),
		TranscriptionProviders:   list(getParam("TRANSCRIPTION_PROVIDERS", "groq,openai")),
		OpenAIModel:              getParam("OPENAI_MODEL", "gpt-4o"),
		GroqModel:                getParam("GROQ_MODEL", "llama-3.3-70b-versatile"),
		OpenAITranscriptionModel: getParam("OPENAI_TRANSCRIPTION_MODEL", "whisper-1"),
		GroqTranscriptionModel:   getParam("GROQ_TRANSCRIPTION_MODEL", "whisper-large-v3"),

		Delivery:      getParam("DELIVERY", "postmark"),
		PostmarkToken: getParam("POSTMARK_SERVER_TOKEN", ""),
		SMTP: SMTP{
			Host:     getParam("SMTP_HOST", "localhost"),
			Port:     p.integer("SMTP_PORT", "587"),
			Username: getParam("SMTP_USERNAME", ""),
			Password: getParam("SMTP_PASSWORD", ""),
		},
		EmailFrom: getParam("EMAIL_FROM", ""),
		EmailTo:   list(getParam("EMAIL_TO", "")),

		Storage:    getParam("STORAGE", "sqlite"),
		SQLitePath: getParam("SQLITE_PATH", filepath.Join(xdg.DataHome, "tubedigest", "tubedigest.db")),
		Postgres: Postgres{
			Host:     getParam("POSTGRES_HOST", "localhost"),
			Port:     getParam("POSTGRES_PORT", "5432"),
			User:     getParam("POSTGRES_USER", "tubedigest"),
			Password: getParam("POSTGRES_PASSWORD", "tubedigest"),
			Database: getParam("POSTGRES_DB", "tubedigest"),
		},
		TranscriptCache: getParam("TRANSCRIPT_CACHE", "sql"),
		RedisURL:        getParam("REDIS_URL", "redis://localhost:6379/0"),
		WeaviateHost:    getParam("WEAVIATE_HOST", ""),
		WeaviateAPIKey:  getParam("WEAVIATE_APIKEY", ""),

		Concurrency:         p.integer("CONCURRENCY", "4"),
		MaxKeyPoints:        p.integer("MAX_KEY_POINTS", "5"),
		TargetWords:         p.integer("TARGET_WORDS", "150"),
		MaxTranscriptChars:  p.integer("MAX_TRANSCRIPT_CHARS", "60000"),
		MaxVideosPerChannel: p.integer("MAX_VIDEOS_PER_CHANNEL", "5"),
		InitialLookback:     p.duration("INITIAL_LOOKBACK", "72h"),
		RunTimeout:          p.duration("RUN_TIMEOUT", "30m"),
		CallTimeout:         p.duration("CALL_TIMEOUT", "5m"),
		MaxAttempts:         p.integer("MAX_ATTEMPTS", "4"),
		MaxRateWait:         p.duration("MAX_RATE_WAIT", "2m"),
		MaxFailedRuns:       p.integer("MAX_FAILED_RUNS", "3"),
		AlwaysAdvance:       p.boolean("ALWAYS_ADVANCE", "false"),

		AudioDir:  getParam("AUDIO_DIR", filepath.Join(xdg.CacheHome, "tubedigest", "audio")),
		YtDlpPath: getParam("YTDLP_PATH", "yt-dlp"),
		LockPath:  getParam("LOCK_PATH", filepath.Join(xdg.DataHome, "tubedigest", "run.lock")),
		LogLevel:  getParam("LOG_LEVEL", "info"),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	return cfg, nil
}

// LoadChannels reads the channel list. ${VAR} references in the file are
// replaced by environment values.
func LoadChannels(path string) ([]model.Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading channel file: %w", model.ErrConfiguration, err)
	}

	var file channelFile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &file); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", model.ErrConfiguration, path, err)
	}

	channels := make([]model.Channel, 0, len(file.Channels))
	seen := map[string]bool{}
	for i, c := range file.Channels {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: channel %d in %s has no id", model.ErrConfiguration, i+1, path)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		channels = append(channels, model.Channel{
			ID:   model.YoutubeChannelID(id),
			Name: strings.TrimSpace(c.Name),
		})
	}

	return channels, nil
}

// Validate checks the settings a run needs. Commands that do not run the
// pipeline skip it.
func (cfg Config) Validate() error {
	var problems []string
	if len(cfg.Channels) == 0 {
		problems = append(problems, "no channels configured")
	}

	switch cfg.VideoSource {
	case "youtube":
		if cfg.YoutubeAPIKey == "" {
			problems = append(problems, "YOUTUBE_API_KEY is required for the youtube source")
		}
	case "miniflux":
		if cfg.MinifluxAPIKey == "" {
			problems = append(problems, "MINIFLUX_APIKEY is required for the miniflux source")
		}
	case "rss":
	default:
		problems = append(problems, fmt.Sprintf("unsupported VIDEO_SOURCE %q (supported: youtube, miniflux, rss)", cfg.VideoSource))
	}

	if len(cfg.SummaryProviders) == 0 {
		problems = append(problems, "SUMMARY_PROVIDERS is empty")
	}
	for _, name := range append(append([]string{}, cfg.SummaryProviders...), cfg.TranscriptionProviders...) {
		switch name {
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				problems = append(problems, "OPENAI_API_KEY is required for provider openai")
			}
		case "groq":
			if cfg.GroqAPIKey == "" {
				problems = append(problems, "GROQ_API_KEY is required for provider groq")
			}
		default:
			problems = append(problems, fmt.Sprintf("unsupported provider %q (supported: openai, groq)", name))
		}
	}

	switch cfg.Delivery {
	case "postmark":
		if cfg.PostmarkToken == "" {
			problems = append(problems, "POSTMARK_SERVER_TOKEN is required for postmark delivery")
		}
	case "smtp":
		if cfg.SMTP.Host == "" {
			problems = append(problems, "SMTP_HOST is required for smtp delivery")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported DELIVERY %q (supported: postmark, smtp)", cfg.Delivery))
	}
	if cfg.EmailFrom == "" {
		problems = append(problems, "EMAIL_FROM is required")
	}
	if len(cfg.EmailTo) == 0 {
		problems = append(problems, "EMAIL_TO is required")
	}

	if err := cfg.ValidateStorage(); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.Concurrency < 1 {
		problems = append(problems, "CONCURRENCY must be at least 1")
	}
	if cfg.MaxKeyPoints < 1 {
		problems = append(problems, "MAX_KEY_POINTS must be at least 1")
	}
	if cfg.MaxAttempts < 1 {
		problems = append(problems, "MAX_ATTEMPTS must be at least 1")
	}
	if cfg.MaxFailedRuns < 0 {
		problems = append(problems, "MAX_FAILED_RUNS can not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrConfiguration, strings.Join(problems, "; "))
	}

	return nil
}

// ValidateStorage checks only the storage settings.
func (cfg Config) ValidateStorage() error {
	switch cfg.Storage {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported STORAGE %q (supported: sqlite, postgres)", model.ErrConfiguration, cfg.Storage)
	}
	switch cfg.TranscriptCache {
	case "sql", "redis":
	default:
		return fmt.Errorf("%w: unsupported TRANSCRIPT_CACHE %q (supported: sql, redis)", model.ErrConfiguration, cfg.TranscriptCache)
	}

	return nil
}

func getParam(param, def string) string {
	if val, ok := os.LookupEnv(param); ok {
		return val
	}
	return def
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(param, val, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q is not a valid %s", model.ErrConfiguration, param, val, want)
	}
}

func (p *parser) integer(param, def string) int {
	val := getParam(param, def)
	i, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		p.fail(param, val, "number")
	}
	return i
}

func (p *parser) duration(param, def string) time.Duration {
	val := getParam(param, def)
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		p.fail(param, val, "duration")
	}
	return d
}

func (p *parser) boolean(param, def string) bool {
	val := getParam(param, def)
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		p.fail(param, val, "boolean")
	}
	return b
}

func list(val string) []string {
	items := []string{}
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}
