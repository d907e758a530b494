package main

import (
	"testing"

	"ewintr.nl/tubedigest/config"
	"github.com/stretchr/testify/assert"
)

func TestProviderOrder(t *testing.T) {
	cfg := config.Config{
		SummaryProviders:       []string{"groq", "OpenAI"},
		TranscriptionProviders: []string{"openai"},
	}

	var names []string
	for _, p := range newSummaryProviders(cfg) {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"groq", "openai"}, names)

	transcribers := newTranscribers(cfg)
	assert.Len(t, transcribers, 1)
	assert.Equal(t, "openai", transcribers[0].Name())
}

func TestCommands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{{"run"}, {"watermarks"}, {"cache", "clear"}} {
		cmd, _, err := root.Find(path)
		assert.NoError(t, err)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
