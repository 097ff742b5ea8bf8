package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Synthesizer turns one sentence of text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, sentence string) ([]byte, error)
}

const googleTTSEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

// GoogleSynthesizer calls the Google Cloud text-to-speech REST API and
// returns MP3 audio.
type GoogleSynthesizer struct {
	APIKey       string
	Voice        string
	LanguageCode string
	SpeakingRate float64

	// Endpoint overrides the API URL, for tests.
	Endpoint   string
	httpClient *http.Client
}

func NewGoogleSynthesizer(apiKey, voice, languageCode string, speakingRate float64) *GoogleSynthesizer {
	return &GoogleSynthesizer{
		APIKey:       apiKey,
		Voice:        voice,
		LanguageCode: languageCode,
		SpeakingRate: speakingRate,
		Endpoint:     googleTTSEndpoint,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type googleTTSRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate"`
	} `json:"audioConfig"`
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, sentence string) ([]byte, error) {
	var reqBody googleTTSRequest
	reqBody.Input.Text = sentence
	reqBody.Voice.LanguageCode = g.LanguageCode
	reqBody.Voice.Name = g.Voice
	reqBody.AudioConfig.AudioEncoding = "MP3"
	reqBody.AudioConfig.SpeakingRate = g.SpeakingRate

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", g.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("synthesis failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var result struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode synthesis response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(result.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", err)
	}
	return audio, nil
}
