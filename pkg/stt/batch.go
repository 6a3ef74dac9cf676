package stt

import (
	"context"
	"strings"
	"time"

	"github.com/voxen-labs/voxen/pkg/errhandler"
)

const (
	prerecordedEndpoint = "https://api.deepgram.com/v1/listen"
	batchTimeout        = 30 * time.Second
)

type prerecordedResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// TranscribeRecording 对录音 URL 做离线转写
func (p *DeepgramProvider) TranscribeRecording(ctx context.Context, recordingURL string) (string, error) {
	if p.cfg.APIKey == "" {
		return "", errhandler.NewFatalError("stt", "deepgram api key is not configured", nil)
	}
	if recordingURL == "" {
		return "", errhandler.NewValidationError("stt", "recording url is required")
	}

	var out prerecordedResponse
	resp, err := p.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"model":        p.cfg.Model,
			"language":     p.cfg.Language,
			"smart_format": "true",
			"punctuate":    "true",
		}).
		SetBody(map[string]string{"url": recordingURL}).
		SetResult(&out).
		Post(prerecordedEndpoint)
	if err != nil {
		return "", errhandler.NewTransientError("stt", "transcribe recording request failed", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
			return "", errhandler.NewTransientError("stt", "transcribe recording: "+resp.Status(), nil)
		}
		return "", errhandler.NewFatalError("stt", "transcribe recording: "+resp.Status(), nil)
	}

	var parts []string
	for _, ch := range out.Results.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(ch.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}
