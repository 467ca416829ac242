package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTokenTimeout = 10 * time.Second

// APITokenSource mints ephemeral client secrets from the provider's session
// endpoint. The long-lived API key never travels further than this call.
type APITokenSource struct {
	client *resty.Client
	model  string
	voice  string
}

// NewAPITokenSource creates a token source against baseURL (e.g.
// "https://api.openai.com/v1") authenticated with apiKey.
func NewAPITokenSource(baseURL, apiKey, model, voice string) *APITokenSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(defaultTokenTimeout).
		SetHeader("OpenAI-Beta", "realtime=v1")
	return &APITokenSource{client: client, model: model, voice: voice}
}

type sessionTokenResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Token requests a fresh client secret. Any failure, including an empty
// secret in a 2xx response, wraps ErrCredentialUnavailable.
func (s *APITokenSource) Token(ctx context.Context) (string, error) {
	var out sessionTokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"model": s.model, "voice": s.voice}).
		SetResult(&out).
		Post("/realtime/sessions")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d", ErrCredentialUnavailable, resp.StatusCode())
	}
	if out.ClientSecret.Value == "" {
		return "", fmt.Errorf("%w: empty client secret", ErrCredentialUnavailable)
	}
	return out.ClientSecret.Value, nil
}
