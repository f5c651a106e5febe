package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ms-seatsale/internal/logger"
)

type M2MConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type m2mTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// M2MTokenSource fetches client-credentials tokens for calls to other
// services, reusing a cached token until shortly before it expires.
type M2MTokenSource struct {
	cfg    M2MConfig
	client *http.Client
	cache  *RedisTokenCache
	logger *logger.Logger
}

func NewM2MTokenSource(cfg M2MConfig, client *http.Client, cache *RedisTokenCache, log *logger.Logger) *M2MTokenSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &M2MTokenSource{cfg: cfg, client: client, cache: cache, logger: log}
}

func (s *M2MTokenSource) Token(ctx context.Context) (string, error) {
	if s.cache != nil {
		cached, err := s.cache.GetToken(ctx)
		if err != nil {
			s.logger.Warn("AUTH", fmt.Sprintf("token cache read failed: %v", err))
		} else if cached != nil {
			return cached.Token, nil
		}
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if s.cache != nil && expiresIn > 0 {
		if err := s.cache.SetToken(ctx, token, expiresIn); err != nil {
			s.logger.Warn("AUTH", fmt.Sprintf("token cache write failed: %v", err))
		}
	}
	return token, nil
}

func (s *M2MTokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", s.cfg.ClientID)
	data.Set("client_secret", s.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Error("AUTH", fmt.Sprintf("token endpoint returned %s: %s", resp.Status, body))
		return "", 0, fmt.Errorf("failed to get token, status: %s", resp.Status)
	}

	var tokenResp m2mTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("token response without access_token")
	}
	s.logger.Debug("AUTH", fmt.Sprintf("fetched token for %s, expires in %ds", s.cfg.ClientID, tokenResp.ExpiresIn))
	return tokenResp.AccessToken, time.Duration(tokenResp.ExpiresIn) * time.Second, nil
}
