package synthesis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = 2 * time.Second
)

// Client implements ports.Synthesizer against the synthesis backend.
// Rate-limited calls are retried with exponential backoff; every other
// failure, and retry exhaustion, classifies as synthesis-unavailable so
// the caller can degrade to a nil synthesis.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	logger      *slog.Logger
	maxRetries  int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	onRetry     func()
}

// Option adjusts client behavior; used by tests to collapse backoff time.
type Option func(*Client)

// WithRetryPolicy overrides the retry count and initial backoff.
func WithRetryPolicy(maxRetries int, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoffBase = base
	}
}

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithRetryObserver registers a callback fired once per retried attempt.
func WithRetryObserver(fn func()) Option {
	return func(c *Client) { c.onRetry = fn }
}

func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// backendResponse is the wire envelope: the synthesis itself arrives
// JSON-encoded inside text.
type backendResponse struct {
	Text string `json:"text"`
}

type sessionPayload struct {
	Token    string                `json:"token"`
	Spread   string                `json:"spread"`
	Question string                `json:"question,omitempty"`
	Cards    []ports.SynthesisCard `json:"cards"`
}

type tarotRequest struct {
	Session      sessionPayload `json:"session"`
	IsPortuguese bool           `json:"isPortuguese"`
}

type dailyCardRequest struct {
	Card         ports.SynthesisCard `json:"card"`
	IsPortuguese bool                `json:"isPortuguese"`
}

func (c *Client) Fetch(ctx context.Context, req ports.SynthesisRequest) (*domain.Synthesis, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: backend not configured", domain.ErrSynthesisUnavailable)
	}

	path, body, err := c.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSynthesisUnavailable, err)
	}

	var text string
	for attempt := 0; ; attempt++ {
		text, err = c.post(ctx, path, body)
		if err == nil {
			break
		}
		if !isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSynthesisUnavailable, err)
		}
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("%w after %d retries: %w", domain.ErrSynthesisUnavailable, c.maxRetries, err)
		}

		if c.onRetry != nil {
			c.onRetry()
		}
		delay := c.backoffBase << attempt
		c.logger.WarnContext(ctx, "synthesis rate limited, backing off",
			"session_token", req.SessionToken, "attempt", attempt+1, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrSynthesisUnavailable, err)
		}
	}

	syn, err := decodeSynthesis(req.Kind, text)
	if err != nil {
		// Malformed payloads degrade exactly like an unreachable backend.
		c.logger.WarnContext(ctx, "synthesis payload malformed",
			"session_token", req.SessionToken, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrSynthesisUnavailable, err)
	}
	return syn, nil
}

func (c *Client) buildRequest(req ports.SynthesisRequest) (path string, body []byte, err error) {
	isPT := strings.HasPrefix(strings.ToLower(req.Lang), "pt")

	if req.Kind == domain.SpreadDailyCard {
		if len(req.Cards) != 1 {
			return "", nil, fmt.Errorf("daily card requires exactly one card, got %d", len(req.Cards))
		}
		body, err = json.Marshal(dailyCardRequest{Card: req.Cards[0], IsPortuguese: isPT})
		return "/api/daily-card", body, err
	}

	body, err = json.Marshal(tarotRequest{
		Session: sessionPayload{
			Token:    req.SessionToken,
			Spread:   req.SpreadID,
			Question: req.Question,
			Cards:    req.Cards,
		},
		IsPortuguese: isPT,
	})
	return "/api/tarot", body, err
}

func (c *Client) post(ctx context.Context, path string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status %d", domain.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("backend status %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope backendResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	return strings.TrimSpace(envelope.Text), nil
}

// decodeSynthesis parses the JSON-encoded payload into the variant the
// spread category dictates.
func decodeSynthesis(kind domain.SpreadKind, text string) (*domain.Synthesis, error) {
	syn := &domain.Synthesis{Kind: kind}

	var target any
	switch kind {
	case domain.SpreadThreeCard:
		syn.ThreeCard = &domain.ThreeCardSynthesis{}
		target = syn.ThreeCard
	case domain.SpreadCelticCross:
		syn.CelticCross = &domain.CelticCrossSynthesis{}
		target = syn.CelticCross
	case domain.SpreadLove:
		syn.Love = &domain.LoveSynthesis{}
		target = syn.Love
	case domain.SpreadYesNo:
		syn.YesNo = &domain.YesNoSynthesis{}
		target = syn.YesNo
	case domain.SpreadDailyCard:
		syn.DailyCard = &domain.DailyCardSynthesis{}
		target = syn.DailyCard
	default:
		return nil, fmt.Errorf("unknown spread kind %q", kind)
	}

	if err := json.Unmarshal([]byte(text), target); err != nil {
		return nil, fmt.Errorf("parse synthesis: %w", err)
	}
	return syn, nil
}

func isRateLimited(err error) bool {
	return errors.Is(err, domain.ErrRateLimited)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
