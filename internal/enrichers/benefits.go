package enrichers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"benefit-worker/internal/circuitbreaker"
	"benefit-worker/internal/common/errors"
	commonhttp "benefit-worker/internal/common/http"
	"benefit-worker/internal/common/logging"
	"benefit-worker/internal/metrics"
	"benefit-worker/internal/models"
)

// DecisionKind selects a decision endpoint
type DecisionKind string

const (
	ParentalBenefit  DecisionKind = "parental-benefit"
	PregnancyBenefit DecisionKind = "pregnancy-benefit"
)

const (
	// DefaultPageSize is the feed page size
	DefaultPageSize = 100
	// DefaultMaxFeedPages bounds DecisionFeed
	DefaultMaxFeedPages = 1000
)

// TokenSource hands out bearer tokens
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// BenefitsConfig configures the benefits provider client
type BenefitsConfig struct {
	BaseURL      string
	PageSize     int
	MaxFeedPages int
	// RequestsPerSecond limits outgoing calls; zero disables the limiter
	RequestsPerSecond float64
	Burst             int
}

func (c *BenefitsConfig) validate() error {
	if c.BaseURL == "" {
		return errors.ConfigError("benefits base URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return errors.ConfigError(fmt.Sprintf("invalid benefits base URL: %v", err))
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxFeedPages <= 0 {
		c.MaxFeedPages = DefaultMaxFeedPages
	}
	if c.RequestsPerSecond < 0 {
		return errors.ConfigError("requests per second must not be negative")
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	return nil
}

// BenefitsClient reads decisions from the benefits provider
type BenefitsClient struct {
	config  BenefitsConfig
	baseURL string
	tokens  TokenSource
	client  *http.Client
	breaker *circuitbreaker.GoBreakerAdapter
	limiter *rate.Limiter
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewBenefitsClient creates a client. A nil http.Client gets the shared
// defaults with a ten second timeout.
func NewBenefitsClient(config BenefitsConfig, tokens TokenSource, client *http.Client, m *metrics.Metrics) (*BenefitsClient, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, errors.ConfigError("token source is required")
	}
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}

	logger := logging.GetGlobalLogger().WithFields(logging.String("component", "benefits-client"))

	c := &BenefitsClient{
		config:  config,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		tokens:  tokens,
		client:  client,
		breaker: circuitbreaker.NewGoBreaker("benefits-provider", circuitbreaker.UpstreamConfig, logger),
		logger:  logger,
		metrics: m,
	}
	if config.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}
	return c, nil
}

// CurrentDecision returns the subject's current decision of kind, or nil if
// there is none.
func (c *BenefitsClient) CurrentDecision(ctx context.Context, kind DecisionKind, subjectID string) (*models.Decision, error) {
	endpoint := fmt.Sprintf("%s/decision/current/%s?%s", c.baseURL, kind,
		url.Values{"subjectId": {subjectID}}.Encode())

	body, err := c.get(ctx, string(kind), endpoint)
	if err != nil {
		return nil, err
	}

	var decisions []wireDecision
	if err := json.Unmarshal(body, &decisions); err != nil {
		return nil, errors.ParseError("decisions", err).WithContext("kind", string(kind))
	}
	if len(decisions) == 0 {
		return nil, nil
	}

	decision, err := decisions[0].toDecision()
	if err != nil {
		return nil, withKind(err, kind)
	}
	return decision, nil
}

// CurrentParentalBenefit returns the current parental benefit decision
func (c *BenefitsClient) CurrentParentalBenefit(ctx context.Context, subjectID string) (*models.Decision, error) {
	return c.CurrentDecision(ctx, ParentalBenefit, subjectID)
}

// CurrentPregnancyBenefit returns the current pregnancy benefit decision
func (c *BenefitsClient) CurrentPregnancyBenefit(ctx context.Context, subjectID string) (*models.Decision, error) {
	return c.CurrentDecision(ctx, PregnancyBenefit, subjectID)
}

// DecisionFeed returns every decision in the subject's history feed, in the
// order the pages arrived.
func (c *BenefitsClient) DecisionFeed(ctx context.Context, subjectID string) ([]models.Decision, error) {
	var decisions []models.Decision
	offset := 0

	for page := 0; ; page++ {
		if page >= c.config.MaxFeedPages {
			return nil, errors.UpstreamUnavailable(
				fmt.Sprintf("decision feed did not end within %d pages", c.config.MaxFeedPages), nil).
				WithContext("offset", offset)
		}

		endpoint := fmt.Sprintf("%s/decision/feed?%s", c.baseURL, url.Values{
			"subjectId": {subjectID},
			"offset":    {strconv.Itoa(offset)},
			"pageSize":  {strconv.Itoa(c.config.PageSize)},
		}.Encode())

		body, err := c.get(ctx, "feed", endpoint)
		if err != nil {
			return nil, err
		}

		var result wireFeedPage
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, errors.ParseError("feed page", err).WithContext("offset", offset)
		}

		for _, element := range result.Elements {
			decision, err := element.toDecision()
			if err != nil {
				return nil, withContext(err, "offset", offset)
			}
			decision.Type = element.Type
			decisions = append(decisions, *decision)
		}

		c.logger.Debug("Read decision feed page",
			logging.Int("page", page),
			logging.Int("offset", offset),
			logging.Int("elements", len(result.Elements)),
			logging.Bool("has_more", result.HasMore),
		)

		if !result.HasMore {
			return decisions, nil
		}
		offset += c.config.PageSize
	}
}

// get performs one authenticated GET and returns the body of a 2xx response
func (c *BenefitsClient) get(ctx context.Context, label, endpoint string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.UpstreamUnavailable("rate limiter wait aborted", err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var body []byte
	start := time.Now()
	status := "error"

	err = c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return errors.InternalError("failed to create request", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return errors.UpstreamUnavailable("decision request failed", err)
		}
		defer resp.Body.Close()

		status = statusClass(resp.StatusCode)
		if !commonhttp.IsSuccess(resp.StatusCode) {
			return errors.UpstreamError(resp.StatusCode, commonhttp.ReadErrorBody(resp))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return errors.UpstreamUnavailable("failed to read response body", err)
		}
		return nil
	})
	c.metrics.ObserveUpstream(label, status, time.Since(start))

	if err != nil {
		if stderrors.Is(err, circuitbreaker.ErrOpen) || stderrors.Is(err, context.Canceled) {
			err = errors.UpstreamUnavailable("decision request not attempted", err)
		}
		return nil, err
	}
	return body, nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func withKind(err error, kind DecisionKind) error {
	return withContext(err, "kind", string(kind))
}

func withContext(err error, key string, value interface{}) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.WithContext(key, value)
	}
	return err
}
