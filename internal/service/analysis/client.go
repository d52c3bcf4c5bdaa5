package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/service"
	xhttp "GateKeeper/pkg/http"
	"GateKeeper/pkg/logger"
)

const analyzePath = "/v1/analyze"

type Config struct {
	URL          string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client calls the external analysis service. Retries cover transient
// failures only; when they run out a 429/5xx surfaces as *models.OverloadError
// so the gate can open its error backoff.
type Client struct {
	cfg    Config
	client *xhttp.Client
	l      *logger.Logger
}

func NewClient(cfg Config, l *logger.Logger, opts ...xhttp.ClientOption) *Client {
	if l == nil {
		l = logger.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	base := []xhttp.ClientOption{xhttp.WithTimeout(cfg.Timeout)}
	if cfg.APIKey != "" {
		base = append(base, xhttp.WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	return &Client{
		cfg:    cfg,
		client: xhttp.NewClient(append(base, opts...)...),
		l:      l,
	}
}

// Capable reports whether the client has an endpoint and credentials.
func (c *Client) Capable() bool {
	return c.cfg.URL != "" && c.cfg.APIKey != ""
}

func (c *Client) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	if c.cfg.URL == "" {
		return nil, errors.New("analysis endpoint not configured")
	}

	var (
		res models.AnalysisResult
		err error
	)
	attempts := c.cfg.MaxRetries + 1
	for i := 1; i <= attempts; i++ {
		err = c.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodPost,
			URL:    strings.TrimRight(c.cfg.URL, "/") + analyzePath,
			Body:   req,
		}, &res)
		if err == nil {
			if res.Symbol == "" {
				res.Symbol = req.Symbol
			}
			return &res, nil
		}
		if !retryable(err) || i == attempts {
			break
		}

		c.l.Warn("analysis call failed, retrying",
			logger.String("symbol", req.Symbol),
			logger.Int("attempt", i),
			logger.Error(err),
		)
		select {
		case <-time.After(time.Duration(i) * c.cfg.RetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var se *xhttp.StatusError
	if errors.As(err, &se) && se.Temporary() {
		return nil, &models.OverloadError{StatusCode: se.StatusCode, Err: err}
	}
	return nil, fmt.Errorf("analyze %s: %w", req.Symbol, err)
}

// retryable is true for transport errors and 429/5xx responses.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

var _ service.Analyzer = (*Client)(nil)
