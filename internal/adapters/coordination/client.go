package coordination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// maxBodyBytes bounds a response; real replies are one short line.
const maxBodyBytes = 64 << 10

// Config describes the coordination service endpoints and the wait convention.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	TargetPath     string        `yaml:"target_path"`
	PeersPath      string        `yaml:"peers_path"`
	WaitToken      string        `yaml:"wait_token"`
	WaitInterval   time.Duration `yaml:"wait_interval"`
	MaxWaitRetries int           `yaml:"max_wait_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.TargetPath == "" {
		c.TargetPath = "/location"
	}
	if c.PeersPath == "" {
		c.PeersPath = "/users"
	}
	if c.WaitToken == "" {
		c.WaitToken = "Wait"
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = 5 * time.Second
	}
	if c.MaxWaitRetries <= 0 {
		c.MaxWaitRetries = 12
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url %q must be an http(s) URL", c.BaseURL)
	}
	return nil
}

// errWait marks a response equal to the wait sentinel.
var errWait = errors.New("coordination: server asked to wait")

type Client struct {
	cfg    Config
	http   *http.Client
	obs    ports.Observability
	tracer trace.Tracer
}

// NewClient builds a client; obs may be nil.
func NewClient(cfg Config, obs ports.Observability) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		obs:    obs,
		tracer: otel.Tracer("github.com/ghalamif/SoundMap/coordination"),
	}, nil
}

// RequestTarget asks for the next sampling target. The position and user are
// sent as request headers.
func (c *Client) RequestTarget(ctx context.Context, user string, pos domain.GeoPoint) (domain.Target, error) {
	ctx, span := c.tracer.Start(ctx, "coordination.target",
		trace.WithAttributes(attribute.String("user", user)))
	defer span.End()

	headers := http.Header{}
	headers.Set("username", user)
	headers.Set("lat", strconv.FormatFloat(pos.Latitude, 'f', -1, 64))
	headers.Set("lng", strconv.FormatFloat(pos.Longitude, 'f', -1, 64))

	body, err := c.getWithWait(ctx, c.cfg.TargetPath, headers)
	if err != nil {
		c.fail(span, "target", err)
		return domain.Target{}, err
	}

	target, err := ParseTarget(body)
	if err != nil {
		c.fail(span, "target", err)
		return domain.Target{}, err
	}
	span.SetAttributes(attribute.String("target.tag", target.Tag))
	c.count("soundmap_coordination_requests_total")
	return target, nil
}

// RequestPeers fetches the roster of other active participants. Only
// transport failures and wait exhaustion are errors.
func (c *Client) RequestPeers(ctx context.Context) ([]domain.PeerLocation, error) {
	ctx, span := c.tracer.Start(ctx, "coordination.peers")
	defer span.End()

	body, err := c.getWithWait(ctx, c.cfg.PeersPath, nil)
	if err != nil {
		c.fail(span, "peers", err)
		return []domain.PeerLocation{}, err
	}
	peers := ParsePeers(body)
	span.SetAttributes(attribute.Int("peers", len(peers)))
	c.count("soundmap_coordination_requests_total")
	return peers, nil
}

// getWithWait issues the same GET until the body is something other than the
// wait sentinel, pausing WaitInterval between attempts.
func (c *Client) getWithWait(ctx context.Context, path string, headers http.Header) (string, error) {
	op := func() (string, error) {
		body, err := c.get(ctx, path, headers)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if body == c.cfg.WaitToken {
			c.count("soundmap_coordination_wait_total")
			return "", errWait
		}
		return body, nil
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.WaitInterval)),
		backoff.WithMaxTries(uint(c.cfg.MaxWaitRetries)+1),
	)
	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, errWait):
		return "", fmt.Errorf("%w: %s still waiting after %d retries", domain.ErrTimeout, path, c.cfg.MaxWaitRetries)
	case errors.Is(err, domain.ErrUnreachable):
		return "", err
	default:
		// context cancelled during a wait pause
		return "", fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}
}

func (c *Client) get(ctx context.Context, path string, headers http.Header) (string, error) {
	url := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %v", domain.ErrUnreachable, url, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if c.obs != nil {
		c.obs.ObserveLatency("soundmap_coordination_latency_seconds", time.Since(start).Seconds())
	}

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: GET %s: status %s", domain.ErrUnreachable, url, resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrUnreachable, url, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *Client) fail(span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if c.obs == nil {
		return
	}
	c.obs.IncCounter("soundmap_coordination_failures_total", 1)
	c.obs.LogWarn("coordination_request_failed", err, ports.Field{Key: "op", Value: op})
}

func (c *Client) count(name string) {
	if c.obs != nil {
		c.obs.IncCounter(name, 1)
	}
}

var _ ports.Coordinator = (*Client)(nil)
