// Package httpfetch is the HTTP transport behind provider fetch functions.
// It performs exactly one request per call; retries, rate limits and circuit
// breaking belong to the worker pool.
package httpfetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

const (
	defaultTimeout      = 20 * time.Second
	defaultMaxBodyBytes = 6 << 20
	defaultUserAgent    = "statharvest/1.0"
	keyPlaceholder      = "{key}"
)

var errRequestFailed = crerr.New("provider request failed")

type Config struct {
	SourceID string
	BaseURL  string
	// PathTemplate maps a resource key onto a path, e.g. "/games/{key}.json".
	PathTemplate string
	Token        string
	// TokenParam sends the token as a query parameter instead of a bearer
	// header.
	TokenParam   string
	Timeout      time.Duration
	MaxBodyBytes int
	UserAgent    string
	Logger       *logging.Logger
}

type Client struct {
	sourceID     string
	baseURL      string
	pathTemplate string
	token        string
	tokenParam   string
	timeout      time.Duration
	userAgent    string
	logger       *logging.Logger
	http         *fasthttp.Client
	now          func() time.Time
}

func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	template := strings.TrimSpace(cfg.PathTemplate)
	if template == "" {
		template = "/" + keyPlaceholder
	}

	return &Client{
		sourceID:     cfg.SourceID,
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		pathTemplate: template,
		token:        strings.TrimSpace(cfg.Token),
		tokenParam:   strings.TrimSpace(cfg.TokenParam),
		timeout:      timeout,
		userAgent:    userAgent,
		logger:       logger,
		http: &fasthttp.Client{
			Name:                userAgent,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxResponseBodySize: maxBody,
		},
		now: time.Now,
	}
}

func (c *Client) SourceID() string { return c.sourceID }

// Fetch issues a single GET for resourceKey. It satisfies ingest.FetchFunc.
func (c *Client) Fetch(ctx context.Context, resourceKey string) (ingest.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return ingest.RawPayload{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	fullURL := c.buildURL(resourceKey)
	req.SetRequestURI(fullURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.token != "" && c.tokenParam == "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	deadline := c.now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ingest.RawPayload{}, ctxErr
		}
		kind := ingest.FailureTransient
		if stderrors.Is(err, fasthttp.ErrBodyTooLarge) {
			kind = ingest.FailurePermanent
		}
		c.logger.WarnContext(ctx, "provider request failed",
			"source_id", c.sourceID,
			"resource_key", resourceKey,
			"url", c.redact(fullURL),
			"error", c.redact(err.Error()),
		)
		return ingest.RawPayload{}, ingest.NewFetchError(kind, c.sourceID, resourceKey, 0,
			fmt.Errorf("%w: %s", errRequestFailed, c.redact(err.Error())))
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		body := append([]byte(nil), resp.Body()...)
		return ingest.RawPayload{
			SourceID:        c.sourceID,
			ResourceKey:     resourceKey,
			Body:            body,
			FetchedAt:       c.now().UTC(),
			ContentTypeHint: string(resp.Header.ContentType()),
			StatusCode:      status,
		}, nil
	}

	fetchErr := ingest.NewFetchError(classifyStatus(status), c.sourceID, resourceKey, status,
		fmt.Errorf("%w: status=%d body=%s", errRequestFailed, status, abbreviateBody(resp.Body())))
	if status == fasthttp.StatusTooManyRequests {
		fetchErr.RetryAfter = parseRetryAfter(resp.Header.Peek("Retry-After"), c.now())
	}
	return ingest.RawPayload{}, fetchErr
}

func classifyStatus(status int) ingest.FailureKind {
	switch {
	case status == fasthttp.StatusTooManyRequests:
		return ingest.FailureRateLimited
	case status == fasthttp.StatusRequestTimeout, status >= 500:
		return ingest.FailureTransient
	default:
		// 404/410 and the rest of 4xx will not improve on retry.
		return ingest.FailurePermanent
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(raw []byte, now time.Time) time.Duration {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0
	}
	if secs, err := strconv.Atoi(text); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := fasthttp.ParseHTTPDate([]byte(text)); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) buildURL(resourceKey string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(c.baseURL)
	path := strings.ReplaceAll(c.pathTemplate, keyPlaceholder, escapeKey(resourceKey))
	if !strings.HasPrefix(path, "/") {
		_ = buf.WriteByte('/')
	}
	_, _ = buf.WriteString(path)

	if c.tokenParam != "" && c.token != "" {
		if strings.Contains(path, "?") {
			_ = buf.WriteByte('&')
		} else {
			_ = buf.WriteByte('?')
		}
		_, _ = buf.WriteString(url.QueryEscape(c.tokenParam))
		_ = buf.WriteByte('=')
		_, _ = buf.WriteString(url.QueryEscape(c.token))
	}
	return buf.String()
}

// escapeKey escapes each path segment but keeps the slashes of
// hierarchical keys such as "games/401585".
func escapeKey(key string) string {
	segments := strings.Split(strings.Trim(key, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func (c *Client) redact(value string) string {
	if c.token == "" {
		return value
	}
	return strings.ReplaceAll(value, url.QueryEscape(c.token), "REDACTED")
}

func abbreviateBody(body []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(body))
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
