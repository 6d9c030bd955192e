package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/utils"
)

const (
	defaultBaseURL     = "https://api.bilibili.com"
	defaultPassportURL = "https://passport.bilibili.com"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	referer   = "https://www.bilibili.com/"
)

// Cookies is the login cookie jar keyed by cookie name (SESSDATA, bili_jct,
// DedeUserID).
type Cookies map[string]string

// CSRF returns the bili_jct value used as csrf token on mutating calls.
func (c Cookies) CSRF() string { return c["bili_jct"] }

// Mid returns the numeric account id from DedeUserID, 0 when absent.
func (c Cookies) Mid() int64 {
	v, _ := strconv.ParseInt(c["DedeUserID"], 10, 64)
	return v
}

// APIError is a non-zero business code returned inside an otherwise
// successful HTTP response envelope.
type APIError struct {
	Code     int
	Message  string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bilibili api %s: code=%d message=%s", e.Endpoint, e.Code, e.Message)
}

// AccessDenied reports whether the code means the caller lacks permission
// for the resource rather than the resource being absent or the call
// malformed. -403 covers permission walls, -101 an expired login.
func (e *APIError) AccessDenied() bool {
	return e.Code == -403 || e.Code == -101
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("bilibili http %d: %s", e.StatusCode, e.Body)
}

func isRetryableStatus(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) {
		return isRetryableStatus(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	v := low + rand.Float64()*(2*delta)
	return time.Duration(v * float64(time.Second))
}

// Client talks to the public web API. All listing and playback endpoints go
// through doJSON, which retries transient failures with exponential backoff
// but surfaces business codes untouched.
type Client struct {
	log         *logger.Logger
	baseURL     string
	passportURL string
	httpClient  *http.Client
	signer      *WbiSigner
	maxRetries  int
	pageDelay   time.Duration
}

func NewClient(log *logger.Logger) (*Client, error) {
	clientLog := log.With("service", "BilibiliClient")
	baseURL := utils.GetEnv("BILIBILI_BASE_URL", defaultBaseURL, log)
	passportURL := utils.GetEnv("BILIBILI_PASSPORT_URL", defaultPassportURL, log)
	timeoutSec := utils.GetEnvAsInt("BILIBILI_TIMEOUT_SECONDS", 30, log)
	maxRetries := utils.GetEnvAsInt("BILIBILI_MAX_RETRIES", 3, log)

	httpClient := &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}
	return &Client{
		log:         clientLog,
		baseURL:     baseURL,
		passportURL: passportURL,
		httpClient:  httpClient,
		signer:      NewWbiSigner(clientLog, httpClient, baseURL+"/x/web-interface/nav"),
		maxRetries:  maxRetries,
		pageDelay:   300 * time.Millisecond,
	}, nil
}

// SetHTTPClient swaps the transport. Meant for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
	c.signer.httpClient = hc
}

func applyBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Origin", "https://www.bilibili.com")
}

func applyCookies(req *http.Request, cookies map[string]string) {
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func decodeJSON(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return json.Unmarshal(raw, out)
}

// envelope is the common response wrapper. Data stays raw so each endpoint
// decodes its own shape after the code check.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) getOnce(ctx context.Context, rawURL string, params url.Values, cookies Cookies) (*http.Response, []byte, error) {
	u := rawURL
	if len(params) > 0 {
		u = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	applyBrowserHeaders(req)
	applyCookies(req, cookies)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// doJSON performs a GET against endpoint, retrying transient failures, and
// decodes the envelope's data field into out when the business code is zero.
func (c *Client) doJSON(ctx context.Context, endpoint, rawURL string, params url.Values, cookies Cookies, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.getOnce(ctx, rawURL, params, cookies)
		if err == nil {
			var env envelope
			if uErr := json.Unmarshal(raw, &env); uErr != nil {
				return fmt.Errorf("bilibili decode error on %s: %w", endpoint, uErr)
			}
			if env.Code != 0 {
				return &APIError{Code: env.Code, Message: env.Message, Endpoint: endpoint}
			}
			if out == nil || len(env.Data) == 0 {
				return nil
			}
			if uErr := json.Unmarshal(env.Data, out); uErr != nil {
				return fmt.Errorf("bilibili decode data on %s: %w", endpoint, uErr)
			}
			return nil
		}

		if !isRetryableErr(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := backoff
		if resp != nil {
			ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
			if ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("Bilibili request retrying",
			"endpoint", endpoint,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

// doSignedJSON signs params with wbi before issuing the request.
func (c *Client) doSignedJSON(ctx context.Context, endpoint, rawURL string, params url.Values, cookies Cookies, out any) error {
	signed, err := c.signer.Sign(ctx, params, cookies)
	if err != nil {
		return fmt.Errorf("wbi sign for %s: %w", endpoint, err)
	}
	return c.doJSON(ctx, endpoint, rawURL, signed, cookies, out)
}
