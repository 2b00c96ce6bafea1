package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Config carries the Daraja credentials and endpoints. Secrets come
// from the environment via internal/config.
type Config struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	PassKey            string
	B2CShortCode       string
	InitiatorName      string
	SecurityCredential string
	CallbackBaseURL    string
	// B2CSuccessCode is the result code the gateway reports for a
	// successful payout. Documented as 0; some deployments report a
	// different code, hence configurable.
	B2CSuccessCode int
}

const tokenCacheKey = "mpesa:access_token"

// Client talks to the Daraja sandbox/production API. It is safe for
// concurrent use; the access token is shared through Redis so multiple
// instances do not each burn a token exchange per request.
type Client struct {
	cfg  Config
	http *http.Client
	rdb  *redis.Client
	log  *zap.SugaredLogger
}

func NewClient(cfg Config, rdb *redis.Client, log *zap.SugaredLogger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		rdb:  rdb,
		log:  log,
	}
}

// accessToken returns a cached token or fetches a fresh one via the
// client-credentials exchange.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.rdb != nil {
		if tok, err := c.rdb.Get(ctx, tokenCacheKey).Result(); err == nil && tok != "" {
			return tok, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("token exchange: decode: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token exchange: empty token")
	}

	if c.rdb != nil {
		// tokens are valid for ~1h; cache short of that
		if err := c.rdb.Set(ctx, tokenCacheKey, out.AccessToken, 50*time.Minute).Err(); err != nil {
			c.log.Warnf("cache mpesa token: %v", err)
		}
	}
	return out.AccessToken, nil
}

// postJSON sends an authenticated JSON request and decodes the JSON
// response into out.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

// password builds the Lipa Na M-Pesa password: base64 of
// shortcode+passkey+timestamp.
func (c *Client) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + ts))
}

func timestamp(t time.Time) string {
	return t.Format("20060102150405")
}
