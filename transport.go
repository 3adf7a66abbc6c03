package callbackd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"
)

// Client is the agent-side transport: it assembles a report, optionally
// obfuscates it under the current rotation window, and posts it to the
// registration endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	// Cipher, when set, must be configured identically to the server's
	// (same seed, rotation period, algorithm); reports are then sent
	// encrypted. Nil sends them in the clear.
	Cipher *RotatingCipher
	// HTTPClient defaults to a client with a 15s timeout.
	HTTPClient *http.Client
}

// RegisterResult is the server's acknowledgement of a registration.
type RegisterResult struct {
	CallbackID    int64  `json:"callback_id"`
	Timestamp     string `json:"timestamp"`
	IntegrityHash string `json:"integrity_hash"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errBody.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Register sends a report. With a cipher configured the report JSON rides
// inside the encrypted envelope; the api key always stays in the clear so
// the server can authenticate before attempting decryption.
func (c *Client) Register(ctx context.Context, report Report) (RegisterResult, error) {
	var body map[string]any
	if c.Cipher != nil {
		plain, err := json.Marshal(report)
		if err != nil {
			return RegisterResult{}, err
		}
		payload, err := c.Cipher.Encrypt(plain)
		if err != nil {
			return RegisterResult{}, fmt.Errorf("encrypt report: %w", err)
		}
		body = map[string]any{
			"api_key":   c.APIKey,
			"encrypted": true,
			"data":      payload,
		}
	} else {
		raw, err := json.Marshal(report)
		if err != nil {
			return RegisterResult{}, err
		}
		body = map[string]any{}
		if err := json.Unmarshal(raw, &body); err != nil {
			return RegisterResult{}, err
		}
		body["api_key"] = c.APIKey
	}

	var result RegisterResult
	if err := c.postJSON(ctx, "/api/v1/register", body, &result); err != nil {
		return RegisterResult{}, err
	}
	return result, nil
}

// Heartbeat refreshes the server's last-seen marker for hostname.
func (c *Client) Heartbeat(ctx context.Context, hostname string) error {
	return c.postJSON(ctx, "/api/v1/heartbeat", map[string]string{
		"api_key":  c.APIKey,
		"hostname": hostname,
	}, nil)
}

// DetectReport fills a report from the local machine: hostname, user, and
// platform. Callers add anything richer through Extra.
func DetectReport() Report {
	report := Report{
		OSType:       runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
	if host, err := os.Hostname(); err == nil {
		report.Hostname = host
	}
	if user := os.Getenv("USER"); user != "" {
		report.Username = user
	}
	return report
}
