package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/replica"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the streaks daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListTimers fetches all timers sorted by title.
func (c *Client) ListTimers() ([]models.TimerView, error) {
	body, err := c.do(http.MethodGet, "/timers", nil)
	if err != nil {
		return nil, err
	}
	var views []models.TimerView
	if err := json.Unmarshal(body, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// GetTimer fetches a single timer.
func (c *Client) GetTimer(title string) (*models.TimerView, error) {
	return c.view(http.MethodGet, timerPath(title), nil)
}

// CreateTimer starts a timer, backdated by ago when positive.
func (c *Client) CreateTimer(title string, ago time.Duration) (*models.TimerView, error) {
	body := map[string]interface{}{"title": title}
	if ago > 0 {
		body["start"] = time.Now().Add(-ago).UTC()
	}
	return c.view(http.MethodPost, "/timers", body)
}

// ResetTimer records the current streak and starts the next one.
func (c *Client) ResetTimer(title, reason string, pause bool) (*models.TimerView, error) {
	body := map[string]interface{}{
		"reason": reason,
		"pause":  pause,
	}
	return c.view(http.MethodPost, timerPath(title, "reset"), body)
}

// ResumeTimer resumes a paused timer.
func (c *Client) ResumeTimer(title string) (*models.TimerView, error) {
	return c.view(http.MethodPost, timerPath(title, "resume"), nil)
}

// RenameTimer moves a timer to a new title.
func (c *Client) RenameTimer(title, newTitle string) (*models.TimerView, error) {
	return c.view(http.MethodPost, timerPath(title, "rename"), map[string]string{"title": newTitle})
}

// SetRules replaces a timer's rules text.
func (c *Client) SetRules(title, rules string) (*models.TimerView, error) {
	return c.view(http.MethodPut, timerPath(title, "rules"), map[string]string{"rules": rules})
}

// DeleteTimer removes a timer on this device.
func (c *Client) DeleteTimer(title string) error {
	_, err := c.do(http.MethodDelete, timerPath(title), nil)
	return err
}

// SyncStatus fetches the synchronizer status.
func (c *Client) SyncStatus() (*replica.Status, error) {
	body, err := c.do(http.MethodGet, "/sync/status", nil)
	if err != nil {
		return nil, err
	}
	var st replica.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}

func (c *Client) view(method, path string, data interface{}) (*models.TimerView, error) {
	body, err := c.do(method, path, data)
	if err != nil {
		return nil, err
	}
	var v models.TimerView
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) do(method, path string, data interface{}) ([]byte, error) {
	var reqBody io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}

	return body, nil
}

func timerPath(title string, suffix ...string) string {
	p := "/timers/" + url.PathEscape(title)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}
