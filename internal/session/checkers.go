package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stellarlinkco/kbyg/internal/upstream"
)

const requestTimeout = 10 * time.Second

// User identifies a signed-in account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// HTTPSessionChecker asks a session endpoint who the bearer token belongs
// to. Unauthorized answers and unreachable endpoints count as not ready.
type HTTPSessionChecker struct {
	url    string
	token  string
	client *resty.Client

	mu   sync.Mutex
	user *User
}

func NewHTTPSessionChecker(url, token string) *HTTPSessionChecker {
	return &HTTPSessionChecker{
		url:    url,
		token:  token,
		client: resty.New().SetTimeout(requestTimeout),
	}
}

func (c *HTTPSessionChecker) Check(ctx context.Context) (bool, error) {
	req := c.client.R().SetContext(ctx)
	if c.token != "" {
		req.SetAuthToken(c.token)
	}
	resp, err := req.Get(c.url)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Printf("[session] %s unreachable: %v", c.url, err)
		return false, ErrNotReady
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized,
		resp.StatusCode() == http.StatusForbidden,
		resp.StatusCode() == http.StatusNotFound:
		return false, ErrNotReady
	case !resp.IsSuccess():
		return false, &upstream.StatusError{Status: resp.StatusCode(), Body: resp.String()}
	}
	var out struct {
		User *User `json:"user"`
	}
	// Session endpoints do not always label their JSON, so decode by hand.
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return false, fmt.Errorf("decode session: %w", err)
	}
	if out.User == nil || out.User.ID == "" {
		return false, ErrNotReady
	}
	c.mu.Lock()
	c.user = out.User
	c.mu.Unlock()
	return true, nil
}

// User returns the account seen by the last successful check.
func (c *HTTPSessionChecker) User() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// HealthChecker waits for a kbyg server's /health to answer 200.
func HealthChecker(baseURL string) CheckFunc {
	client := resty.New().SetTimeout(requestTimeout)
	url := strings.TrimRight(baseURL, "/") + "/health"
	return func(ctx context.Context) (bool, error) {
		resp, err := client.R().SetContext(ctx).Get(url)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, ErrNotReady
		}
		return resp.StatusCode() == http.StatusOK, nil
	}
}
