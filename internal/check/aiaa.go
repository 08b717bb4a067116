package check

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/sling"
)

// Model is one entry of the AIAA server's model list.
type Model struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Labels      []string `json:"labels"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
}

// APIError is the error body the server returns.
type APIError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// AIAAClient queries an AIAA server's REST API.
type AIAAClient struct {
	S *sling.Sling
}

// NewAIAAClient returns a client for server. A nil hc uses a client with a
// short timeout.
func NewAIAAClient(server string, hc *http.Client) *AIAAClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &AIAAClient{
		S: sling.New().Base(strings.TrimSuffix(server, "/") + "/").Client(hc),
	}
}

// coalesce turns an API error body into a Go error, if there was one.
func coalesce(err error, aerr *APIError, resp *http.Response) error {
	if err != nil {
		return err
	}
	if aerr != nil && aerr.Message != "" {
		return errors.New(aerr.Message)
	}
	if resp != nil && resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// Models lists the models loaded on the server.
func (c *AIAAClient) Models(ctx context.Context) ([]Model, error) {
	var aerr *APIError
	var models []Model
	req, err := c.S.New().Get("v1/models").Request()
	if err != nil {
		return nil, err
	}
	resp, err := c.S.Do(req.WithContext(ctx), &models, &aerr)
	return models, coalesce(err, aerr, resp)
}

// HasModel reports whether name is in models.
func HasModel(models []Model, name string) bool {
	for _, m := range models {
		if m.Name == name {
			return true
		}
	}
	return false
}
