// Package reporter posts step progress events and terminal task results
// back to the coordinator.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

type Client struct {
	baseURL    string
	workerID   string
	httpClient *http.Client
}

func New(baseURL, workerID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		workerID:   workerID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) StepEvent(ctx context.Context, ev mnapi.StepEvent) error {
	ev.WorkerID = c.workerID
	return c.post(ctx, "/v1/tasks/progress", ev)
}

func (c *Client) TaskResult(ctx context.Context, req mnapi.ReportTaskResultRequest) error {
	req.WorkerID = c.workerID
	return c.post(ctx, "/v1/tasks/report", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %s", path, resp.Status)
	}
	return nil
}
