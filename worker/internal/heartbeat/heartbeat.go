// Package heartbeat keeps the coordinator aware the worker is alive and
// relays cancel signals piggybacked on the responses.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

type Client struct {
	baseURL    string
	workerID   string
	interval   time.Duration
	httpClient *http.Client

	// cancels receives task ids the coordinator wants aborted.
	cancels chan string
}

func New(baseURL, workerID string, interval time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		workerID:   workerID,
		interval:   interval,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cancels:    make(chan string, 8),
	}
}

// Cancels delivers task ids to abort, one per receive.
func (c *Client) Cancels() <-chan string {
	return c.cancels
}

func (c *Client) Start(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.send(ctx); err != nil {
				log.Printf("heartbeat failed: %v", err)
			}
		}
	}
}

func (c *Client) send(ctx context.Context) error {
	body, err := json.Marshal(mnapi.HeartbeatRequest{TimestampUnix: time.Now().Unix()})
	if err != nil {
		return err
	}
	url := c.baseURL + "/v1/workers/" + c.workerID + "/heartbeat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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
		return statusError(resp.Status)
	}
	var out mnapi.HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	for _, id := range out.CancelTaskIDs {
		select {
		case c.cancels <- id:
		default:
			log.Printf("cancel signal dropped for task %s", id)
		}
	}
	return nil
}

type statusError string

func (s statusError) Error() string { return "unexpected status " + string(s) }
