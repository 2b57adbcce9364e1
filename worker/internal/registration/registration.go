package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/config"
)

// Register announces the worker to the coordinator and returns the
// heartbeat interval the coordinator expects.
func Register(ctx context.Context, cfg config.Config) (time.Duration, error) {
	hostname, _ := os.Hostname()
	payload := mnapi.RegisterWorkerRequest{
		WorkerID: cfg.WorkerID,
		Category: mnapi.Category(cfg.Category),
		Metadata: map[string]string{"hostname": hostname},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cfg.CoordinatorURL, "/")+"/v1/workers/register", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("register worker failed with status %s", resp.Status)
	}
	var out mnapi.RegisterWorkerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.HeartbeatIntervalSeconds <= 0 {
		return cfg.HeartbeatInterval, nil
	}
	return time.Duration(out.HeartbeatIntervalSeconds) * time.Second, nil
}
