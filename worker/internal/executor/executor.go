// Package executor runs assigned step tasks. The default handlers simulate
// the research work (keyword derivation, database lookups, scans) and emit
// progress the way a real scraper integration would; deployments swap in
// real handlers per step key.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/config"
)

type Task struct {
	TaskID   string
	RunID    string
	StepKey  string
	Kind     string
	Category mnapi.Category
	Payload  json.RawMessage
	Attempt  int
}

// Reporter receives intermediate progress while a handler runs.
type Reporter interface {
	Fraction(ctx context.Context, fraction float64)
	Detail(ctx context.Context, detail mnapi.StepDetailPayload)
}

// Handler performs the work of one step kind and returns its output
// document.
type Handler func(ctx context.Context, t Task, rep Reporter) (map[string]any, error)

type Executor struct {
	cfg      config.Config
	handlers map[string]Handler
}

func New(cfg config.Config) *Executor {
	return &Executor{cfg: cfg, handlers: make(map[string]Handler)}
}

// RegisterHandler overrides the handler for a step key.
func (e *Executor) RegisterHandler(stepKey string, h Handler) {
	e.handlers[stepKey] = h
}

// Run executes the task and returns the artifact URI of its output.
func (e *Executor) Run(ctx context.Context, t Task, rep Reporter) (string, error) {
	h, ok := e.handlers[t.StepKey]
	if !ok {
		h = simulatedHandler
	}
	output, err := h(ctx, t, rep)
	if err != nil {
		return "", err
	}
	return e.storeArtifact(ctx, t, output)
}

func (e *Executor) storeArtifact(ctx context.Context, t Task, output map[string]any) (string, error) {
	doc := map[string]any{
		"run_id":       t.RunID,
		"task_id":      t.TaskID,
		"step_key":     t.StepKey,
		"kind":         t.Kind,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
		"output":       output,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	dir := filepath.Join(e.cfg.ArtifactRoot, t.RunID, t.StepKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	artifactPath := filepath.Join(dir, "output.json")
	if err := os.WriteFile(artifactPath, data, 0o644); err != nil {
		return "", err
	}
	if strings.EqualFold(strings.TrimSpace(e.cfg.ArtifactBackend), "minio") {
		if err := e.uploadToMinIO(ctx, artifactPath, t.RunID, t.StepKey); err != nil {
			return "", err
		}
		return fmt.Sprintf("artifact://s3/%s/%s/%s/output.json", e.bucket(), t.RunID, t.StepKey), nil
	}
	return fmt.Sprintf("artifact://%s/%s/output.json", t.RunID, t.StepKey), nil
}

func (e *Executor) bucket() string {
	bucket := strings.TrimSpace(e.cfg.MinIOBucket)
	if bucket == "" {
		bucket = "mn-artifacts"
	}
	return bucket
}

func (e *Executor) uploadToMinIO(ctx context.Context, artifactPath, runID, stepKey string) error {
	endpoint := strings.TrimSpace(e.cfg.MinIOEndpoint)
	if endpoint == "" {
		return fmt.Errorf("minio endpoint is required when MN_ARTIFACT_BACKEND=minio")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(e.cfg.MinIOAccessKey, e.cfg.MinIOSecretKey, ""),
		Secure: e.cfg.MinIOUseSSL,
	})
	if err != nil {
		return err
	}
	bucket := e.bucket()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	object := runID + "/" + stepKey + "/output.json"
	_, err = client.FPutObject(ctx, bucket, object, artifactPath, minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

// simulatedHandler stands in for real scraper and analysis integrations.
// It paces itself through four progress quarters and emits a detail shaped
// like the step it pretends to run.
func simulatedHandler(ctx context.Context, t Task, rep Reporter) (map[string]any, error) {
	var input struct {
		Company string `json:"company"`
	}
	_ = json.Unmarshal(t.Payload, &input)
	if input.Company == "" {
		input.Company = "unknown"
	}

	for _, f := range []float64{0.25, 0.5, 0.75} {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		rep.Fraction(ctx, f)
	}
	if d, ok := simulatedDetail(t.StepKey, input.Company); ok {
		rep.Detail(ctx, d)
	}
	return map[string]any{"company": input.Company, "simulated": true}, nil
}

func simulatedDetail(stepKey, company string) (mnapi.StepDetailPayload, bool) {
	switch stepKey {
	case "search_keywords":
		return mnapi.StepDetailPayload{
			Type:     mnapi.DetailKeywords,
			Keywords: []string{company, company + " revenue", company + " competitors"},
		}, true
	case "company_lookup", "competitor_scan", "account_discovery":
		return mnapi.StepDetailPayload{
			Type: mnapi.DetailCompanies,
			Companies: []mnapi.RankedCompany{
				{Name: company, Domain: strings.ToLower(company) + ".com", Score: 0.92},
			},
		}, true
	case "source_discovery":
		return mnapi.StepDetailPayload{
			Type:    mnapi.DetailSources,
			Sources: []string{"https://news.example.com/" + strings.ToLower(company)},
		}, true
	default:
		return mnapi.StepDetailPayload{Type: mnapi.DetailNote, Note: "simulated " + stepKey}, true
	}
}
