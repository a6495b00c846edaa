package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/sketchlink/errors"
)

// Defaults for a local backend.
const (
	DefaultBaseURL      = "http://127.0.0.1:8188"
	DefaultCheckpoint   = "juggernautXL_version6Rundiffusion.safetensors"
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 30

	uploadField    = "image"
	uploadFilename = "sketch.png"
)

// Config holds generation client configuration.
type Config struct {
	// BaseURL is the backend root, e.g. http://127.0.0.1:8188.
	BaseURL string

	// ClientID identifies this client to the backend. Default: random UUID.
	ClientID string

	// Checkpoint is the model file loaded by the workflow.
	Checkpoint string

	// PollInterval is the wait before each history check. Default: 2s.
	PollInterval time.Duration

	// MaxAttempts bounds the number of history checks. Default: 30.
	MaxAttempts int

	// HTTPClient is used for every request. Default: 60s timeout.
	HTTPClient *http.Client
}

// DefaultConfig returns configuration for a local backend.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Checkpoint:   DefaultCheckpoint,
		PollInterval: DefaultPollInterval,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// Client drives one generation backend: upload a sketch, submit the
// img2img workflow, poll for completion and fetch the output image.
type Client struct {
	base   *url.URL
	config Config
	http   *http.Client
}

// New creates a client. Zero fields in cfg take their defaults.
func New(cfg Config) (*Client, error) {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Checkpoint == "" {
		cfg.Checkpoint = defaults.Checkpoint
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.InvalidInput(fmt.Sprintf("invalid backend url %q", cfg.BaseURL), errors.WithCause(err))
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{base: base, config: cfg, http: hc}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends req and returns the response body of a 2xx reply.
func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, fmt.Sprintf("%s %s", req.Method, req.URL.Path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode >= 300 {
		code := errors.ErrCodeInvalidInput
		switch {
		case resp.StatusCode == http.StatusNotFound:
			code = errors.ErrCodeNotFound
		case resp.StatusCode >= 500:
			code = errors.ErrCodeUnavailable
		}
		return nil, nil, errors.New(code,
			fmt.Sprintf("%s %s: %s", req.Method, req.URL.Path, resp.Status),
			errors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
			errors.WithMetadata("body", truncate(string(body), 200)),
		)
	}
	return body, resp.Header, nil
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(imageData string) ([]byte, error) {
	if strings.HasPrefix(imageData, "data:") {
		if i := strings.Index(imageData, ","); i >= 0 {
			imageData = imageData[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(imageData)
}

// Upload sends a base64 PNG to the backend and returns its image reference.
func (c *Client) Upload(ctx context.Context, imageData string) (string, error) {
	raw, err := decodeImage(imageData)
	if err != nil {
		return "", errors.InvalidInput("image data is not base64", errors.WithCause(err))
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(uploadField, uploadFilename)
	if err != nil {
		return "", errors.Wrap(err, "build upload form")
	}
	if _, err := part.Write(raw); err != nil {
		return "", errors.Wrap(err, "build upload form")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "build upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/image", nil), &body)
	if err != nil {
		return "", errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	data, _, err := c.do(req)
	if err != nil {
		return "", err
	}

	var resp struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Name == "" {
		return "", errors.Upload("backend returned no image reference", errors.WithCause(err))
	}
	return resp.Name, nil
}

type promptRequest struct {
	ClientID string   `json:"client_id"`
	Prompt   Workflow `json:"prompt"`
}

// Submit queues the img2img workflow for an uploaded image and returns
// the backend job id.
func (c *Client) Submit(ctx context.Context, imageRef, positive, negative string) (string, error) {
	params := DefaultWorkflowParams()
	params.ImageRef = imageRef
	params.Positive = positive
	params.Negative = negative
	params.Checkpoint = c.config.Checkpoint
	return c.SubmitWorkflow(ctx, BuildWorkflow(params))
}

// SubmitWorkflow queues an arbitrary workflow graph.
func (c *Client) SubmitWorkflow(ctx context.Context, wf Workflow) (string, error) {
	payload, err := json.Marshal(promptRequest{ClientID: c.config.ClientID, Prompt: wf})
	if err != nil {
		return "", errors.Wrap(err, "encode workflow")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt", nil), bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "build prompt request")
	}
	req.Header.Set("Content-Type", "application/json")

	data, _, err := c.do(req)
	if err != nil {
		return "", err
	}

	var resp struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.PromptID == "" {
		return "", errors.Submission("backend returned no job id", errors.WithCause(err))
	}
	return resp.PromptID, nil
}

type historyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []historyImage `json:"images"`
	} `json:"outputs"`
}

// nodeLess orders numeric node ids numerically, others lexically.
func nodeLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// firstImage returns the first image of the first output node that has one.
func (h historyEntry) firstImage() (string, bool) {
	keys := make([]string, 0, len(h.Outputs))
	for k := range h.Outputs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return nodeLess(keys[i], keys[j]) })

	for _, k := range keys {
		if imgs := h.Outputs[k].Images; len(imgs) > 0 && imgs[0].Filename != "" {
			return imgs[0].Filename, true
		}
	}
	return "", false
}

// Poll waits for a job to finish and returns the output image filename.
// Before each attempt it reports the 1-based attempt to onProgress, then
// sleeps PollInterval and checks the job history. It gives up after
// MaxAttempts with TIMEOUT.
func (c *Client) Poll(ctx context.Context, jobID string, onProgress func(attempt, total int)) (string, error) {
	maxAttempts := c.config.MaxAttempts

	timer := time.NewTimer(c.config.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if onProgress != nil {
			onProgress(attempt, maxAttempts)
		}

		if attempt > 1 {
			timer.Reset(c.config.PollInterval)
		}
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "poll canceled", errors.WithMetadata("job_id", jobID))
		case <-timer.C:
		}

		filename, done, err := c.history(ctx, jobID)
		if err != nil {
			return "", err
		}
		if done {
			return filename, nil
		}
	}

	return "", errors.Timeout(fmt.Sprintf("job %s not finished after %d attempts", jobID, maxAttempts),
		errors.WithMetadata("job_id", jobID))
}

// history checks one job. A job absent from the history is still running.
func (c *Client) history(ctx context.Context, jobID string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/history/"+url.PathEscape(jobID), nil), nil)
	if err != nil {
		return "", false, errors.Wrap(err, "build history request")
	}

	data, _, err := c.do(req)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	var entries map[string]historyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return "", false, errors.Wrap(err, "decode history")
	}
	entry, ok := entries[jobID]
	if !ok {
		return "", false, nil
	}
	filename, ok := entry.firstImage()
	return filename, ok, nil
}

// ResultURL returns where the backend serves an output image.
func (c *Client) ResultURL(filename string) string {
	return c.endpoint("/view", url.Values{
		"filename": {filename},
		"type":     {"output"},
	})
}

// FetchResult downloads an output image and returns it as a data URL.
func (c *Client) FetchResult(ctx context.Context, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ResultURL(filename), nil)
	if err != nil {
		return "", errors.Wrap(err, "build view request")
	}

	data, header, err := c.do(req)
	if err != nil {
		return "", err
	}

	contentType := header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Generate runs a full job: upload, submit and poll. It returns the
// output filename.
func (c *Client) Generate(ctx context.Context, imageData, positive, negative string, onProgress func(attempt, total int)) (string, error) {
	ref, err := c.Upload(ctx, imageData)
	if err != nil {
		return "", err
	}
	jobID, err := c.Submit(ctx, ref, positive, negative)
	if err != nil {
		return "", err
	}
	return c.Poll(ctx, jobID, onProgress)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
