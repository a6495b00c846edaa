package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vinayprograms/sketchlink/errors"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

// fakeBackend is a minimal generation backend. The job finishes after
// readyAfter history checks.
type fakeBackend struct {
	readyAfter int32
	checks     atomic.Int32

	mu        sync.Mutex
	uploaded  []byte
	filename  string
	submitted promptRequest

	uploadName string
	promptID   string
}

func newFakeBackend(t *testing.T, readyAfter int32) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{readyAfter: readyAfter, uploadName: "sketch.png", promptID: "p-1"}

	r := chi.NewRouter()
	r.Post("/upload/image", fb.upload)
	r.Post("/prompt", fb.prompt)
	r.Get("/history/{id}", fb.history)
	r.Get("/view", fb.view)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	fb.mu.Lock()
	fb.uploaded = data
	fb.filename = header.Filename
	fb.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]string{"name": fb.uploadName, "type": "input"})
}

func (fb *fakeBackend) prompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fb.mu.Lock()
	fb.submitted = req
	fb.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]interface{}{"prompt_id": fb.promptID, "number": 1})
}

func (fb *fakeBackend) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if fb.checks.Add(1) < fb.readyAfter {
		w.Write([]byte(`{}`))
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		id: map[string]interface{}{
			"outputs": map[string]interface{}{
				"20": map[string]interface{}{"images": []interface{}{
					map[string]string{"filename": "later.png", "type": "output"},
				}},
				"9": map[string]interface{}{"images": []interface{}{
					map[string]string{"filename": "ComfyUI_00001_.png", "subfolder": "", "type": "output"},
				}},
			},
		},
	})
}

func (fb *fakeBackend) view(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("type") != "output" {
		http.Error(w, "bad type", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(pngBytes)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:      srv.URL,
		ClientID:     "test-client",
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_Upload(t *testing.T) {
	fb, srv := newFakeBackend(t, 1)
	c := newTestClient(t, srv)

	tests := []struct {
		name string
		data string
	}{
		{"raw base64", base64.StdEncoding.EncodeToString(pngBytes)},
		{"data url", "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := c.Upload(context.Background(), tt.data)
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if ref != "sketch.png" {
				t.Errorf("ref = %q", ref)
			}
			fb.mu.Lock()
			defer fb.mu.Unlock()
			if string(fb.uploaded) != string(pngBytes) {
				t.Error("uploaded bytes differ")
			}
			if fb.filename != "sketch.png" {
				t.Errorf("filename = %q", fb.filename)
			}
		})
	}
}

func TestClient_UploadErrors(t *testing.T) {
	fb, srv := newFakeBackend(t, 1)
	c := newTestClient(t, srv)

	if _, err := c.Upload(context.Background(), "!!not base64!!"); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("bad base64: err = %v", err)
	}

	fb.uploadName = ""
	_, err := c.Upload(context.Background(), base64.StdEncoding.EncodeToString(pngBytes))
	if !errors.Is(err, errors.ErrCodeUploadFailed) {
		t.Errorf("missing name: err = %v, want UPLOAD_FAILED", err)
	}
}

func TestClient_Submit(t *testing.T) {
	fb, srv := newFakeBackend(t, 1)
	c := newTestClient(t, srv)

	id, err := c.Submit(context.Background(), "sketch.png", "a castle", "blurry")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "p-1" {
		t.Errorf("id = %q", id)
	}

	fb.mu.Lock()
	req := fb.submitted
	fb.mu.Unlock()

	if req.ClientID != "test-client" {
		t.Errorf("client_id = %q", req.ClientID)
	}
	if got := req.Prompt[nodeLoadImage].Inputs["image"]; got != "sketch.png" {
		t.Errorf("LoadImage.image = %v", got)
	}
	if got := req.Prompt[nodePositive].Inputs["text"]; got != "a castle" {
		t.Errorf("positive text = %v", got)
	}
	if got := req.Prompt[nodeNegative].Inputs["text"]; got != "blurry" {
		t.Errorf("negative text = %v", got)
	}
	if got := req.Prompt[nodeCheckpoint].Inputs["ckpt_name"]; got != DefaultCheckpoint {
		t.Errorf("ckpt_name = %v", got)
	}
	if got := req.Prompt[nodeSampler].ClassType; got != "KSampler" {
		t.Errorf("sampler class = %v", got)
	}
}

func TestClient_SubmitMissingID(t *testing.T) {
	fb, srv := newFakeBackend(t, 1)
	fb.promptID = ""
	c := newTestClient(t, srv)

	_, err := c.Submit(context.Background(), "sketch.png", "", "")
	if !errors.Is(err, errors.ErrCodeSubmissionFailed) {
		t.Errorf("err = %v, want SUBMISSION_FAILED", err)
	}
}

func TestClient_Poll(t *testing.T) {
	_, srv := newFakeBackend(t, 3)
	c := newTestClient(t, srv)

	var attempts []int
	filename, err := c.Poll(context.Background(), "p-1", func(attempt, total int) {
		if total != 5 {
			t.Errorf("total = %d, want 5", total)
		}
		attempts = append(attempts, attempt)
	})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if filename != "ComfyUI_00001_.png" {
		t.Errorf("filename = %q (node 9 sorts before node 20)", filename)
	}
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("attempts = %v, want [1 2 3]", attempts)
	}
}

func TestClient_PollTimeout(t *testing.T) {
	_, srv := newFakeBackend(t, 100)
	c := newTestClient(t, srv)

	calls := 0
	_, err := c.Poll(context.Background(), "p-1", func(int, int) { calls++ })
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
	if calls != 5 {
		t.Errorf("progress calls = %d, want 5", calls)
	}
}

func TestClient_PollCanceled(t *testing.T) {
	_, srv := newFakeBackend(t, 100)
	c, _ := New(Config{BaseURL: srv.URL, PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Poll(ctx, "p-1", nil)
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Errorf("err = %v, want CANCELED", err)
	}
}

func TestClient_PollBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.Poll(context.Background(), "p-1", nil)
	if !errors.Is(err, errors.ErrCodeUnavailable) {
		t.Fatalf("err = %v, want UNAVAILABLE", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("UNAVAILABLE should be retryable")
	}
}

func TestClient_FetchResult(t *testing.T) {
	_, srv := newFakeBackend(t, 1)
	c := newTestClient(t, srv)

	got, err := c.FetchResult(context.Background(), "ComfyUI_00001_.png")
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	if got != want {
		t.Errorf("data url = %q, want %q", got, want)
	}
}

func TestClient_ResultURL(t *testing.T) {
	c, err := New(Config{BaseURL: "http://backend:8188/api/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.ResultURL("out 1.png")
	if !strings.HasPrefix(got, "http://backend:8188/api/view?") {
		t.Errorf("ResultURL = %q", got)
	}
	if !strings.Contains(got, "filename=out+1.png") || !strings.Contains(got, "type=output") {
		t.Errorf("ResultURL = %q", got)
	}
}

func TestClient_Generate(t *testing.T) {
	_, srv := newFakeBackend(t, 2)
	c := newTestClient(t, srv)

	filename, err := c.Generate(context.Background(), base64.StdEncoding.EncodeToString(pngBytes), "p", "n", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if filename != "ComfyUI_00001_.png" {
		t.Errorf("filename = %q", filename)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "not a url"}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestBuildWorkflow(t *testing.T) {
	p := DefaultWorkflowParams()
	if p.Seed < 0 || p.Seed >= 1_000_000_000 {
		t.Errorf("seed %d out of range", p.Seed)
	}
	p.ImageRef = "img.png"
	wf := BuildWorkflow(p)

	if len(wf) != 8 {
		t.Fatalf("workflow has %d nodes, want 8", len(wf))
	}
	s := wf[nodeSampler].Inputs
	if s["steps"] != 20 || s["cfg"] != 8.0 || s["sampler_name"] != "dpmpp_2m" || s["scheduler"] != "normal" || s["denoise"] != 0.87 {
		t.Errorf("sampler inputs = %v", s)
	}

	// Every link must point at a node in the graph.
	for id, n := range wf {
		for name, in := range n.Inputs {
			l, ok := in.([]interface{})
			if !ok {
				continue
			}
			if _, ok := wf[l[0].(string)]; !ok {
				t.Errorf("node %s input %s links to missing node %v", id, name, l[0])
			}
		}
	}
}
