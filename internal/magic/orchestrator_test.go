package magic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"remix/internal/domain"
	"remix/internal/domain/effectscfg"
	"remix/internal/poller"
	"remix/internal/providers/custommodel"
	"remix/internal/providers/diffusion"
)

type mapModels map[string]*domain.CustomModel

func (m mapModels) GetByID(ctx context.Context, modelID string) (*domain.CustomModel, error) {
	model, ok := m[modelID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *model
	return &cp, nil
}

type diffusionCall struct {
	gate   chan struct{}
	images []string
	err    error
}

// queuedDiffusion hands out one scripted result per Generate call, optionally
// blocking on a gate so tests can control completion order.
type queuedDiffusion struct {
	mu       sync.Mutex
	queue    []diffusionCall
	reqs     []diffusion.GenerateRequest
	inFlight int
	done     int
}

func newQueuedDiffusion() *queuedDiffusion {
	return &queuedDiffusion{}
}

func (s *queuedDiffusion) enqueue(images []string, err error) chan struct{} {
	gate := make(chan struct{})
	s.mu.Lock()
	s.queue = append(s.queue, diffusionCall{gate: gate, images: images, err: err})
	s.mu.Unlock()
	return gate
}

func (s *queuedDiffusion) enqueueReady(images []string, err error) {
	s.mu.Lock()
	s.queue = append(s.queue, diffusionCall{images: images, err: err})
	s.mu.Unlock()
}

func (s *queuedDiffusion) Generate(ctx context.Context, req diffusion.GenerateRequest) ([]string, error) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil, errors.New("queuedDiffusion: no scripted call left")
	}
	call := s.queue[0]
	s.queue = s.queue[1:]
	s.reqs = append(s.reqs, req)
	s.inFlight++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.done++
		s.mu.Unlock()
	}()
	if call.gate != nil {
		select {
		case <-call.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return call.images, call.err
}

func (s *queuedDiffusion) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *queuedDiffusion) finished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *queuedDiffusion) promptAt(i int) string {
	return s.requestAt(i).Prompt
}

func (s *queuedDiffusion) requestAt(i int) diffusion.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.reqs) {
		return diffusion.GenerateRequest{}
	}
	return s.reqs[i]
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func fastPoll() poller.Config {
	return poller.Config{Interval: time.Millisecond, MaxDuration: time.Second, RetryInterval: time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestGenerateCustomModelEndToEnd(t *testing.T) {
	var submitted struct {
		Input struct {
			Prompt      string `json:"prompt"`
			LoraWeights string `json:"lora_weights"`
			Image       string `json:"image"`
		} `json:"input"`
	}
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predictions", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&submitted); err != nil {
			t.Errorf("decode submit payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "p1", "status": "starting"})
	})
	mux.HandleFunc("GET /predictions/p1", func(w http.ResponseWriter, r *http.Request) {
		switch polls.Add(1) {
		case 1:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "starting"})
		case 2:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "processing"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "succeeded",
				"output": []string{"https://x/out.png"},
			})
		}
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := custommodel.NewClient(custommodel.Options{APIKey: "key", BaseURL: ts.URL})
	o := New(Options{
		Config: effectscfg.Config{
			Type:   effectscfg.TypeCustom,
			Custom: effectscfg.CustomConfig{Current: "m1"},
		},
		Custom: client,
		Models: mapModels{"m1": {
			ID:      "m1",
			Status:  domain.StatusSucceeded,
			LoraURL: "https://x/lora.tar",
		}},
		PollConfig: fastPoll(),
		Logger:     discardLogger(),
	})
	o.SetSource(SourceAsset{URL: "https://src/photo.png"})
	o.EditTextPrompt("a neon cat")

	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool {
		img, ok := o.Image(jobID)
		return ok && img.Status == domain.StatusSucceeded
	})

	if submitted.Input.LoraWeights != "https://x/lora.tar" {
		t.Fatalf("lora_weights = %q, want the deployed artifact URL", submitted.Input.LoraWeights)
	}
	if submitted.Input.Prompt != "In the style of TOK, a neon cat" {
		t.Fatalf("prompt = %q", submitted.Input.Prompt)
	}
	if submitted.Input.Image != "https://src/photo.png" {
		t.Fatalf("image = %q", submitted.Input.Image)
	}

	img, _ := o.Image(jobID)
	if img.Src != "https://x/out.png" {
		t.Fatalf("src = %q, want first output URL", img.Src)
	}
	if len(img.URLs) != 1 || img.URLs[0] != "https://x/out.png" {
		t.Fatalf("urls = %v", img.URLs)
	}
	if got := polls.Load(); got != 3 {
		t.Fatalf("status calls = %d, want 3", got)
	}
}

func TestGenerateRefusesWithoutDeployableModel(t *testing.T) {
	cases := []struct {
		name   string
		models mapModels
		cfg    effectscfg.CustomConfig
	}{
		{"no model selected", mapModels{}, effectscfg.CustomConfig{}},
		{"model missing", mapModels{}, effectscfg.CustomConfig{Current: "ghost"}},
		{
			"trained but artifact never uploaded",
			mapModels{"m1": {ID: "m1", Status: domain.StatusSucceeded}},
			effectscfg.CustomConfig{Current: "m1"},
		},
		{
			"still training",
			mapModels{"m1": {ID: "m1", Status: domain.StatusProcessing, LoraURL: "https://x/lora.tar"}},
			effectscfg.CustomConfig{Current: "m1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := New(Options{
				Config:     effectscfg.Config{Type: effectscfg.TypeCustom, Custom: tc.cfg},
				Models:     tc.models,
				PollConfig: fastPoll(),
				Logger:     discardLogger(),
			})
			if _, err := o.Generate(context.Background()); !errors.Is(err, domain.ErrNoModelAvailable) {
				t.Fatalf("error = %v, want ErrNoModelAvailable", err)
			}
			if n := len(o.Images()); n != 0 {
				t.Fatalf("images = %d, refusal must not append a placeholder", n)
			}
		})
	}
}

func TestPlaceholderReplacementUnderInterleaving(t *testing.T) {
	d := newQueuedDiffusion()
	gateA := d.enqueue([]string{"AAAA"}, nil)
	gateB := d.enqueue([]string{"BBBB"}, nil)

	o := New(Options{
		Config:     effectscfg.Config{Type: effectscfg.TypeDiffusion},
		Diffusion:  d,
		PollConfig: fastPoll(),
		Logger:     discardLogger(),
	})

	aID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	waitFor(t, func() bool { return d.started() >= 1 })
	bID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	waitFor(t, func() bool { return d.started() >= 2 })

	// Finish the second job first; the first placeholder must be untouched.
	close(gateB)
	waitFor(t, func() bool {
		img, ok := o.Image(bID)
		return ok && img.Status == domain.StatusSucceeded
	})
	if img, _ := o.Image(aID); img.Status.Terminal() {
		t.Fatalf("first job status = %q, must still be in flight", img.Status)
	}

	close(gateA)
	waitFor(t, func() bool {
		img, ok := o.Image(aID)
		return ok && img.Status == domain.StatusSucceeded
	})

	images := o.Images()
	if len(images) != 2 {
		t.Fatalf("images = %d, want 2", len(images))
	}
	if images[0].Src != "data:image/png;base64,AAAA" || images[1].Src != "data:image/png;base64,BBBB" {
		t.Fatalf("results landed out of order: %q, %q", images[0].Src, images[1].Src)
	}
}

func TestDiffusionResultsBecomeDataURLs(t *testing.T) {
	d := newQueuedDiffusion()
	d.enqueueReady([]string{"QUJD", "REVG"}, nil)

	o := New(Options{
		Config:     effectscfg.Config{Type: effectscfg.TypeDiffusion},
		Diffusion:  d,
		PollConfig: fastPoll(),
		Logger:     discardLogger(),
	})
	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool {
		img, ok := o.Image(jobID)
		return ok && img.Status == domain.StatusSucceeded
	})
	img, _ := o.Image(jobID)
	want := []string{"data:image/png;base64,QUJD", "data:image/png;base64,REVG"}
	if len(img.URLs) != 2 || img.URLs[0] != want[0] || img.URLs[1] != want[1] {
		t.Fatalf("urls = %v, want %v", img.URLs, want)
	}
}

func TestDiffusionSourceAssetDrivesImageToImage(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("source image bytes"))
	}))
	defer origin.Close()

	d := newQueuedDiffusion()
	d.enqueueReady([]string{"AAAA"}, nil)

	strength := 35
	o := New(Options{
		Config: effectscfg.Config{
			Type:      effectscfg.TypeDiffusion,
			Diffusion: effectscfg.DiffusionConfig{ImageStrength: &strength},
		},
		Diffusion:  d,
		PollConfig: fastPoll(),
		Logger:     discardLogger(),
	})
	o.SetSource(SourceAsset{URL: origin.URL + "/photo.png"})
	o.EditTextPrompt("a neon cat")

	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool {
		img, ok := o.Image(jobID)
		return ok && img.Status == domain.StatusSucceeded
	})

	req := d.requestAt(0)
	want := base64.StdEncoding.EncodeToString([]byte("source image bytes"))
	if req.InitImageB64 != want {
		t.Fatalf("init image = %q, want the fetched source asset", req.InitImageB64)
	}
	if req.ImageStrength != 35 {
		t.Fatalf("image strength = %d, want 35", req.ImageStrength)
	}
}

func TestDiffusionWithoutSourceStaysTextToImage(t *testing.T) {
	d := newQueuedDiffusion()
	d.enqueueReady([]string{"AAAA"}, nil)

	o := New(Options{
		Config:     effectscfg.Config{Type: effectscfg.TypeDiffusion},
		Diffusion:  d,
		PollConfig: fastPoll(),
		Logger:     discardLogger(),
	})
	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool {
		img, ok := o.Image(jobID)
		return ok && img.Status == domain.StatusSucceeded
	})
	if req := d.requestAt(0); req.InitImageB64 != "" {
		t.Fatalf("init image = %q, want none without a source asset", req.InitImageB64)
	}
}

func TestDiffusionSourceFetchFailureFailsJob(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer origin.Close()

	d := newQueuedDiffusion()
	o := New(Options{
		Config:     effectscfg.Config{Type: effectscfg.TypeDiffusion},
		Diffusion:  d,
		PollConfig: fastPoll(),
		Logger:     discardLogger(),
	})
	o.SetSource(SourceAsset{URL: origin.URL + "/gone.png"})

	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool {
		img, ok := o.Image(jobID)
		return ok && img.Status == domain.StatusFailed
	})
	if jobErr := o.Err(jobID); !errors.Is(jobErr, domain.ErrSubmissionFailed) {
		t.Fatalf("job error = %v, want ErrSubmissionFailed", jobErr)
	}
	if d.started() != 0 {
		t.Fatalf("diffusion calls = %d, engine must not be hit when the source fetch fails", d.started())
	}
}

func TestPromptCapturedAtSubmission(t *testing.T) {
	d := newQueuedDiffusion()
	gate := d.enqueue([]string{"AAAA"}, nil)

	o := New(Options{
		Config:     effectscfg.Config{Type: effectscfg.TypeDiffusion},
		Diffusion:  d,
		PollConfig: fastPoll(),
		Logger:     discardLogger(),
	})
	o.EditTextPrompt("first prompt")
	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.EditTextPrompt("second prompt")
	close(gate)

	waitFor(t, func() bool {
		img, ok := o.Image(jobID)
		return ok && img.Status == domain.StatusSucceeded
	})
	if img, _ := o.Image(jobID); img.TextPrompt != "first prompt" {
		t.Fatalf("prompt = %q, edits after submission must not leak in", img.TextPrompt)
	}
	if got := d.promptAt(0); got != "first prompt" {
		t.Fatalf("submitted prompt = %q", got)
	}
}

func TestResetImagesCancelsAndClears(t *testing.T) {
	d := newQueuedDiffusion()
	gate := d.enqueue([]string{"AAAA"}, nil)
	defer close(gate)

	o := New(Options{
		Config:     effectscfg.Config{Type: effectscfg.TypeDiffusion},
		Diffusion:  d,
		PollConfig: fastPoll(),
		Logger:     discardLogger(),
	})
	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return d.started() >= 1 })

	o.ResetImages()
	if n := len(o.Images()); n != 0 {
		t.Fatalf("images = %d after reset", n)
	}
	// The canceled run must not resurrect its placeholder.
	waitFor(t, func() bool { return d.finished() >= 1 })
	if _, ok := o.Image(jobID); ok {
		t.Fatal("canceled job reappeared after reset")
	}
}

func TestBotGenerationComposesPromptAndPrefersUpscaled(t *testing.T) {
	b := &stubBot{
		id: "b1",
		updates: []poller.Update{
			{Status: domain.StatusProcessing},
			{Status: domain.StatusSucceeded, Output: []string{"https://x/u1.png", "https://x/u2.png"}},
		},
	}
	o := New(Options{
		Config: effectscfg.Config{
			Type: effectscfg.TypeBot,
			Bot:  effectscfg.BotConfig{Params: "--v 6", StyleRef: "https://x/style.png"},
		},
		Bot:           b,
		BotPollConfig: fastPoll(),
		Logger:        discardLogger(),
	})
	o.SetSource(SourceAsset{URL: "https://src/photo.png", Width: 1920, Height: 1080})
	o.EditTextPrompt("cyberpunk alley")

	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool {
		img, ok := o.Image(jobID)
		return ok && img.Status == domain.StatusSucceeded
	})

	want := "https://src/photo.png cyberpunk alley --ar 16:9 --v 6 --sref https://x/style.png"
	if got := b.submittedPrompt(); got != want {
		t.Fatalf("composed prompt = %q, want %q", got, want)
	}
	img, _ := o.Image(jobID)
	if len(img.URLs) != 2 || img.URLs[0] != "https://x/u1.png" {
		t.Fatalf("urls = %v, want the upscaled set", img.URLs)
	}
}

func TestTerminalFailureRecordsTypedError(t *testing.T) {
	b := &stubBot{
		id:      "b1",
		updates: []poller.Update{{Status: domain.StatusFailed, Detail: "content flagged"}},
	}
	o := New(Options{
		Config:        effectscfg.Config{Type: effectscfg.TypeBot},
		Bot:           b,
		BotPollConfig: fastPoll(),
		Logger:        discardLogger(),
	})
	jobID, err := o.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool {
		img, ok := o.Image(jobID)
		return ok && img.Status == domain.StatusFailed
	})
	if jobErr := o.Err(jobID); !errors.Is(jobErr, domain.ErrJobFailed) {
		t.Fatalf("job error = %v, want ErrJobFailed", jobErr)
	}
	if img, _ := o.Image(jobID); img.Status != domain.StatusFailed {
		t.Fatalf("status = %q", img.Status)
	}
}

type stubBot struct {
	mu      sync.Mutex
	id      string
	prompt  string
	updates []poller.Update
	calls   int
}

func (s *stubBot) Submit(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompt = prompt
	s.mu.Unlock()
	return s.id, nil
}

func (s *stubBot) Status(ctx context.Context, id string) (poller.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls < len(s.updates) {
		u := s.updates[s.calls]
		s.calls++
		return u, nil
	}
	return s.updates[len(s.updates)-1], nil
}

func (s *stubBot) submittedPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}
