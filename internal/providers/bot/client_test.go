package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"remix/internal/domain"
	"remix/internal/poller"
)

func TestAspectRatio(t *testing.T) {
	cases := []struct {
		w, h int
		want string
	}{
		{1920, 1080, "16:9"},
		{1080, 1920, "9:16"},
		{1024, 1024, "1:1"},
		{800, 600, "4:3"},
		{0, 600, ""},
		{800, 0, ""},
		{-1, -1, ""},
	}
	for _, tc := range cases {
		if got := AspectRatio(tc.w, tc.h); got != tc.want {
			t.Fatalf("AspectRatio(%d, %d) = %q, want %q", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestComposePrompt(t *testing.T) {
	got := ComposePrompt(PromptSpec{
		SourceImageURL:  "https://x/src.png",
		ImagePromptURLs: []string{"https://x/ref1.png", " https://x/ref2.png "},
		Text:            "a neon cat",
		Width:           1920,
		Height:          1080,
		Params:          "--chaos 20",
		CharacterRef:    "https://x/char.png",
		StyleRef:        "https://x/style.png",
	})
	want := "https://x/src.png https://x/ref1.png https://x/ref2.png a neon cat --ar 16:9 --chaos 20 --cref https://x/char.png --sref https://x/style.png"
	if got != want {
		t.Fatalf("prompt = %q, want %q", got, want)
	}
}

func TestComposePromptOmitsAspectRatioWhenDimensionsUnknown(t *testing.T) {
	got := ComposePrompt(PromptSpec{
		SourceImageURL: "https://x/src.png",
		Text:           "a neon cat",
	})
	if strings.Contains(got, "--ar") {
		t.Fatalf("prompt %q must not contain an aspect ratio parameter", got)
	}
	if strings.Contains(got, "NaN") {
		t.Fatalf("prompt %q leaked NaN dimensions", got)
	}
}

func TestSubmitReturnsJobID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/imagine" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"b1"}}`))
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL})
	id, err := c.Submit(context.Background(), "a neon cat --ar 1:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "b1" {
		t.Fatalf("id = %q, want b1", id)
	}
}

func TestSubmitNon2xxIsSubmissionFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL})
	_, err := c.Submit(context.Background(), "x")
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("error = %v, want ErrSubmissionFailed", err)
	}
}

func TestStatusPrefersUpscaledResults(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"completed","url":"https://x/grid.png","upscaled_urls":["https://x/u1.png","https://x/u2.png"]}}`))
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL})
	u, err := c.Status(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Status != domain.StatusSucceeded {
		t.Fatalf("status = %q", u.Status)
	}
	if len(u.Output) != 2 || u.Output[0] != "https://x/u1.png" {
		t.Fatalf("output = %v, want upscaled set", u.Output)
	}
}

func TestStatusFallsBackToGridImage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"completed","url":"https://x/grid.png"}}`))
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL})
	u, err := c.Status(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.Output) != 1 || u.Output[0] != "https://x/grid.png" {
		t.Fatalf("output = %v, want grid image", u.Output)
	}
}

func TestStatusInProgressVocabulary(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"generating"}}`))
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL})
	u, err := c.Status(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Status != domain.StatusProcessing {
		t.Fatalf("status = %q, want processing", u.Status)
	}
}

func TestStatusNon2xxIsFatalForPolling(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(Options{BaseURL: ts.URL})
	_, err := c.Status(context.Background(), "b1")
	var fatal *poller.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("error = %v, want poller.FatalError", err)
	}
}
