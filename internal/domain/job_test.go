package domain

import "testing"

func TestNormalizePredictionStatus(t *testing.T) {
	cases := map[string]Status{
		"pending":     StatusPending,
		"queued":      StatusPending,
		"starting":    StatusStarting,
		"Starting":    StatusStarting,
		"processing":  StatusProcessing,
		"in-progress": StatusProcessing,
		"in_progress": StatusProcessing,
		"running":     StatusProcessing,
		"succeeded":   StatusSucceeded,
		"success":     StatusSucceeded,
		"failed":      StatusFailed,
		"error":       StatusFailed,
		"canceled":    StatusFailed,
		" SUCCEEDED ": StatusSucceeded,
	}
	for raw, want := range cases {
		if got := NormalizePredictionStatus(raw); got != want {
			t.Fatalf("NormalizePredictionStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalizePredictionStatusUnknownIsNeverTerminal(t *testing.T) {
	for _, raw := range []string{"", "warming-up", "scheduled", "???"} {
		got := NormalizePredictionStatus(raw)
		if got != StatusProcessing {
			t.Fatalf("NormalizePredictionStatus(%q) = %q, want processing", raw, got)
		}
		if got.Terminal() {
			t.Fatalf("unknown status %q normalized to terminal state %q", raw, got)
		}
	}
}

func TestNormalizeBotStatus(t *testing.T) {
	cases := map[string]Status{
		"completed":  StatusSucceeded,
		"failed":     StatusFailed,
		"generating": StatusProcessing,
		"waiting":    StatusProcessing,
		"":           StatusProcessing,
	}
	for raw, want := range cases {
		if got := NormalizeBotStatus(raw); got != want {
			t.Fatalf("NormalizeBotStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusSucceeded, StatusFailed, StatusTimedOut}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%q should be terminal", s)
		}
	}
	open := []Status{StatusPending, StatusStarting, StatusProcessing}
	for _, s := range open {
		if s.Terminal() {
			t.Fatalf("%q should not be terminal", s)
		}
	}
}

func TestJobImageProjection(t *testing.T) {
	job := GenerationJob{Status: StatusPending, TextPrompt: "a neon cat"}
	img := job.Image()
	if img.Src != "" {
		t.Fatalf("pending job src = %q, want empty", img.Src)
	}

	job.Status = StatusSucceeded
	job.ResultURLs = []string{"https://x/a.png", "https://x/b.png"}
	img = job.Image()
	if img.Src != "https://x/a.png" {
		t.Fatalf("src = %q, want first url", img.Src)
	}
	if len(img.URLs) != 2 {
		t.Fatalf("urls = %v, want both retained", img.URLs)
	}
}

func TestModelDeployable(t *testing.T) {
	m := &CustomModel{ID: "m1", Status: StatusSucceeded}
	if m.Deployable() {
		t.Fatal("model without lora url must not be deployable")
	}
	m.LoraURL = "https://x/lora.tar"
	if !m.Deployable() {
		t.Fatal("trained and uploaded model should be deployable")
	}
	m.Status = StatusProcessing
	if m.Deployable() {
		t.Fatal("in-flight model must not be deployable")
	}
	if !m.Active() {
		t.Fatal("processing model should be active")
	}
}
