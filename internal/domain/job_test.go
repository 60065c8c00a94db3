package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusPending, JobStatusFailed, false},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusCancelled, true},
		{JobStatusRunning, JobStatusPending, true},
		{JobStatusCompleted, JobStatusRunning, false},
		{JobStatusFailed, JobStatusPending, false},
		{JobStatusCancelled, JobStatusRunning, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if !s.Terminal() || s.Active() {
			t.Fatalf("%s should be terminal and inactive", s)
		}
	}
	for _, s := range []JobStatus{JobStatusPending, JobStatusRunning} {
		if s.Terminal() || !s.Active() {
			t.Fatalf("%s should be active", s)
		}
	}
}

func TestJobViewProgress(t *testing.T) {
	job := &Job{ID: "j1", Status: JobStatusPending, Progress: 40}
	if v := job.View(); v.Progress != 0 {
		t.Fatalf("pending progress = %d, want 0", v.Progress)
	}
	job.Status = JobStatusRunning
	if v := job.View(); v.Progress != 40 {
		t.Fatalf("running progress = %d, want 40", v.Progress)
	}
	job.Status = JobStatusCompleted
	if v := job.View(); v.Progress != 100 {
		t.Fatalf("completed progress = %d, want 100", v.Progress)
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	started := time.Now()
	job := &Job{ID: "j1", InputAssetIDs: []string{"a"}, StartedAt: &started}
	c := job.Clone()
	c.InputAssetIDs[0] = "b"
	*c.StartedAt = started.Add(time.Hour)
	if job.InputAssetIDs[0] != "a" {
		t.Fatalf("clone shares input slice")
	}
	if !job.StartedAt.Equal(started) {
		t.Fatalf("clone shares started_at")
	}
}

func TestErrorClassification(t *testing.T) {
	wrappedStorage := fmt.Errorf("blob get: %w", ErrStorageUnavailable)
	if !IsTransient(wrappedStorage) {
		t.Fatalf("storage unavailable should be transient")
	}
	if ClassifyError(wrappedStorage) != ErrorKindStorageUnavailable {
		t.Fatalf("unexpected kind %q", ClassifyError(wrappedStorage))
	}
	if IsTransient(Permanentf("bad lut")) {
		t.Fatalf("permanent error reported as transient")
	}
	if ClassifyError(Transient(errors.New("busy"))) != ErrorKindTransient {
		t.Fatalf("transient error misclassified")
	}
	if ClassifyError(errors.New("boom")) != ErrorKindPermanent {
		t.Fatalf("plain errors should be permanent")
	}
	var qe error = &QuotaExceededError{Reason: ReasonConcurrency, Limit: 1}
	if !errors.Is(qe, ErrQuotaExceeded) {
		t.Fatalf("quota error should match ErrQuotaExceeded")
	}
	var it error = &IllegalTransitionError{JobID: "x", From: JobStatusCompleted, To: JobStatusRunning}
	if !errors.Is(it, ErrIllegalTransition) {
		t.Fatalf("illegal transition should match sentinel")
	}
}

func TestClassifyFilename(t *testing.T) {
	cases := map[string]AssetKind{
		"photo.JPG":  AssetKindImage,
		"clip.mov":   AssetKindVideo,
		"film.cube":  AssetKindLUT,
		"scan.heic":  AssetKindImage,
		"movie.webm": AssetKindVideo,
	}
	for name, want := range cases {
		kind, _, ok := ClassifyFilename(name)
		if !ok || kind != want {
			t.Fatalf("ClassifyFilename(%q) = %q, %v; want %q", name, kind, ok, want)
		}
	}
	if _, _, ok := ClassifyFilename("notes.txt"); ok {
		t.Fatalf("txt should be rejected")
	}
}
