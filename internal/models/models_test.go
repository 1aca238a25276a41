package models

import (
	"testing"
	"time"
)

func TestCreateBlueprintID(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"WordCount", "wordcount"},
		{"Word Count", "word_count"},
		{"  Word   Count  ", "word_count"},
		{"monte-carlo PI", "monte-carlo_pi"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CreateBlueprintID(tc.name); got != tc.want {
			t.Errorf("CreateBlueprintID(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestStatusFromRemote(t *testing.T) {
	if got := StatusFromRemote("terminated"); got != StatusTerminated {
		t.Errorf("StatusFromRemote(terminated) = %q", got)
	}
	if got := StatusFromRemote("force_cancelling"); got != StatusForceCancelling {
		t.Errorf("StatusFromRemote(force_cancelling) = %q", got)
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, status := range []string{StatusTerminated, StatusFailed, StatusCancelled} {
		if !HasEnded(status) {
			t.Errorf("HasEnded(%s) = false", status)
		}
	}
	for _, status := range []string{StatusPending, StatusStarted, StatusQueued, StatusScheduled, StatusCancelling} {
		if HasEnded(status) {
			t.Errorf("HasEnded(%s) = true", status)
		}
	}

	if !IsFinished(StatusTerminated) {
		t.Error("IsFinished(TERMINATED) = false")
	}
	if IsFinished(StatusFailed) {
		t.Error("IsFinished(FAILED) = true")
	}

	if !IsWrong(StatusFailed) || !IsWrong(StatusCancelled) {
		t.Error("FAILED and CANCELLED should be wrong")
	}
	if IsWrong(StatusTerminated) || IsWrong(StatusStarted) {
		t.Error("TERMINATED and STARTED should not be wrong")
	}
}

func TestSettled(t *testing.T) {
	finished := time.Now()

	e := Execution{Status: StatusTerminated, Finished: &finished}
	if !e.Settled() {
		t.Error("terminal status with finish time should be settled")
	}

	e = Execution{Status: StatusTerminated}
	if e.Settled() {
		t.Error("terminal status without finish time is not settled yet")
	}

	e = Execution{Status: StatusStarted, Finished: &finished}
	if e.Settled() {
		t.Error("non-terminal status is never settled")
	}
}
