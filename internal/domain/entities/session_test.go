package entities

import "testing"

func TestSessionState_Terminal(t *testing.T) {
	terminal := []SessionState{SessionStopped, SessionErrored}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	live := []SessionState{SessionCreated, SessionLocating, SessionIndexing, SessionMonitoring, SessionPaused}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestIndexerSession_Progress(t *testing.T) {
	s := IndexerSession{TotalChunks: 4, LastCompletedChunk: 1}
	if got := s.Progress(); got != 50 {
		t.Errorf("expected progress 50, got %f", got)
	}

	s.LastCompletedChunk = -1
	if got := s.Progress(); got != 0 {
		t.Errorf("expected progress 0, got %f", got)
	}

	s.LastCompletedChunk = 3
	if got := s.Progress(); got != 100 {
		t.Errorf("expected progress 100, got %f", got)
	}

	// Monitoring can outrun the planned chunk count; progress stays capped.
	s.LastCompletedChunk = 10
	if got := s.Progress(); got != 100 {
		t.Errorf("expected progress capped at 100, got %f", got)
	}

	s = IndexerSession{}
	if got := s.Progress(); got != 0 {
		t.Errorf("expected progress 0 without a plan, got %f", got)
	}
}

func TestSessionTargetKey(t *testing.T) {
	s := IndexerSession{UserID: "u1", ContractAddress: "0xabc", Chain: "ethereum"}
	if s.TargetKey() != SessionTargetKey("u1", "0xabc", "ethereum") {
		t.Error("target key mismatch")
	}
	if SessionTargetKey("u1", "0xabc", "ethereum") == SessionTargetKey("u2", "0xabc", "ethereum") {
		t.Error("expected different users to map to different targets")
	}
}
