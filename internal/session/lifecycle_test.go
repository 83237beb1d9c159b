package session

import (
	"testing"

	"github.com/multi-agent/session-bridge/internal/normalizer"
)

func TestTracker_LifecycleTransitions(t *testing.T) {
	tr := NewTracker()

	if tr.Observe(normalizer.Event{Type: normalizer.EventThreadStarted, ThreadID: "th-1"}) {
		t.Error("thread_started is not terminal")
	}
	if tr.ThreadID() != "th-1" {
		t.Errorf("ThreadID = %q", tr.ThreadID())
	}

	if tr.Observe(normalizer.Event{Type: normalizer.EventTaskStarted, TurnID: "tu-1"}) {
		t.Error("task_started is not terminal")
	}
	if !tr.TurnInFlight() || tr.TurnID() != "tu-1" || tr.State() != StateTurnActive {
		t.Errorf("after task_started: inflight=%v turn=%q state=%v",
			tr.TurnInFlight(), tr.TurnID(), tr.State())
	}

	if !tr.Observe(normalizer.Event{Type: normalizer.EventTaskComplete, TurnID: "tu-1"}) {
		t.Error("task_complete should be terminal")
	}
	if tr.TurnInFlight() || tr.TurnID() != "" {
		t.Errorf("after terminal: inflight=%v turn=%q", tr.TurnInFlight(), tr.TurnID())
	}
	// 最近回合 id 保留, 供 resume 复用
	if tr.LastTurnID() != "tu-1" {
		t.Errorf("LastTurnID = %q", tr.LastTurnID())
	}
}

func TestTracker_AllTerminalVariants(t *testing.T) {
	for _, terminal := range []string{
		normalizer.EventTaskComplete,
		normalizer.EventTurnAborted,
		normalizer.EventTaskFailed,
	} {
		tr := NewTracker()
		tr.Observe(normalizer.Event{Type: normalizer.EventTaskStarted, TurnID: "tu-1"})
		if !tr.Observe(normalizer.Event{Type: terminal}) {
			t.Errorf("%s should be terminal", terminal)
		}
		if tr.TurnInFlight() {
			t.Errorf("%s should clear in-flight flag", terminal)
		}
	}
}

func TestTracker_ForgetThread(t *testing.T) {
	tr := NewTracker()
	tr.Observe(normalizer.Event{Type: normalizer.EventThreadStarted, ThreadID: "th-1"})
	tr.Observe(normalizer.Event{Type: normalizer.EventTaskStarted, TurnID: "tu-1"})
	tr.ForgetThread()
	if tr.ThreadID() != "" || tr.TurnID() != "" || tr.LastTurnID() != "" || tr.TurnInFlight() {
		t.Error("ForgetThread must discard all identity")
	}
}

func TestTracker_PlanCallSlot(t *testing.T) {
	tr := NewTracker()

	id, opened := tr.OpenPlanCall("tu-1", "call-a")
	if !opened || id != "call-a" {
		t.Fatalf("first open: id=%q opened=%v", id, opened)
	}

	// 复用: 返回既有 id, 不重复打开
	id, opened = tr.OpenPlanCall("tu-1", "call-b")
	if opened || id != "call-a" {
		t.Errorf("reuse: id=%q opened=%v, want call-a/false", id, opened)
	}

	id, ok := tr.TakePlanCall("tu-1")
	if !ok || id != "call-a" {
		t.Errorf("take: id=%q ok=%v", id, ok)
	}
	if _, ok := tr.TakePlanCall("tu-1"); ok {
		t.Error("second take must miss")
	}
}
