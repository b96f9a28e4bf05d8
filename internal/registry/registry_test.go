package registry

import (
	"testing"

	"github.com/saidsurucu/tvstream/internal/model"
)

func TestAddQuote_Idempotent(t *testing.T) {
	r := New()
	if !r.AddQuote("THYAO") {
		t.Fatal("first AddQuote should report created")
	}
	if r.AddQuote("THYAO") {
		t.Fatal("second AddQuote should be a no-op")
	}
	quotes := r.Quotes()
	if len(quotes) != 1 || quotes[0] != "THYAO" {
		t.Fatalf("expected exactly one THYAO entry, got %v", quotes)
	}
}

func TestRemoveQuote(t *testing.T) {
	r := New()
	r.AddQuote("THYAO")
	if !r.RemoveQuote("THYAO") {
		t.Fatal("expected removal to report true")
	}
	if r.HasQuote("THYAO") {
		t.Fatal("THYAO should be gone")
	}
	if r.RemoveQuote("THYAO") {
		t.Fatal("second remove should be a no-op")
	}
}

func TestAddCandle_TagAllocationAndIdempotence(t *testing.T) {
	r := New()
	tag1, created1 := r.AddCandle("THYAO", "1m", "BIST")
	if !created1 || tag1 != "ser_1" {
		t.Fatalf("expected ser_1/true, got %s/%v", tag1, created1)
	}

	tag2, created2 := r.AddCandle("THYAO", "1m", "BIST")
	if created2 || tag2 != tag1 {
		t.Fatalf("expected re-add to be a no-op returning the same tag, got %s/%v", tag2, created2)
	}

	tag3, created3 := r.AddCandle("GARAN", "5m", "BIST")
	if !created3 || tag3 != "ser_2" {
		t.Fatalf("expected ser_2/true for a distinct key, got %s/%v", tag3, created3)
	}
}

func TestCandleByTag_RoundTrip(t *testing.T) {
	r := New()
	tag, _ := r.AddCandle("THYAO", "1m", "BIST")
	key, ok := r.CandleByTag(tag)
	if !ok || key.Symbol != "THYAO" || key.Interval != "1m" {
		t.Fatalf("expected round trip to THYAO/1m, got %+v ok=%v", key, ok)
	}
}

func TestRemoveCandle_DropsTagMapping(t *testing.T) {
	r := New()
	tag, _ := r.AddCandle("THYAO", "1m", "BIST")
	removedTag, removed := r.RemoveCandle("THYAO", "1m")
	if !removed || removedTag != tag {
		t.Fatalf("expected removal of %s, got %s/%v", tag, removedTag, removed)
	}
	if _, ok := r.CandleByTag(tag); ok {
		t.Fatal("tag mapping should be gone after removal")
	}
}

func TestAddStudy_RequiresPriorCandleCheckedByCaller(t *testing.T) {
	r := New()
	if r.HasCandle("THYAO", "1m") {
		t.Fatal("fresh registry should not report a candle subscription")
	}
	// Registry itself doesn't enforce the precondition — the engine layer
	// does, using HasCandle before calling AddStudy.
	key := StudyKey{Symbol: "THYAO", Interval: "1m", DisplayName: "RSI"}
	studyID, created := r.AddStudy(key, "STD;RSI", model.Descriptor{WireID: "STD;RSI"}, nil)
	if !created || studyID != "st_1" {
		t.Fatalf("expected st_1/true, got %s/%v", studyID, created)
	}
}

func TestAddStudy_Idempotent(t *testing.T) {
	r := New()
	key := StudyKey{Symbol: "THYAO", Interval: "1m", DisplayName: "RSI"}
	id1, created1 := r.AddStudy(key, "STD;RSI", model.Descriptor{}, nil)
	id2, created2 := r.AddStudy(key, "STD;RSI", model.Descriptor{}, nil)
	if !created1 || created2 {
		t.Fatalf("expected create-then-noop, got %v/%v", created1, created2)
	}
	if id1 != id2 {
		t.Fatalf("expected same study id on both calls, got %s vs %s", id1, id2)
	}
}

func TestStudyByID_RoundTrip(t *testing.T) {
	r := New()
	key := StudyKey{Symbol: "THYAO", Interval: "1m", DisplayName: "RSI"}
	studyID, _ := r.AddStudy(key, "STD;RSI", model.Descriptor{}, nil)

	got, ok := r.StudyByID(studyID)
	if !ok || got != key {
		t.Fatalf("expected round trip to %+v, got %+v ok=%v", key, got, ok)
	}
}

func TestRemoveStudy(t *testing.T) {
	r := New()
	key := StudyKey{Symbol: "THYAO", Interval: "1m", DisplayName: "RSI"}
	studyID, _ := r.AddStudy(key, "STD;RSI", model.Descriptor{}, nil)

	removedID, removed := r.RemoveStudy(key)
	if !removed || removedID != studyID {
		t.Fatalf("expected removal of %s, got %s/%v", studyID, removedID, removed)
	}
	if _, ok := r.StudyByID(studyID); ok {
		t.Fatal("study id mapping should be gone after removal")
	}
}
