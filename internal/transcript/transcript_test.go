package transcript

import (
	"testing"

	"github.com/lingora/lingora/internal/model"
)

func TestAppendDeduplicates(t *testing.T) {
	a := New()

	if !a.Append(model.RoleUser, "hello") {
		t.Fatal("first append should be accepted")
	}
	if a.Append(model.RoleUser, "hello") {
		t.Error("immediate duplicate should be rejected")
	}
	if a.Len() != 1 {
		t.Fatalf("expected 1 turn, got %d", a.Len())
	}

	// An intervening different turn makes the repeat acceptable again.
	if !a.Append(model.RoleAssistant, "hi there") {
		t.Fatal("different turn should be accepted")
	}
	if !a.Append(model.RoleUser, "hello") {
		t.Error("repeat after intervening turn should be accepted")
	}
	if a.Len() != 3 {
		t.Fatalf("expected 3 turns, got %d", a.Len())
	}
}

func TestAppendSameContentDifferentRole(t *testing.T) {
	a := New()
	a.Append(model.RoleUser, "okay")
	if !a.Append(model.RoleAssistant, "okay") {
		t.Error("same content from a different role is not a duplicate")
	}
	if a.Len() != 2 {
		t.Fatalf("expected 2 turns, got %d", a.Len())
	}
}

func TestSnapshotIsolation(t *testing.T) {
	a := New()
	a.Append(model.RoleUser, "one")

	snap := a.Snapshot()
	a.Append(model.RoleAssistant, "two")

	if len(snap) != 1 {
		t.Fatalf("snapshot grew after later append: %d turns", len(snap))
	}
	snap[0].Content = "mutated"
	if got := a.Snapshot()[0].Content; got != "one" {
		t.Errorf("mutating a snapshot leaked into the accumulator: %q", got)
	}
}

func TestFlattenFormat(t *testing.T) {
	a := New()
	a.Append(model.RoleUser, "hi")
	a.Append(model.RoleAssistant, "Hello! How did you find the passage?")
	a.Append(model.RoleUser, "It was interesting.")

	want := "USER: hi\n\n" +
		"ASSISTANT: Hello! How did you find the passage?\n\n" +
		"USER: It was interesting."
	if got := a.Flatten(); got != want {
		t.Errorf("Flatten() = %q, want %q", got, want)
	}
}

func TestFlattenDeterminism(t *testing.T) {
	turns := []model.Turn{
		{Role: model.RoleUser, Content: "a"},
		{Role: model.RoleAssistant, Content: "b"},
		{Role: model.RoleUser, Content: "a"},
	}
	first := Flatten(turns)
	for i := 0; i < 10; i++ {
		if got := Flatten(turns); got != first {
			t.Fatalf("Flatten is not deterministic: %q vs %q", got, first)
		}
	}
}

func TestFlattenEmpty(t *testing.T) {
	if got := New().Flatten(); got != "" {
		t.Errorf("empty accumulator should flatten to empty string, got %q", got)
	}
}
