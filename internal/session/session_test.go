package session

import (
	"context"
	"testing"
)

func TestToggleExamIsIdempotentPerTag(t *testing.T) {
	s := Session{State: StateSignupExams, SelectedExams: []string{"NEET"}}

	s.ToggleExam("JEE")
	if !s.HasExam("JEE") || !s.HasExam("NEET") {
		t.Fatalf("expected JEE and NEET selected, got %v", s.SelectedExams)
	}

	s.ToggleExam("JEE")
	if s.HasExam("JEE") {
		t.Fatalf("expected JEE removed, got %v", s.SelectedExams)
	}
	if len(s.SelectedExams) != 1 || s.SelectedExams[0] != "NEET" {
		t.Errorf("expected original selection, got %v", s.SelectedExams)
	}

	s.ToggleExam("NEET")
	if s.SelectedExams != nil {
		t.Errorf("expected nil selection, got %v", s.SelectedExams)
	}
}

func TestPristine(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{name: "fresh", session: New(), want: true},
		{name: "ended", session: Session{State: StateEnd}, want: true},
		{name: "mid signup", session: Session{State: StateSignupName}, want: false},
		{name: "logged in", session: Session{State: StateLoggedIn, Phone: "9000000001"}, want: false},
		{name: "start with leftovers", session: Session{State: StateStart, SignupName: "Asha"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Pristine(); got != tt.want {
				t.Errorf("Pristine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryStoreDoesNotAlias(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	in := Session{State: StateSignupExams, SelectedExams: []string{"JEE"}}
	if err := store.Put(ctx, "U1", in); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	in.SelectedExams[0] = "NEET"

	got, _ := store.Get(ctx, "U1")
	if got.SelectedExams[0] != "JEE" {
		t.Fatalf("stored session aliased caller slice: %v", got.SelectedExams)
	}
	got.SelectedExams[0] = "CUET"

	again, _ := store.Get(ctx, "U1")
	if again.SelectedExams[0] != "JEE" {
		t.Fatalf("returned session aliased stored slice: %v", again.SelectedExams)
	}
}

func TestMemoryStoreAllSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "b", Session{State: StateLoggedIn, Phone: "2"})
	_ = store.Put(ctx, "a", Session{State: StateLoggedIn, Phone: "1"})

	entries, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Identity != "a" || entries[1].Identity != "b" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
