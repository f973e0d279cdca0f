package event

import (
	"errors"
	"testing"
	"time"
)

func validEvent() FileChangeEvent {
	return FileChangeEvent{
		Kind:         KindUpsert,
		Name:         "a.txt",
		Directory:    "/data/docs",
		RelativePath: "a.txt",
		ObservedAt:   time.Now(),
	}
}

func TestChangeKind_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind ChangeKind
		want string
	}{
		{KindUpsert, "upsert"},
		{KindDelete, "delete"},
		{KindIgnore, "ignore"},
		{ChangeKind(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ChangeKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestFileChangeEvent_Validate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		e := validEvent()
		if err := e.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	t.Run("nil", func(t *testing.T) {
		var e *FileChangeEvent
		if !errors.Is(e.Validate(), ErrInvalidEvent) {
			t.Fatal("expected ErrInvalidEvent for nil event")
		}
	})

	mutations := []struct {
		name   string
		mutate func(*FileChangeEvent)
	}{
		{"empty name", func(e *FileChangeEvent) { e.Name = "" }},
		{"empty directory", func(e *FileChangeEvent) { e.Directory = "" }},
		{"empty relative path", func(e *FileChangeEvent) { e.RelativePath = "" }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(&e)
			if !errors.Is(e.Validate(), ErrInvalidEvent) {
				t.Fatal("expected ErrInvalidEvent")
			}
		})
	}
}

func TestDispatchMessage_Validate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		m := DispatchMessage{Event: validEvent(), Index: "docs", DocumentID: "docs/a.txt"}
		if err := m.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	t.Run("missing index", func(t *testing.T) {
		m := DispatchMessage{Event: validEvent(), DocumentID: "docs/a.txt"}
		if !errors.Is(m.Validate(), ErrInvalidMessage) {
			t.Fatal("expected ErrInvalidMessage")
		}
	})

	t.Run("missing document id", func(t *testing.T) {
		m := DispatchMessage{Event: validEvent(), Index: "docs"}
		if !errors.Is(m.Validate(), ErrInvalidMessage) {
			t.Fatal("expected ErrInvalidMessage")
		}
	})

	t.Run("invalid inner event", func(t *testing.T) {
		e := validEvent()
		e.Name = ""
		m := DispatchMessage{Event: e, Index: "docs", DocumentID: "docs/a.txt"}
		err := m.Validate()
		if !errors.Is(err, ErrInvalidMessage) || !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("Validate() = %v, want joined ErrInvalidMessage and ErrInvalidEvent", err)
		}
	})
}
