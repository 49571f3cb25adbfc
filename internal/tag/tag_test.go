package tag

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Animal", want: "animal"},
		{in: "  animal  ", want: "animal"},
		{in: "animal/cat", want: "animal/cat"},
		{in: "Animal / Cat", want: "animal/cat"},
		{in: "meeting notes", want: "meeting-notes"},
		{in: "Meeting   Notes", want: "meeting-notes"},
		{in: "a/b/c", want: "a/b/c"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "animal//cat", wantErr: true},
		{in: "/animal", wantErr: true},
		{in: "animal/", wantErr: true},
	}

	for _, c := range cases {
		got, err := Normalize(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("Normalize(%q) = %q, want error", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeAllDedups(t *testing.T) {
	got, err := NormalizeAll([]string{"Animal", "animal", "  ANIMAL ", "pet"})
	if err != nil {
		t.Fatalf("NormalizeAll: %v", err)
	}
	want := []string{"animal", "pet"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeAll = %v, want %v", got, want)
	}
}

func TestNormalizeAllPropagatesError(t *testing.T) {
	if _, err := NormalizeAll([]string{"ok", ""}); err == nil {
		t.Error("expected error for empty tag in list")
	}
}

func TestParent(t *testing.T) {
	if p := Parent("animal/cat"); p != "animal" {
		t.Errorf("Parent(animal/cat) = %q", p)
	}
	if p := Parent("animal"); p != "" {
		t.Errorf("Parent(animal) = %q, want empty", p)
	}
}
