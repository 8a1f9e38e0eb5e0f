package episodic

import "testing"

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Error("expected error for empty config")
	}
	if err := (Config{Addr: "localhost:6379"}).Validate(); err == nil {
		t.Error("expected error for missing graph name")
	}
	if err := (Config{Addr: "localhost:6379", GraphName: "watercooler"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEscapeCypherString(t *testing.T) {
	got := escapeCypherString(`say "hi" \ bye`)
	want := `say \"hi\" \\ bye`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAsStringOutOfRange(t *testing.T) {
	if got := asString([]any{"a"}, 5); got != "" {
		t.Errorf("expected empty string for out-of-range index, got %q", got)
	}
}
