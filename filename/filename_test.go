package filename

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		want Parsed
	}{
		{"counter_1234-0.db", Parsed{Type: "counter", PID: "1234"}},
		{"histogram_5678.db", Parsed{Type: "histogram", PID: "5678"}},
		{"gauge_min_A-0.db", Parsed{Type: "gauge", Mode: "min", PID: "A"}},
		{"gauge_all_B-12.db", Parsed{Type: "gauge", Mode: "all", PID: "B"}},
		{"counter_foo_bar-3.db", Parsed{Type: "counter", PID: "foo_bar"}},
		{"gauge_livesum_worker-9-2.db", Parsed{Type: "gauge", Mode: "livesum", PID: "worker-9"}},
	}
	for _, c := range cases {
		got, err := Parse(c.name)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", c.name, err)
			continue
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %+v, want %+v", c.name, got, c.want)
		}
	}
}

func TestParseRejectsNonDb(t *testing.T) {
	if _, err := Parse("counter_1.txt"); err == nil {
		t.Fatalf("expected an error for non-.db filename")
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	if _, err := Parse("widget_1.db"); err == nil {
		t.Fatalf("expected an error for unknown metric type")
	}
}

func TestPrefix(t *testing.T) {
	if got := Prefix("counter", ""); got != "counter" {
		t.Errorf("Prefix(counter) = %q, want counter", got)
	}
	if got := Prefix("gauge", "livesum"); got != "gauge_livesum" {
		t.Errorf("Prefix(gauge, livesum) = %q, want gauge_livesum", got)
	}
}
