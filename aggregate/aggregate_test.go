package aggregate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/metrics-mmap/coremmap/keycodec"
	"github.com/metrics-mmap/coremmap/mmapdict"
)

func writeDict(t *testing.T, path string, kv map[string]float64) {
	t.Helper()
	d, err := mmapdict.Open(path, 4096)
	if err != nil {
		t.Fatalf("mmapdict.Open(%s) failed: %v", path, err)
	}
	for k, v := range kv {
		if err := d.WriteValue([]byte(k), v); err != nil {
			t.Fatalf("WriteValue failed: %v", err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestAggregateCountersSum(t *testing.T) {
	// S5
	dir := t.TempDir()
	writeDict(t, filepath.Join(dir, "counter_A-0.db"), map[string]float64{
		string(keycodec.Encode("c", "c", map[string]string{"a": "1"})): 1.0,
		string(keycodec.Encode("c", "c", map[string]string{"a": "2"})): 1.0,
	})
	writeDict(t, filepath.Join(dir, "counter_B-0.db"), map[string]float64{
		string(keycodec.Encode("c", "c", map[string]string{"a": "1"})): 3.0,
	})

	fams, err := Aggregate(dir, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	fam, ok := fams["c"]
	if !ok {
		t.Fatalf("metric %q not found in %v", "c", fams)
	}
	if fam.Type != "counter" {
		t.Fatalf("Type = %q, want counter", fam.Type)
	}
	if len(fam.Samples) != 2 {
		t.Fatalf("got %d samples, want 2: %+v", len(fam.Samples), fam.Samples)
	}
	if fam.Samples[0].Value != 4.0 || fam.Samples[1].Value != 1.0 {
		t.Fatalf("unexpected sample values: %+v", fam.Samples)
	}
}

func TestAggregateGaugeLivesum(t *testing.T) {
	dir := t.TempDir()
	key := string(keycodec.Encode("g", "g", map[string]string{}))
	writeDict(t, filepath.Join(dir, "gauge_livesum_A-0.db"), map[string]float64{key: 5.0})
	writeDict(t, filepath.Join(dir, "gauge_livesum_B-0.db"), map[string]float64{key: 7.0})

	fams, err := Aggregate(dir, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	fam := fams["g"]
	if len(fam.Samples) != 1 || fam.Samples[0].Value != 12.0 {
		t.Fatalf("unexpected samples: %+v", fam.Samples)
	}
	if len(fam.Samples[0].Labels) != 0 {
		t.Fatalf("livesum output must not carry a pid label: %+v", fam.Samples[0].Labels)
	}
}

func TestAggregateGaugeMax(t *testing.T) {
	dir := t.TempDir()
	key := string(keycodec.Encode("g", "g", map[string]string{}))
	writeDict(t, filepath.Join(dir, "gauge_max_A-0.db"), map[string]float64{key: 5.0})
	writeDict(t, filepath.Join(dir, "gauge_max_B-0.db"), map[string]float64{key: 7.0})

	fams, err := Aggregate(dir, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	fam := fams["g"]
	if len(fam.Samples) != 1 || fam.Samples[0].Value != 7.0 {
		t.Fatalf("unexpected samples: %+v", fam.Samples)
	}
}

func TestAggregateGaugeAllKeepsPerPidSamples(t *testing.T) {
	dir := t.TempDir()
	key := string(keycodec.Encode("g", "g", map[string]string{}))
	writeDict(t, filepath.Join(dir, "gauge_all_A-0.db"), map[string]float64{key: 5.0})
	writeDict(t, filepath.Join(dir, "gauge_all_B-0.db"), map[string]float64{key: 7.0})

	fams, err := Aggregate(dir, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	fam := fams["g"]
	if len(fam.Samples) != 2 {
		t.Fatalf("got %d samples, want 2 (one per pid): %+v", len(fam.Samples), fam.Samples)
	}
	got := map[string]float64{}
	for _, s := range fam.Samples {
		for _, l := range s.Labels {
			if l.Name == "pid" {
				got[l.Value] = s.Value
			}
		}
	}
	if got["A"] != 5.0 || got["B"] != 7.0 {
		t.Fatalf("unexpected pid->value mapping: %+v", got)
	}
}

func TestAggregateCanonicalizesLabelInsertionOrder(t *testing.T) {
	// Property #7.
	dir := t.TempDir()
	writeDict(t, filepath.Join(dir, "counter_A-0.db"), map[string]float64{
		string(keycodec.Encode("c", "c", map[string]string{"x": "1", "y": "2"})): 1.0,
	})
	writeDict(t, filepath.Join(dir, "counter_B-0.db"), map[string]float64{
		string(keycodec.Encode("c", "c", map[string]string{"y": "2", "x": "1"})): 1.0,
	})

	fams, err := Aggregate(dir, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	fam := fams["c"]
	if len(fam.Samples) != 1 {
		t.Fatalf("differing insertion order produced separate samples: %+v", fam.Samples)
	}
	if fam.Samples[0].Value != 2.0 {
		t.Fatalf("value = %v, want 2.0", fam.Samples[0].Value)
	}
}

func TestAggregateSkipsCorruptFileButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeDict(t, filepath.Join(dir, "counter_A-0.db"), map[string]float64{
		string(keycodec.Encode("c", "c", map[string]string{})): 1.0,
	})
	if err := os.WriteFile(filepath.Join(dir, "counter_B-0.db"), []byte{0xff, 0xff, 0xff}, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fams, err := Aggregate(dir, nil)
	if err != nil {
		t.Fatalf("Aggregate must not fail on a corrupt file: %v", err)
	}
	fam, ok := fams["c"]
	if !ok || len(fam.Samples) != 1 || fam.Samples[0].Value != 1.0 {
		t.Fatalf("corrupt file affected the good file's aggregation: %+v", fams)
	}
}

func TestAggregateHistogramSynthesizesInfBucket(t *testing.T) {
	dir := t.TempDir()
	writeDict(t, filepath.Join(dir, "histogram_A-0.db"), map[string]float64{
		string(keycodec.Encode("h", "h_bucket", map[string]string{"le": "1"})): 2.0,
		string(keycodec.Encode("h", "h_count", map[string]string{})):           3.0,
		string(keycodec.Encode("h", "h_sum", map[string]string{})):             9.0,
	})

	fams, err := Aggregate(dir, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	fam := fams["h"]
	var foundInf bool
	for _, s := range fam.Samples {
		if s.Name == "h_bucket" {
			for _, l := range s.Labels {
				if l.Name == "le" && l.Value == "+Inf" {
					foundInf = true
					if s.Value != 3.0 {
						t.Fatalf("+Inf bucket value = %v, want 3.0 (the count)", s.Value)
					}
				}
			}
		}
	}
	if !foundInf {
		t.Fatalf("missing synthesized le=+Inf bucket: %+v", fam.Samples)
	}
}

func TestAggregateSummaryGuaranteesSumAndCount(t *testing.T) {
	dir := t.TempDir()
	writeDict(t, filepath.Join(dir, "summary_A-0.db"), map[string]float64{
		// Only a _count sample exists on disk; _sum must still appear.
		string(keycodec.Encode("s", "s_count", map[string]string{})): 4.0,
	})

	fams, err := Aggregate(dir, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	fam := fams["s"]
	var haveSum, haveCount bool
	for _, s := range fam.Samples {
		if s.Name == "s_sum" {
			haveSum = true
		}
		if s.Name == "s_count" && s.Value == 4.0 {
			haveCount = true
		}
	}
	if !haveSum || !haveCount {
		t.Fatalf("expected synthesized _sum and observed _count: %+v", fam.Samples)
	}
}
