package keycodec

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw := Encode("c", "c", map[string]string{"a": "1", "b": "2"})
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := Key{MetricName: "c", SampleName: "c", LabelNames: []string{"a", "b"}, LabelValues: []string{"1", "2"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestEncodeCanonicalizesLabelOrder(t *testing.T) {
	// Property #7: the same logical (metric, labels) must encode the same
	// way regardless of the caller's insertion order.
	a := Encode("m", "s", map[string]string{"z": "1", "a": "2"})
	b := Encode("m", "s", map[string]string{"a": "2", "z": "1"})
	if string(a) != string(b) {
		t.Fatalf("encodings differ for different insertion orders: %q vs %q", a, b)
	}
}

func TestDecodeGivenLiteralKeys(t *testing.T) {
	// From S5.
	got, err := Decode([]byte(`["c","c",["a"],["1"]]`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := Key{MetricName: "c", SampleName: "c", LabelNames: []string{"a"}, LabelValues: []string{"1"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeStringifiesNonStringValues(t *testing.T) {
	got, err := Decode([]byte(`["m","s",["n","b","f"],[3,true,1.5]]`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := []string{"3", "true", "1.5"}
	if !reflect.DeepEqual(got.LabelValues, want) {
		t.Fatalf("got %+v, want %+v", got.LabelValues, want)
	}
}

func TestDecodeRejectsMalformedKey(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
	if _, err := Decode([]byte(`["m","s",["a","b"],["1"]]`)); err == nil {
		t.Fatalf("expected an error for mismatched label_names/label_values length")
	}
}
