// Package keycodec encodes and decodes the opaque on-disk entry key: the
// UTF-8 JSON quadruple [metric_name, sample_name, label_names, label_values].
// The storage layer (mmapfile, mmapdict, entryparser) never looks inside
// this encoding; only the aggregator decodes it.
package keycodec

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/metrics-mmap/coremmap/errs"
)

// Key is the decoded form of an encoded entry key.
type Key struct {
	MetricName  string
	SampleName  string
	LabelNames  []string
	LabelValues []string
}

// Encode canonicalizes labels (sorted by name, per the §9 design note
// requirement that the same logical (metric, labels) always produce the
// same encoded key regardless of insertion order) and returns its JSON
// quadruple encoding.
func Encode(metricName, sampleName string, labels map[string]string) []byte {
	names := make([]string, 0, len(labels))
	for n := range labels {
		names = append(names, n)
	}
	sort.Strings(names)

	values := make([]string, len(names))
	for i, n := range names {
		values[i] = labels[n]
	}

	quad := [4]interface{}{metricName, sampleName, names, values}
	b, err := json.Marshal(quad)
	if err != nil {
		// metricName/sampleName/labels are always valid UTF-8 Go strings;
		// json.Marshal on this shape cannot fail.
		panic("keycodec: unreachable marshal failure: " + err.Error())
	}
	return b
}

// Decode parses an encoded key back into its quadruple. label_values may
// be JSON strings, numbers, booleans or null per spec.md §6; all are
// stringified for use as Prometheus label values.
func Decode(raw []byte) (Key, error) {
	var quad [4]json.RawMessage
	if err := json.Unmarshal(raw, &quad); err != nil {
		return Key{}, &errs.KeyError{Key: string(raw), Reason: err.Error()}
	}

	var metricName, sampleName string
	if err := json.Unmarshal(quad[0], &metricName); err != nil {
		return Key{}, &errs.KeyError{Key: string(raw), Reason: "metric_name: " + err.Error()}
	}
	if err := json.Unmarshal(quad[1], &sampleName); err != nil {
		return Key{}, &errs.KeyError{Key: string(raw), Reason: "sample_name: " + err.Error()}
	}

	var names []string
	if err := json.Unmarshal(quad[2], &names); err != nil {
		return Key{}, &errs.KeyError{Key: string(raw), Reason: "label_names: " + err.Error()}
	}

	var rawValues []json.RawMessage
	if err := json.Unmarshal(quad[3], &rawValues); err != nil {
		return Key{}, &errs.KeyError{Key: string(raw), Reason: "label_values: " + err.Error()}
	}
	if len(names) != len(rawValues) {
		return Key{}, &errs.KeyError{Key: string(raw), Reason: "label_names/label_values length mismatch"}
	}

	values := make([]string, len(rawValues))
	for i, rv := range rawValues {
		values[i] = stringify(rv)
	}

	return Key{MetricName: metricName, SampleName: sampleName, LabelNames: names, LabelValues: values}, nil
}

func stringify(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return string(raw)
	}
}
