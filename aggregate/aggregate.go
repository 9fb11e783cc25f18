// Package aggregate implements the Aggregator: given a directory of *.db
// DictFiles, it derives (metric_type, multiprocess_mode, pid) from each
// filename, decodes every entry, and merges samples across files using
// type-specific rules into the canonical {metric_name -> MetricFamily}
// shape a text formatter consumes. A single corrupt file never prevents
// aggregation of the others.
package aggregate

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/metrics-mmap/coremmap/entryparser"
	"github.com/metrics-mmap/coremmap/filename"
	"github.com/metrics-mmap/coremmap/keycodec"
)

// Label is one name/value pair on a Sample.
type Label struct {
	Name  string
	Value string
}

// Sample is one fully-labeled observation within a MetricFamily.
type Sample struct {
	Name   string
	Labels []Label
	Value  float64
}

// MetricFamily is the aggregated unit for one metric name, ready for a
// text formatter to render.
type MetricFamily struct {
	Name    string
	Help    string
	Type    string
	Samples []Sample
}

const defaultHelp = "Multiprocess metric"

// entry is one raw, file-scoped observation collected before merging.
type entry struct {
	metricName string
	metricType string
	mode       string
	fileName   string // basename, for tie-break ordering
	sample     Sample
}

// Aggregate scans dir for *.db files and merges their contents into a
// {metric_name -> MetricFamily} map. Corrupt or unreadable files
// contribute nothing to the result but never fail the whole scrape.
func Aggregate(dir string, logger log.Logger) (map[string]*MetricFamily, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.db"))
	if err != nil {
		return nil, fmt.Errorf("aggregate: listing %s: %w", dir, err)
	}
	sort.Strings(paths)

	var raw []entry
	metricTypes := make(map[string]string)

	for _, path := range paths {
		base := filepath.Base(path)
		parsed, err := filename.Parse(base)
		if err != nil {
			level.Warn(logger).Log("msg", "skipping file with unparseable name", "path", path, "err", err)
			continue
		}

		buf, err := os.ReadFile(path)
		if err != nil {
			level.Warn(logger).Log("msg", "skipping unreadable file", "path", path, "err", err)
			continue
		}

		entries := readEntries(buf)
		for _, e := range entries {
			key, err := keycodec.Decode(e.Key)
			if err != nil {
				level.Warn(logger).Log("msg", "skipping entry with invalid key", "path", path, "err", err)
				continue
			}

			labels := make([]Label, len(key.LabelNames))
			for i := range key.LabelNames {
				labels[i] = Label{Name: key.LabelNames[i], Value: key.LabelValues[i]}
			}
			if parsed.Type == "gauge" {
				labels = append(labels, Label{Name: "pid", Value: parsed.PID})
			}
			sortLabels(labels)

			metricTypes[key.MetricName] = parsed.Type
			raw = append(raw, entry{
				metricName: key.MetricName,
				metricType: parsed.Type,
				mode:       parsed.Mode,
				fileName:   base,
				sample: Sample{
					Name:   key.SampleName,
					Labels: labels,
					Value:  e.Value,
				},
			})
		}
	}

	byMetric := make(map[string][]entry)
	for _, e := range raw {
		byMetric[e.metricName] = append(byMetric[e.metricName], e)
	}

	result := make(map[string]*MetricFamily)
	for name, entries := range byMetric {
		fam := &MetricFamily{Name: name, Help: defaultHelp, Type: metricTypes[name]}
		fam.Samples = mergeSamples(fam.Type, entries)
		synthesize(fam)
		sortSamples(fam.Samples)
		result[name] = fam
	}

	return result, nil
}

func readEntries(buf []byte) []entryparser.Entry {
	if len(buf) < 8 {
		return nil
	}
	entries, _ := entryparser.All(buf, len(buf), entryparser.Lenient)
	return entries
}

func sortLabels(labels []Label) {
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
}

func sortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return labelSignature(samples[i].Labels) < labelSignature(samples[j].Labels)
	})
}

func labelSignature(labels []Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Name + "=" + l.Value
	}
	return strings.Join(parts, ",")
}

// mergeIdentity returns the merge key and the label set a sample should
// be stored under given a metric type/mode: (sample_name, labels) for
// gauge mode all/liveall (pid kept), (sample_name, labels minus pid) for
// everything else.
func mergeIdentity(metricType, mode string, s Sample) (key string, labels []Label) {
	labels = s.Labels
	if metricType == "gauge" && mode != "all" && mode != "liveall" {
		labels = withoutPID(labels)
	}
	return s.Name + "\x00" + labelSignature(labels), labels
}

func withoutPID(labels []Label) []Label {
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		if l.Name == "pid" {
			continue
		}
		out = append(out, l)
	}
	return out
}

func mergeSamples(metricType string, entries []entry) []Sample {
	type accum struct {
		sample   Sample
		fileName string
		seen     bool
	}
	merged := make(map[string]*accum)
	var order []string

	for _, e := range entries {
		k, labels := mergeIdentity(metricType, e.mode, e.sample)
		a, ok := merged[k]
		if !ok {
			a = &accum{}
			merged[k] = a
			order = append(order, k)
		}

		if !a.seen {
			a.sample = Sample{Name: e.sample.Name, Labels: labels, Value: e.sample.Value}
			a.fileName = e.fileName
			a.seen = true
			continue
		}

		a.sample.Value = combine(metricType, e.mode, a.sample.Value, e.sample.Value, a.fileName, e.fileName)
		if e.fileName >= a.fileName {
			a.fileName = e.fileName
		}
	}

	out := make([]Sample, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k].sample)
	}
	return out
}

// combine applies the type/mode-specific merge operator from spec.md §4.6
// step 4. For the "all"/"liveall" gauge modes, two files should only ever
// collide under the same merge key when a pid has been reused across a
// worker restart; the later-sorting filename wins (see SPEC_FULL.md §4.6).
func combine(metricType, mode string, existing, incoming float64, existingFile, incomingFile string) float64 {
	switch {
	case metricType == "gauge" && mode == "min":
		return math.Min(existing, incoming)
	case metricType == "gauge" && mode == "max":
		return math.Max(existing, incoming)
	case metricType == "gauge" && mode == "livesum":
		return existing + incoming
	case metricType == "gauge" && (mode == "all" || mode == "liveall"):
		if incomingFile >= existingFile {
			return incoming
		}
		return existing
	default: // counter, histogram, summary
		return existing + incoming
	}
}

// synthesize fills in the exposition-contract samples the storage layer
// never guarantees on its own: an explicit le="+Inf" histogram bucket,
// and summary _sum/_count presence for every label combination observed.
func synthesize(fam *MetricFamily) {
	switch fam.Type {
	case "histogram":
		synthesizeHistogram(fam)
	case "summary":
		synthesizeSummary(fam)
	}
}

func synthesizeHistogram(fam *MetricFamily) {
	countName := fam.Name + "_count"
	bucketName := fam.Name + "_bucket"

	counts := make(map[string]float64)
	haveInf := make(map[string]bool)
	for _, s := range fam.Samples {
		base := baseLabels(s.Labels, "le")
		sig := labelSignature(base)
		switch {
		case s.Name == countName:
			counts[sig] = s.Value
		case s.Name == bucketName && leValue(s.Labels) == "+Inf":
			haveInf[sig] = true
		}
	}
	for sig, count := range counts {
		if haveInf[sig] {
			continue
		}
		base := unsig(sig)
		labels := append(append([]Label{}, base...), Label{Name: "le", Value: "+Inf"})
		sortLabels(labels)
		fam.Samples = append(fam.Samples, Sample{Name: bucketName, Labels: labels, Value: count})
	}
}

func synthesizeSummary(fam *MetricFamily) {
	sumName := fam.Name + "_sum"
	countName := fam.Name + "_count"

	seen := make(map[string][]Label)
	haveSum := make(map[string]bool)
	haveCount := make(map[string]bool)
	for _, s := range fam.Samples {
		sig := labelSignature(s.Labels)
		seen[sig] = s.Labels
		if s.Name == sumName {
			haveSum[sig] = true
		}
		if s.Name == countName {
			haveCount[sig] = true
		}
	}
	for sig, labels := range seen {
		if !haveSum[sig] {
			fam.Samples = append(fam.Samples, Sample{Name: sumName, Labels: labels, Value: 0})
		}
		if !haveCount[sig] {
			fam.Samples = append(fam.Samples, Sample{Name: countName, Labels: labels, Value: 0})
		}
	}
}

func baseLabels(labels []Label, drop string) []Label {
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		if l.Name == drop {
			continue
		}
		out = append(out, l)
	}
	return out
}

func leValue(labels []Label) string {
	for _, l := range labels {
		if l.Name == "le" {
			return l.Value
		}
	}
	return ""
}

// unsig is a best-effort inverse of labelSignature, sufficient for the
// synthesis helpers above which only need name/value pairs back, not a
// guarantee of round-tripping arbitrary characters.
func unsig(sig string) []Label {
	if sig == "" {
		return nil
	}
	parts := strings.Split(sig, ",")
	out := make([]Label, 0, len(parts))
	for _, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out = append(out, Label{Name: kv[0], Value: kv[1]})
	}
	return out
}
