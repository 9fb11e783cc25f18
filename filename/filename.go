// Package filename implements the DictFile naming grammar:
// <type>(_<mode>)?_<pid_token>(-<n>)?.db, where <mode> is present only
// when <type> is "gauge".
package filename

import (
	"fmt"
	"strings"
)

// Parsed is a filename split into its three logical fields.
type Parsed struct {
	Type string // counter, histogram, summary, gauge
	Mode string // gauge merge mode; empty for non-gauge types
	PID  string // opaque pid token; may itself contain underscores
}

// Prefix builds the file-prefix segment used by PathAllocator: "counter",
// "histogram", "summary", or "gauge_<mode>".
func Prefix(metricType, mode string) string {
	if metricType == "gauge" {
		return metricType + "_" + mode
	}
	return metricType
}

// Parse splits basename (e.g. "gauge_livesum_1234-0.db") into its fields.
// The pid token is opaque and may contain underscores; everything after
// the type (and mode, for gauges) is joined back with "_" and then has a
// trailing "-<digits>" stripped from its last component only.
func Parse(basename string) (Parsed, error) {
	if !strings.HasSuffix(basename, ".db") {
		return Parsed{}, fmt.Errorf("filename: %q does not end in .db", basename)
	}
	stem := strings.TrimSuffix(basename, ".db")
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return Parsed{}, fmt.Errorf("filename: %q is missing a pid segment", basename)
	}

	typ := parts[0]
	var mode string
	var pidParts []string

	switch typ {
	case "gauge":
		if len(parts) < 3 {
			return Parsed{}, fmt.Errorf("filename: %q is missing a mode or pid segment", basename)
		}
		mode = parts[1]
		pidParts = parts[2:]
	case "counter", "histogram", "summary":
		pidParts = parts[1:]
	default:
		return Parsed{}, fmt.Errorf("filename: %q has unknown metric type %q", basename, typ)
	}

	pid := stripTrailingCounter(strings.Join(pidParts, "_"))
	return Parsed{Type: typ, Mode: mode, PID: pid}, nil
}

// stripTrailingCounter removes a trailing "-<digits>" suffix, as added by
// PathAllocator when more than one file shares a (type, mode, pid).
func stripTrailingCounter(pid string) string {
	idx := strings.LastIndexByte(pid, '-')
	if idx < 0 {
		return pid
	}
	suffix := pid[idx+1:]
	if suffix == "" {
		return pid
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return pid
		}
	}
	return pid[:idx]
}
