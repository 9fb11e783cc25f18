package multiproc

import "github.com/prometheus/common/version"

// BuildInfo is the version/build metadata an embedding application can
// surface however it likes (a gauge, a log line, a /version endpoint)
// without this module depending on client_golang's Collector type.
type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildUser string
	BuildDate string
	GoVersion string
}

// NewBuildInfo reads the ldflags-injected values from
// github.com/prometheus/common/version, mirroring the
// version.NewCollector registration lustre_exporter.go's init() performs.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version.Version,
		Revision:  version.Revision,
		Branch:    version.Branch,
		BuildUser: version.BuildUser,
		BuildDate: version.BuildDate,
		GoVersion: version.GoVersion,
	}
}

// String returns the multi-line summary version.Print produces for
// "coremmap". It reads the package-level values of
// github.com/prometheus/common/version, not b's fields.
func (b BuildInfo) String() string {
	return version.Print("coremmap")
}
