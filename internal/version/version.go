package version

import "runtime/debug"

// AppName is the service name used in logs, metrics, traces and profiles.
const AppName = "ipgate"

// set via -ldflags at release build time
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	AppName    string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get merges ldflags values with whatever the go toolchain stamped into the binary.
// ldflags win for commit and build date, the toolchain always wins for go version.
func Get() *Info {
	out := &Info{
		AppName:    AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			out.CommitDate = s.Value
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" || s.Value == "false" {
				dirty := s.Value == "true"
				out.VCSDirty = &dirty
			}
		}
	}
	return out
}

// String renders the one-line form printed by -V.
func (i *Info) String() string {
	dirty := i.VCSDirty != nil && *i.VCSDirty
	return i.AppName + " " + i.Version +
		" (commit=" + i.Commit +
		", commit_date=" + i.CommitDate +
		", build_id=" + i.BuildId +
		", build_date=" + i.BuildDate +
		", go=" + i.GoVersion +
		", dirty=" + boolString(dirty) + ")"
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
