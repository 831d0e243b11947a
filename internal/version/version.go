// Package version describes the running docsync build.
//
// Release builds stamp the variables below:
//
//	go build -ldflags "\
//	  -X github.com/openmined/docsync/internal/version.Version=1.2.0 \
//	  -X github.com/openmined/docsync/internal/version.Revision=$(git rev-parse --short HEAD) \
//	  -X github.com/openmined/docsync/internal/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	  ./cmd/docsync
//
// Anything left unstamped is filled from the module and VCS data that the go
// tool embeds, so `go install` and local builds still report where they came
// from.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	Name = "docsync"

	devVersion = "0.0.0-dev"
	unknown    = "unknown"
)

var (
	Version   = devVersion
	Revision  = ""
	BuildDate = ""
)

// Info is what a docsync binary reports about itself, on the command line
// and from the server index.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"buildDate,omitempty"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

func Get() Info {
	rev := Revision
	if rev == "" {
		rev = unknown
	}
	return Info{
		Name:      Name,
		Version:   Version,
		Revision:  rev,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String is `docsync 1.2.0 (5e23a4c, go1.23.4 linux/amd64)`.
func (i Info) String() string {
	s := fmt.Sprintf("%s %s (%s, %s %s", i.Name, i.Version, i.Revision, i.Go, i.Platform)
	if i.BuildDate != "" {
		s += ", built " + i.BuildDate
	}
	return s + ")"
}

// UserAgent identifies remote store clients.
func UserAgent() string {
	return Name + "/" + Version
}

// fill takes what ldflags left empty from the embedded build metadata.
func fill(mainVersion string, settings map[string]string) {
	if Version == devVersion || Version == "" {
		if mainVersion != "" && mainVersion != "(devel)" {
			Version = strings.TrimPrefix(mainVersion, "v")
		}
	}

	if Revision == "" {
		if r := settings["vcs.revision"]; r != "" {
			if len(r) > 12 {
				r = r[:12]
			}
			if settings["vcs.modified"] == "true" {
				r += "-dirty"
			}
			Revision = r
		}
	}

	if BuildDate == "" {
		BuildDate = settings["vcs.time"]
	}
}

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	fill(info.Main.Version, settings)
}
