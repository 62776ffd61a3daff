// Package versions provides build information for the decksnap-sync server.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknownStr = "unknown"

// Version information set by build using -ldflags
var (
	// Version is the current version of decksnap-sync
	Version = "dev"
	// Commit is the git commit hash of the build
	Commit = unknownStr
	// BuildDate is the date when the binary was built
	BuildDate = unknownStr
	// BuildType is "release" for official builds and "development" otherwise.
	BuildType = "development"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	BuildType string `json:"build_type"`
}

// GetVersionInfo returns the version information of the current binary.
func GetVersionInfo() VersionInfo {
	return resolve(Version, Commit, BuildDate, BuildType, readVCS)
}

// IsRelease reports whether the binary is an official release build.
func IsRelease() bool {
	return BuildType == "release"
}

type vcsInfo struct {
	revision string
	time     string
}

func readVCS() vcsInfo {
	var v vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.revision = setting.Value
		case "vcs.time":
			v.time = setting.Value
		}
	}
	return v
}

func resolve(version, commit, buildDate, buildType string, vcs func() vcsInfo) VersionInfo {
	if strings.HasPrefix(version, "dev") {
		info := vcs()
		if commit == unknownStr && info.revision != "" {
			commit = info.revision
		}
		if buildDate == unknownStr && info.time != "" {
			buildDate = info.time
		}
	}

	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	// Development builds are labelled by their commit.
	if version == "dev" {
		version = fmt.Sprintf("build-%.*s", 8, commit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		BuildType: buildType,
	}
}
