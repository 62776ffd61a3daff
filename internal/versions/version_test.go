package versions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	noVCS := func() vcsInfo { return vcsInfo{} }
	withVCS := func() vcsInfo {
		return vcsInfo{revision: "0123456789abcdef", time: "2026-03-01T10:20:30Z"}
	}

	tests := []struct {
		name          string
		version       string
		commit        string
		buildDate     string
		vcs           func() vcsInfo
		wantVersion   string
		wantCommit    string
		wantBuildDate string
	}{
		{
			name:          "release values are kept",
			version:       "v1.4.0",
			commit:        "abcdef12",
			buildDate:     "2026-01-02T03:04:05Z",
			vcs:           withVCS,
			wantVersion:   "v1.4.0",
			wantCommit:    "abcdef12",
			wantBuildDate: "2026-01-02 03:04:05 UTC",
		},
		{
			name:          "dev build falls back to vcs info",
			version:       "dev",
			commit:        unknownStr,
			buildDate:     unknownStr,
			vcs:           withVCS,
			wantVersion:   "build-01234567",
			wantCommit:    "0123456789abcdef",
			wantBuildDate: "2026-03-01 10:20:30 UTC",
		},
		{
			name:          "dev build without vcs info",
			version:       "dev",
			commit:        unknownStr,
			buildDate:     unknownStr,
			vcs:           noVCS,
			wantVersion:   "build-unknown",
			wantCommit:    unknownStr,
			wantBuildDate: unknownStr,
		},
		{
			name:          "unparseable build date is kept verbatim",
			version:       "v2.0.0",
			commit:        "feedface",
			buildDate:     "yesterday",
			vcs:           noVCS,
			wantVersion:   "v2.0.0",
			wantCommit:    "feedface",
			wantBuildDate: "yesterday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := resolve(tt.version, tt.commit, tt.buildDate, "development", tt.vcs)
			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.wantCommit, info.Commit)
			assert.Equal(t, tt.wantBuildDate, info.BuildDate)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
			assert.Equal(t, "development", info.BuildType)
		})
	}
}

func TestIsRelease(t *testing.T) {
	t.Parallel()

	assert.Equal(t, BuildType == "release", IsRelease())
	assert.Equal(t, BuildType, GetVersionInfo().BuildType)
}
