package buildinfo

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.24.7",
		Main:      debug.Module{Path: "github.com/soypete/llamabridge"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	info := fromBuildInfo(bi, true)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.CommitTime)
	assert.True(t, info.Modified)
	assert.Equal(t, "go1.24.7", info.GoVersion)
	assert.Equal(t, "github.com/soypete/llamabridge", info.Module)
	assert.Contains(t, info.String(), "commit 0123456789ab-dirty")
}

func TestFromBuildInfoMissing(t *testing.T) {
	info := fromBuildInfo(nil, false)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Target)
	assert.Equal(t, Version, info.Version)
}

func TestGetIsStable(t *testing.T) {
	assert.Equal(t, Get(), Get())
}
