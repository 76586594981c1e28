package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo("crier")
	assert.Equal(t, "crier", info.Component)
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.NotEmpty(t, info.GoVersion)
}

func TestApplyBuildSettingsFillsOnlyUnstampedFields(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-10-01T09:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	info := Info{GitCommit: "unknown", BuildDate: "unknown"}
	applyBuildSettings(&info, settings)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, "2026-10-01T09:00:00Z", info.BuildDate)
	assert.True(t, info.Modified)

	stamped := Info{GitCommit: "feedface", BuildDate: "yesterday"}
	applyBuildSettings(&stamped, settings)
	assert.Equal(t, "feedface", stamped.GitCommit)
	assert.Equal(t, "yesterday", stamped.BuildDate)
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "abcdef1", Info{GitCommit: "abcdef123456"}.ShortCommit())
	assert.Equal(t, "abc", Info{GitCommit: "abc"}.ShortCommit())
}
