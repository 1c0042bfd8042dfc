package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	// Given: the package defaults or an ldflags-injected version

	// Then: it is "dev" or semver
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semver.MatchString(Version), "got %s", Version)
}

func TestString_ContainsBuildInfo(t *testing.T) {
	// When: formatting the version string
	str := String()

	// Then: every build field is present
	assert.Contains(t, str, Name)
	assert.Contains(t, str, Version)
	assert.Contains(t, str, "commit: "+Commit)
	assert.Contains(t, str, GoVersion)
}

func TestShort_ReturnsVersionOnly(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestGetInfo_JSON(t *testing.T) {
	// Given: structured build info
	info := GetInfo()

	// When: encoding it
	data, err := json.Marshal(info)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Then: keys are snake_case and the platform matches the runtime
	assert.Equal(t, "gitingest", decoded["name"])
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, decoded["platform"])
	assert.Contains(t, decoded, "go_version")
}
