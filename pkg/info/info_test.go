package info

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewerVersion(t *testing.T) {
	isNewer, err := IsNewerVersion("", "", "", "")
	assert.NotNil(t, err)
	assert.Equal(t, ErrInvalid, err)
	assert.Equal(t, false, isNewer)

	isNewer, err = IsNewerVersion("0.1.2", "1", "0.1.1", "1")
	assert.Nil(t, err)
	assert.Equal(t, true, isNewer)

	isNewer, err = IsNewerVersion("0.4.2", "1", "0.11.1", "1")
	assert.Nil(t, err)
	assert.Equal(t, false, isNewer)

	isNewer, err = IsNewerVersion("0.1.2", "4", "0.1.2", "3")
	assert.Nil(t, err)
	assert.Equal(t, true, isNewer)

	isNewer, err = IsNewerVersion("0.1.2", "1", "0.1.2", "3")
	assert.Nil(t, err)
	assert.Equal(t, false, isNewer)
}

func TestParseRelease(t *testing.T) {
	ver, dist, err := ParseRelease(Release())
	assert.Nil(t, err)
	assert.Equal(t, Version, ver)
	assert.Equal(t, Dist, dist)

	ver, dist, err = ParseRelease("1.10.0-12")
	assert.Nil(t, err)
	assert.Equal(t, "1.10.0", ver)
	assert.Equal(t, "12", dist)

	for _, s := range []string{"", "1.0.0", "-1", "1.0.0-"} {
		_, _, err = ParseRelease(s)
		assert.Equal(t, ErrInvalid, err, s)
	}
}

func TestSummary(t *testing.T) {
	s := Summary()
	assert.True(t, strings.HasPrefix(s, "ccwallet "+Release()))
	assert.Contains(t, s, InstanceID)
}
