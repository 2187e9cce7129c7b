package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get("abc")

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, "abc", info.InstanceID)
}

func TestInfo_OmitsEmptyInstanceID(t *testing.T) {
	b, err := json.Marshal(Get(""))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "instance_id")
}
