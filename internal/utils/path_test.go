package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     string
		want      string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "absolute path", input: "/tmp/test/../docs", want: filepath.Clean("/tmp/docs")},
		{name: "home expansion", input: "~/docs", want: filepath.Join(home, "docs")},
		{name: "owner-like relative path is not expanded", input: "~alice", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result))
			if tt.want != "" {
				assert.Equal(t, tt.want, result)
			}
		})
	}
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b.txt", NormPath("a/b.txt"))
	assert.Equal(t, "a/b.txt", NormPath("/a/./b.txt"))
	assert.Equal(t, "a/c.txt", NormPath("a/b/../c.txt"))
	assert.Equal(t, "", NormPath("."))
}

func TestEnsureParent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "x", "y", "file.txt")
	require.NoError(t, EnsureParent(target))
	assert.True(t, DirExists(filepath.Dir(target)))
	assert.False(t, FileExists(target))
}
