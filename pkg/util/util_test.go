package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want string
	}{
		{"zero", 0, "0 B"},
		{"below one kib", 1023, "1023 B"},
		{"one kib", 1024, "1.0 KiB"},
		{"one and a half kib", 1536, "1.5 KiB"},
		{"one mib", 1024 * 1024, "1.0 MiB"},
		{"ten gib", 10 * 1024 * 1024 * 1024, "10.0 GiB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBytes(tt.n))
		})
	}
}

func TestPathDepth(t *testing.T) {
	tests := []struct {
		name string
		path string
		want int
	}{
		{"root", "/", 0},
		{"single", "/a", 1},
		{"nested", "/a/b/c.txt", 3},
		{"trailing separator", "/a/b/", 2},
		{"relative", "a/b", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PathDepth(tt.path))
		})
	}
}

func TestInvertMap(t *testing.T) {
	m := map[int]string{1: "one", 2: "two"}
	inv := InvertMap(m)
	require.Len(t, inv, 2)
	assert.Equal(t, 1, inv["one"])
	assert.Equal(t, 2, inv["two"])
}

func TestMergeAndDeduplicate(t *testing.T) {
	got := MergeAndDeduplicate([]string{"a", "b"}, []string{"b", "c"}, nil)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
}
