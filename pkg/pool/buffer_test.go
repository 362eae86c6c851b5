package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedBufferPoolGetPut(t *testing.T) {
	fp := NewFixedBuffer(4096)

	buf := fp.Get()
	require.NotNil(t, buf)
	assert.Len(t, *buf, 4096)

	// A shortened slice must be restored to full length on reuse.
	*buf = (*buf)[:10]
	fp.Put(buf)

	again := fp.Get()
	require.NotNil(t, again)
	assert.Len(t, *again, 4096)
}

func TestFixedBufferPoolRejectsForeignSizes(t *testing.T) {
	fp := NewFixedBuffer(1024)

	foreign := make([]byte, 2048)
	fp.Put(&foreign) // silently dropped

	buf := fp.Get()
	assert.Len(t, *buf, 1024)
}

func TestFixedBufferPoolNilPut(t *testing.T) {
	fp := NewFixedBuffer(64)
	assert.NotPanics(t, func() { fp.Put(nil) })
}
