package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTableNeverIssuesZero(t *testing.T) {
	var table handleTable[string]
	a := table.add("a")
	b := table.add("b")
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)

	v, ok := table.get(b)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = table.get(0)
	assert.False(t, ok)
}

func TestHandleTableRemove(t *testing.T) {
	var table handleTable[int]
	h := table.add(7)

	v, ok := table.remove(h)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = table.remove(h)
	assert.False(t, ok)
	assert.Zero(t, table.len())
}

func TestHandleTableDrainNewestFirst(t *testing.T) {
	var table handleTable[string]
	for _, s := range []string{"instance", "device", "buffer", "view"} {
		table.add(s)
	}
	table.remove(3)

	assert.Equal(t, []string{"view", "device", "instance"}, table.drain())
	assert.Zero(t, table.len())

	h := table.add("again")
	assert.Equal(t, uint64(5), h)
}
