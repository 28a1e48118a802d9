package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertCallsAbortHandler(t *testing.T) {
	var got string
	prev := SetAbortHandler(func(msg string) { got = msg })
	defer SetAbortHandler(prev)

	Assert(true, "never")
	require.Empty(t, got)

	Assert(false, "layout %d", 3)
	assert.Contains(t, got, "assert_test.go")
	assert.Contains(t, got, "layout 3")
}

func TestMust(t *testing.T) {
	var got string
	prev := SetAbortHandler(func(msg string) { got = msg })
	defer SetAbortHandler(prev)

	Must(nil, "create buffer")
	require.Empty(t, got)

	Must(errors.New("out of device memory"), "create buffer")
	assert.Contains(t, got, "create buffer: out of device memory")
}
