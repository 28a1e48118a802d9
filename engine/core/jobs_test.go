package core

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobSystemRunsEveryJob(t *testing.T) {
	js, err := NewJobSystem(4, 2)
	require.NoError(t, err)

	var ran, completed, failed atomic.Int32
	for i := 0; i < 50; i++ {
		fail := i%10 == 0
		js.Submit(JobTask{
			Name: "count",
			Run: func() error {
				ran.Add(1)
				if fail {
					return errors.New("boom")
				}
				return nil
			},
			OnComplete: func() { completed.Add(1) },
			OnFailure:  func(error) { failed.Add(1) },
		})
	}
	js.Wait()

	assert.Equal(t, int32(50), ran.Load())
	assert.Equal(t, int32(45), completed.Load())
	assert.Equal(t, int32(5), failed.Load())
	assert.NoError(t, js.Shutdown())
}
