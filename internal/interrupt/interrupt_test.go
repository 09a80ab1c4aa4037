package interrupt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: A new flag should not be raised.
func Test_Flag_Zero_Success(t *testing.T) {
	t.Parallel()

	var f Flag

	require.Equal(t, 0, f.Level())
}

// Expectation: Every raise should increase the level by one.
func Test_Flag_Raise_Success(t *testing.T) {
	t.Parallel()

	var f Flag

	require.Equal(t, 1, f.Raise())
	require.Equal(t, 2, f.Raise())
	require.Equal(t, 2, f.Level())
}

// Expectation: Concurrent raises should all be counted.
func Test_Flag_RaiseConcurrent_Success(t *testing.T) {
	t.Parallel()

	var (
		f  Flag
		wg sync.WaitGroup
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Raise()
		}()
	}
	wg.Wait()

	require.Equal(t, 16, f.Level())
}

// Expectation: Stopping a watch without any signal should leave the flag
// untouched.
func Test_Watch_Stop_Success(t *testing.T) {
	t.Parallel()

	var f Flag

	stop := Watch(&f)
	stop()

	require.Equal(t, 0, f.Level())
}
