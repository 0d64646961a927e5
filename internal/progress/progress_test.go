package progress

import (
	"bytes"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect() (*[]float64, Func) {
	var got []float64

	return &got, func(f float64) { got = append(got, f) }
}

func TestReader_ReportsMonotonicFractions(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)
	got, fn := collect()

	r := NewReader(bytes.NewReader(data), int64(len(data)), fn)

	buf := make([]byte, 7)
	for {
		_, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	require.NotEmpty(t, *got)
	assert.True(t, sort.Float64sAreSorted(*got))
	assert.Equal(t, 1.0, (*got)[len(*got)-1])
	assert.EqualValues(t, 1000, r.Tracker().Written())

	for _, f := range *got {
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
}

func TestTracker_ThrottlesBySteps(t *testing.T) {
	got, fn := collect()
	tr := NewTracker(10000, fn)

	for i := 0; i < 10000; i++ {
		tr.Add(1)
	}

	// one report per percent at most, plus the first one
	assert.LessOrEqual(t, len(*got), 101)
	assert.Equal(t, 1.0, (*got)[len(*got)-1])
}

func TestTracker_ClampsOvershoot(t *testing.T) {
	got, fn := collect()
	tr := NewTracker(10, fn)

	tr.Add(25)
	tr.Finish()

	assert.Equal(t, []float64{1}, *got)
}

func TestTracker_UnknownTotalOnlyReportsOnFinish(t *testing.T) {
	got, fn := collect()
	tr := NewTracker(0, fn)

	_, err := io.Copy(tr, bytes.NewReader(make([]byte, 64)))
	require.NoError(t, err)
	assert.Empty(t, *got)

	tr.Finish()
	tr.Finish()
	assert.Equal(t, []float64{1}, *got)
}

func TestTracker_ReadCountsWithoutConsuming(t *testing.T) {
	got, fn := collect()
	tr := NewTracker(4, fn)

	n, err := tr.Read([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []float64{1}, *got)
}
