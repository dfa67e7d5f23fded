package csv

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/logclust/pkg/matrix"
	"github.com/hed1ad/logclust/pkg/mutualinfo"
)

const intervalsCSV = `segment,interval,message_id,count,positions
a,0,1
a,0,2,3
a,0,bogus
a,1,1,,0.75;0.25
b,0,2,,0.5
b,0,3,2,0.1;0.2
`

func TestReaderGroupsIntervals(t *testing.T) {
	r, err := NewReaderFrom(strings.NewReader(intervalsCSV))
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Read()
	require.NoError(t, err)

	want := []mutualinfo.Interval{
		{Segment: "a", Messages: []mutualinfo.Message{{ID: 1, Count: 1}, {ID: 2, Count: 3}}},
		{Segment: "a", Messages: []mutualinfo.Message{{ID: 1, Count: 2, Timeline: []float64{0.25, 0.75}}}},
		{Segment: "b", Messages: []mutualinfo.Message{
			{ID: 2, Count: 1, Timeline: []float64{0.5}},
			{ID: 3, Count: 2, Timeline: []float64{0.1, 0.2}},
		}},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 1, r.Skipped())
	assert.Equal(t, []string{"segment", "interval", "message_id", "count", "positions"}, r.Headers())
}

func TestParseRow(t *testing.T) {
	tests := []struct {
		name    string
		record  []string
		want    mutualinfo.Message
		wantErr bool
	}{
		{name: "id only", record: []string{"s", "0", "7"}, want: mutualinfo.Message{ID: 7, Count: 1}},
		{name: "explicit count", record: []string{"s", "0", "7", "4"}, want: mutualinfo.Message{ID: 7, Count: 4}},
		{name: "positions set count", record: []string{"s", "0", "7", "", "0.5;0.1"}, want: mutualinfo.Message{ID: 7, Count: 2, Timeline: []float64{0.1, 0.5}}},
		{name: "short", record: []string{"s", "0"}, wantErr: true},
		{name: "bad id", record: []string{"s", "0", "x"}, wantErr: true},
		{name: "zero count", record: []string{"s", "0", "7", "0"}, wantErr: true},
		{name: "position out of range", record: []string{"s", "0", "7", "", "1.0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw, err := parseRow(tt.record)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rw.msg)
		})
	}
}

func TestReaderStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intervals.csv")
	require.NoError(t, os.WriteFile(path, []byte(intervalsCSV), 0o644))

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	in, err := r.Stream(context.Background())
	require.NoError(t, err)

	var segments []string
	for iv := range in {
		segments = append(segments, iv.Segment)
	}
	assert.Equal(t, []string{"a", "a", "b"}, segments)
	assert.NoError(t, r.Err())
}

func TestReaderWithoutHeader(t *testing.T) {
	r, err := NewReaderFrom(strings.NewReader("x,0,5\nx,0,6\n"), WithHeader(false))
	require.NoError(t, err)

	got, err := r.Read()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Messages, 2)
}

func TestMatrixRoundTrip(t *testing.T) {
	m := matrix.NewSymmetric(3)
	m.Set(0, 0, 1)
	m.Set(1, 1, 0.5)
	m.Set(2, 2, 1)
	m.Set(0, 1, -0.125)
	m.Set(0, 2, math.NaN())
	m.Set(1, 2, 1.0/3)

	var buf bytes.Buffer
	require.NoError(t, WriteMatrix(&buf, m, []int{10, 20, 30}))
	assert.True(t, strings.HasPrefix(buf.String(), "10,20,30\n1,-0.125,\n"))

	got, index, err := ReadMatrix(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, index.IDs())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(m.At(i, j)) {
				assert.True(t, math.IsNaN(got.At(i, j)))
				continue
			}
			assert.Equal(t, m.At(i, j), got.At(i, j))
		}
	}
}

func TestReadMatrixErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "bad id", input: "1,x\n1,0\n0,1\n"},
		{name: "duplicate id", input: "1,1\n1,0\n0,1\n"},
		{name: "missing row", input: "1,2\n1,0\n"},
		{name: "bad cell", input: "1,2\n1,z\n0,1\n"},
		{name: "short row", input: "1,2\n1\n0,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadMatrix(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}

	assert.Error(t, WriteMatrix(&bytes.Buffer{}, matrix.NewDense(2), []int{1}))
}

func TestReadLabels(t *testing.T) {
	index := matrix.NewIndexMapFrom([]int{10, 20, 30, 40, 50})
	input := "login\t10\t20\t99\n" +
		"disk\t30\tjunk\t10\n" +
		"\n" +
		"ghost\t77\n"

	p, err := ReadLabels(strings.NewReader(input), index)
	require.NoError(t, err)

	assert.Equal(t, []string{"login", "disk", "ghost", Unassigned}, p.Names)
	assert.Equal(t, []int{0, 0, 1, 3, 3}, p.Labels)
	assert.Equal(t, 3, p.Unassigned)
}

func TestReadLabelsAllListed(t *testing.T) {
	index := matrix.NewIndexMapFrom([]int{1, 2})
	p, err := ReadLabels(strings.NewReader("a\t1\nb\t2\n"), index)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Names)
	assert.Equal(t, []int{0, 1}, p.Labels)
	assert.Equal(t, -1, p.Unassigned)
}
