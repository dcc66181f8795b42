package report

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"stimkit/internal/results"
)

func TestSummarize(t *testing.T) {
	rows := []results.Row{
		{Category: "cat", Response: "cat"},
		{Category: "cat", Response: "dog"},
		{Category: "dog", Response: "dog"},
		{Category: "dog", Response: "dog"},
		{Category: "knife", Response: "na"},
	}
	s, err := Summarize(rows)
	require.NoError(t, err)
	require.Equal(t, 5, s.Total)
	require.Equal(t, 2, s.Failures)
	require.InDelta(t, 0.6, s.Accuracy, 1e-9)
	require.Equal(t, []string{"cat", "dog", "knife"}, s.Categories)
	require.Equal(t, []string{"cat", "dog", "na"}, s.Responses)
	want := [][]int{
		{1, 1, 0},
		{0, 2, 0},
		{0, 0, 1},
	}
	if diff := cmp.Diff(want, s.Confusion); diff != "" {
		t.Fatalf("confusion mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, CategoryStat{Category: "cat", Trials: 2, Errors: 1, Accuracy: 0.5}, s.PerCategory[0])
	require.InDelta(t, 0.5, s.MeanAccuracy, 1e-9)
	require.InDelta(t, 0.5, s.MedianAccuracy, 1e-9)

	b, err := s.JSON()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.EqualValues(t, 2, decoded["total_failures"])
}

func TestSummarizeEmpty(t *testing.T) {
	s, err := Summarize(nil)
	require.NoError(t, err)
	require.Zero(t, s.Total)
	require.Empty(t, s.Confusion)
	b, err := s.JSON()
	require.NoError(t, err)
	require.Contains(t, string(b), `"categories": []`)
}
