// Package report summarizes subject errors: confusion counts between true
// categories and responses, and accuracy per category.
package report

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"stimkit/internal/results"
)

// CategoryStat is the accuracy of one true category.
type CategoryStat struct {
	Category string  `json:"category"`
	Trials   int     `json:"trials"`
	Errors   int     `json:"errors"`
	Accuracy float64 `json:"accuracy"`
}

// Summary is written as summary.json next to extracted failure images.
type Summary struct {
	Total          int            `json:"total_rows"`
	Failures       int            `json:"total_failures"`
	Accuracy       float64        `json:"accuracy"`
	MeanAccuracy   float64        `json:"mean_category_accuracy"`
	MedianAccuracy float64        `json:"median_category_accuracy"`
	Categories     []string       `json:"categories"`
	Responses      []string       `json:"responses"`
	Confusion      [][]int        `json:"confusion"`
	PerCategory    []CategoryStat `json:"per_category"`
}

// Summarize builds the summary for every row of a results table. Rows of
// Confusion follow Categories, columns follow Responses; both are sorted.
func Summarize(rows []results.Row) (Summary, error) {
	s := Summary{
		Total:       len(rows),
		Categories:  []string{},
		Responses:   []string{},
		Confusion:   [][]int{},
		PerCategory: []CategoryStat{},
	}
	if len(rows) == 0 {
		return s, nil
	}
	s.Categories = uniqueSorted(rows, func(r results.Row) string { return r.Category })
	s.Responses = uniqueSorted(rows, func(r results.Row) string { return r.Response })
	catIdx := index(s.Categories)
	respIdx := index(s.Responses)

	m := mat.NewDense(len(s.Categories), len(s.Responses), nil)
	correct := make([]int, len(s.Categories))
	for _, r := range rows {
		i, j := catIdx[r.Category], respIdx[r.Response]
		m.Set(i, j, m.At(i, j)+1)
		if r.Failed() {
			s.Failures++
		} else {
			correct[i]++
		}
	}
	s.Accuracy = float64(len(rows)-s.Failures) / float64(len(rows))

	accs := make([]float64, len(s.Categories))
	s.Confusion = make([][]int, len(s.Categories))
	for i, cat := range s.Categories {
		trials := int(mat.Sum(m.RowView(i)))
		s.Confusion[i] = make([]int, len(s.Responses))
		for j := range s.Responses {
			s.Confusion[i][j] = int(m.At(i, j))
		}
		accs[i] = float64(correct[i]) / float64(trials)
		s.PerCategory = append(s.PerCategory, CategoryStat{
			Category: cat,
			Trials:   trials,
			Errors:   trials - correct[i],
			Accuracy: accs[i],
		})
	}

	var err error
	if s.MeanAccuracy, err = stats.Mean(accs); err != nil {
		return Summary{}, fmt.Errorf("mean accuracy: %w", err)
	}
	if s.MedianAccuracy, err = stats.Median(accs); err != nil {
		return Summary{}, fmt.Errorf("median accuracy: %w", err)
	}
	return s, nil
}

// JSON renders the summary with indentation.
func (s Summary) JSON() ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func uniqueSorted(rows []results.Row, key func(results.Row) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func index(keys []string) map[string]int {
	m := make(map[string]int, len(keys))
	for i, k := range keys {
		m[k] = i
	}
	return m
}
