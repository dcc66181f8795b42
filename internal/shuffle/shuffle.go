// Package shuffle permutes the lines of class name lists so that consecutive
// slices of a list are random subsets of the class.
package shuffle

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"stimkit/internal/experiment"
	"stimkit/internal/logging"
	"stimkit/internal/stage"
)

// Options tune a shuffle run.
type Options struct {
	Overwrite stage.Overwrite
	Logger    *zap.Logger
}

// Summary counts what was written.
type Summary struct {
	Files int
	Lines int
}

// Shuffle copies every regular file directly under src into dst with its
// lines permuted independently. Files are visited in lexical order so a
// seeded rng reproduces the same output. dst receives experiment.ShuffledMarker.
func Shuffle(ctx context.Context, src, dst string, rng *rand.Rand, opts Options) (Summary, error) {
	log := logging.OrNop(opts.Logger)
	if rng == nil {
		return Summary{}, fmt.Errorf("shuffle: nil random source")
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return Summary{}, fmt.Errorf("read source: %w", err)
	}
	policy := opts.Overwrite
	if policy == "" {
		policy = stage.OverwriteRefuse
	}
	st, err := stage.Begin(dst, policy)
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = st.Abort() }()

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var sum Summary
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		n, err := shuffleFile(filepath.Join(src, name), filepath.Join(st.Dir(), name), rng)
		if err != nil {
			return Summary{}, err
		}
		log.Debug("shuffled class list", zap.String("file", name), zap.Int("lines", n))
		sum.Files++
		sum.Lines += n
	}
	if err := os.WriteFile(filepath.Join(st.Dir(), experiment.ShuffledMarker), nil, 0o644); err != nil {
		return Summary{}, fmt.Errorf("write marker: %w", err)
	}
	if err := st.Commit(); err != nil {
		return Summary{}, err
	}
	log.Info("shuffle complete", zap.String("target", dst), zap.Int("files", sum.Files), zap.Int("lines", sum.Lines))
	return sum, nil
}

func shuffleFile(src, dst string, rng *rand.Rand) (int, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", src, err)
	}
	lines := SplitLines(data)
	rng.Shuffle(len(lines), func(i, j int) { lines[i], lines[j] = lines[j], lines[i] })
	if err := os.WriteFile(dst, bytes.Join(lines, nil), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	return len(lines), nil
}

// SplitLines splits data into lines that each keep their trailing newline. A
// final line without one gets it appended.
func SplitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	lines := bytes.SplitAfter(data, []byte("\n"))
	if last := lines[len(lines)-1]; len(last) == 0 {
		lines = lines[:len(lines)-1]
	} else if last[len(last)-1] != '\n' {
		lines[len(lines)-1] = append(append([]byte(nil), last...), '\n')
	}
	return lines
}
