package experiment

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// ClassListExt is the extension of class name list files.
	ClassListExt = ".txt"
	// ShuffledMarker is written by the shuffle tool into its output directory.
	ShuffledMarker = ".shuffled"
)

// ErrNotShuffled is returned when a class list directory lacks ShuffledMarker.
var ErrNotShuffled = errors.New("class lists are not marked as shuffled")

// ClassList is the ordered raw image identifiers of one class.
type ClassList struct {
	Category string
	Names    []string
}

// LoadClassLists reads every *.txt file directly under dir in lexical order.
// Lines are trimmed and blank lines dropped. When requireShuffled is set the
// directory must carry ShuffledMarker.
func LoadClassLists(dir string, requireShuffled bool) ([]ClassList, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read class lists: %w", err)
	}
	if requireShuffled {
		if _, err := os.Stat(filepath.Join(dir, ShuffledMarker)); err != nil {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotShuffled)
		}
	}
	var lists []ClassList
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ClassListExt) {
			continue
		}
		names, err := readLines(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		lists = append(lists, ClassList{Category: strings.TrimSuffix(name, ClassListExt), Names: names})
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].Category < lists[j].Category })
	return lists, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open class list: %w", err)
	}
	defer func() { _ = f.Close() }()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
