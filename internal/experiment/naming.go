package experiment

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMarker is the leading character of ImageNet synset identifiers.
const DefaultMarker = "n"

// ErrMalformedName is returned when an output image name does not follow
// the naming scheme.
var ErrMalformedName = errors.New("malformed image name")

// Name derives the output image name for a trial:
//
//	{position:04d}_cl_s{subject:01d}_cr_{category}_{seed}_{raw}
//
// position is the 0-based index in the shuffled trial order.
func Name(position, subjectID int, category string, seed int64, raw string) string {
	return fmt.Sprintf("%04d_cl_s%01d_cr_%s_%d_%s", position, subjectID, category, seed, raw)
}

// NameParts is a decoded output image name.
type NameParts struct {
	Position  int
	SubjectID int
	Category  string
	Seed      int64
	RawName   string
}

var nameHead = regexp.MustCompile(`^(\d{4,})_cl_s(\d+)_cr_(.+)$`)

// ParseName reverses Name. The raw identifier is the suffix starting at the
// last field that begins with marker and directly follows a numeric field,
// so categories containing digits or the marker character still round-trip.
// Raw identifiers that themselves contain such a pair are ambiguous; Generate
// refuses them.
func ParseName(name, marker string) (NameParts, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	m := nameHead.FindStringSubmatch(name)
	if m == nil {
		return NameParts{}, fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	pos, err := strconv.Atoi(m[1])
	if err != nil {
		return NameParts{}, fmt.Errorf("%w: position in %q", ErrMalformedName, name)
	}
	subject, err := strconv.Atoi(m[2])
	if err != nil {
		return NameParts{}, fmt.Errorf("%w: subject in %q", ErrMalformedName, name)
	}
	fields := strings.Split(m[3], "_")
	// fields[0] belongs to the category, so the seed is at index >= 1
	for i := len(fields) - 1; i >= 2; i-- {
		if !strings.HasPrefix(fields[i], marker) {
			continue
		}
		seed, err := strconv.ParseInt(fields[i-1], 10, 64)
		if err != nil {
			continue
		}
		return NameParts{
			Position:  pos,
			SubjectID: subject,
			Category:  strings.Join(fields[:i-1], "_"),
			Seed:      seed,
			RawName:   strings.Join(fields[i:], "_"),
		}, nil
	}
	return NameParts{}, fmt.Errorf("%w: no %q-prefixed identifier after seed in %q", ErrMalformedName, marker, name)
}

// RawName returns the raw image identifier embedded in an output image name.
func RawName(name, marker string) (string, error) {
	p, err := ParseName(name, marker)
	if err != nil {
		return "", err
	}
	return p.RawName, nil
}

// BankKey returns the image-bank key of a raw identifier: the raw image lives
// in a directory named after the part before the first underscore.
func BankKey(raw string) string {
	dir, _, _ := strings.Cut(raw, "_")
	return dir + "/" + raw
}
