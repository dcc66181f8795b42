package failures

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"stimkit/internal/blob"
	"stimkit/internal/experiment"
	"stimkit/internal/ledger"
	"stimkit/internal/materialize"
	"stimkit/internal/results"
	"stimkit/internal/stage"
)

func bankWith(t *testing.T, raws ...string) blob.Store {
	t.Helper()
	bank, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	for _, raw := range raws {
		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 320, 240)), nil))
		_, err = bank.Put(context.Background(), experiment.BankKey(raw), &buf, blob.PutOptions{})
		require.NoError(t, err)
	}
	return bank
}

func TestMarkerResolver(t *testing.T) {
	ctx := context.Background()
	raw, err := MarkerResolver{}.Resolve(ctx, experiment.Name(3, 2, "knife", 42, "n03623556_17.JPEG"))
	require.NoError(t, err)
	require.Equal(t, "n03623556_17.JPEG", raw)

	_, err = MarkerResolver{}.Resolve(ctx, "practice_image.JPEG")
	require.ErrorIs(t, err, ErrUnresolvable)
}

func TestDefinitionResolver(t *testing.T) {
	def, _, err := experiment.Generate([]experiment.ClassList{{Category: "oven", Names: []string{"m1", "m2"}}},
		experiment.Params{SubjectID: 5, Seed: 9, TrialsPerClass: 2, Strict: true}, nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), experiment.FileName(0, 5))
	require.NoError(t, experiment.WriteDefinition(path, def))

	r, err := LoadDefinitionResolver(path)
	require.NoError(t, err)
	for _, tr := range def.Trials {
		raw, err := r.Resolve(context.Background(), tr.FullImageName)
		require.NoError(t, err)
		require.Equal(t, tr.ImageName, raw, "identifiers without the marker still resolve")
	}
	_, err = r.Resolve(context.Background(), "0000_cl_s5_cr_oven_9_m3")
	require.ErrorIs(t, err, ErrUnresolvable)

	_, err = LoadDefinitionResolver(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

type fakeLedger map[string]string

func (f fakeLedger) LookupRawName(_ context.Context, name string) (string, error) {
	if raw, ok := f[name]; ok {
		return raw, nil
	}
	return "", fmt.Errorf("%s: %w", name, ledger.ErrNotFound)
}

type brokenLedger struct{}

func (brokenLedger) LookupRawName(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestLedgerResolver(t *testing.T) {
	r := LedgerResolver{Ledger: fakeLedger{"a": "n01_1.JPEG"}}
	raw, err := r.Resolve(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "n01_1.JPEG", raw)
	_, err = r.Resolve(context.Background(), "b")
	require.ErrorIs(t, err, ErrUnresolvable)

	_, err = LedgerResolver{Ledger: brokenLedger{}}.Resolve(context.Background(), "a")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnresolvable, "a broken ledger must not look like a missing name")
}

func TestExtractorLedgerFailureAbortsEvenWhenSkipping(t *testing.T) {
	rows := []results.Row{{Response: "cat", Category: "dog", ImageName: experiment.Name(0, 1, "dog", 42, "n02_1.JPEG")}}
	chain := Chain{LedgerResolver{Ledger: brokenLedger{}}}
	_, err := NewExtractor(bankWith(t, "n02_1.JPEG"), Options{
		Resolver: chain,
		Render:   materialize.Options{Mode: materialize.ModeSkip},
	}).Run(context.Background(), rows, filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnresolvable)
}

func TestExtractorRun(t *testing.T) {
	dogImg := experiment.Name(1, 1, "dog", 42, "n02_1.JPEG")
	knifeImg := experiment.Name(2, 1, "knife", 42, "n03_7.JPEG")
	rows := []results.Row{
		{Response: "cat", Category: "cat", ImageName: experiment.Name(0, 1, "cat", 42, "n01_1.JPEG"), Line: 2},
		{Response: "cat", Category: "dog", ImageName: dogImg, Line: 3},
		{Response: "na", Category: "knife", ImageName: knifeImg, Line: 4},
		{Response: "na", Category: "knife", ImageName: knifeImg, Line: 5},
	}
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, dogImg), []byte("stale"), 0o600))

	rep, err := NewExtractor(bankWith(t, "n02_1.JPEG", "n03_7.JPEG"), Options{}).Run(context.Background(), rows, target)
	require.NoError(t, err)
	require.Equal(t, 4, rep.Rows)
	require.Equal(t, 3, rep.Failures)
	require.Equal(t, 2, rep.Written)

	entries, err := os.ReadDir(target)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	want := []string{dogImg, knifeImg, SummaryFile}
	sort.Strings(want)
	require.Equal(t, want, names)

	b, err := os.ReadFile(filepath.Join(target, dogImg))
	require.NoError(t, err)
	require.NotEqual(t, "stale", string(b))

	var summary map[string]any
	b, err = os.ReadFile(filepath.Join(target, SummaryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &summary))
	require.EqualValues(t, 3, summary["total_failures"])
}

func TestExtractorUnresolvable(t *testing.T) {
	rows := []results.Row{
		{Response: "dog", Category: "cat", ImageName: "practice.JPEG", Line: 2},
		{Response: "cat", Category: "dog", ImageName: experiment.Name(1, 1, "dog", 42, "n02_1.JPEG"), Line: 3},
	}
	bank := bankWith(t, "n02_1.JPEG")

	parent := t.TempDir()
	_, err := NewExtractor(bank, Options{Render: materialize.Options{Overwrite: stage.OverwriteRefuse}}).
		Run(context.Background(), rows, filepath.Join(parent, "out"))
	require.ErrorIs(t, err, ErrUnresolvable)
	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Empty(t, entries)

	rep, err := NewExtractor(bank, Options{Render: materialize.Options{Mode: materialize.ModeSkip}}).
		Run(context.Background(), rows, filepath.Join(parent, "skip"))
	require.NoError(t, err)
	require.Equal(t, []string{"practice.JPEG"}, rep.Unresolved)
	require.Equal(t, 1, rep.Written)
}

func TestExtractorMissingRawAborts(t *testing.T) {
	rows := []results.Row{{Response: "cat", Category: "dog", ImageName: experiment.Name(0, 0, "dog", 1, "n09_1.JPEG")}}
	_, err := NewExtractor(bankWith(t), Options{}).Run(context.Background(), rows, t.TempDir())
	require.ErrorIs(t, err, materialize.ErrRawImage)
}

func TestChainResolver(t *testing.T) {
	ctx := context.Background()
	chain := Chain{LedgerResolver{Ledger: fakeLedger{}}, LedgerResolver{Ledger: fakeLedger{"x": "n7"}}}
	raw, err := chain.Resolve(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "n7", raw)
	_, err = chain.Resolve(ctx, "y")
	require.ErrorIs(t, err, ErrUnresolvable)
	_, err = Chain{}.Resolve(ctx, "y")
	require.ErrorIs(t, err, ErrUnresolvable)
}
