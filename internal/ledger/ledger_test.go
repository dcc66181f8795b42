package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stimkit/internal/experiment"
)

func sampleDefinition(t *testing.T, subject, exp int) experiment.Definition {
	t.Helper()
	classes := []experiment.ClassList{
		{Category: "cat", Names: []string{"n01_1.JPEG", "n01_2.JPEG", "n01_3.JPEG", "n01_4.JPEG"}},
		{Category: "knife", Names: []string{"n03_1.JPEG", "n03_2.JPEG", "n03_3.JPEG", "n03_4.JPEG"}},
	}
	def, _, err := experiment.Generate(classes, experiment.Params{
		SubjectID: subject, ExperimentID: exp, Seed: 42, TrialsPerClass: 2, Strict: true,
	}, nil)
	require.NoError(t, err)
	return def
}

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "nested", "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := nowFunc
	nowFunc = func() time.Time { return fixed }
	t.Cleanup(func() { nowFunc = prev })

	s := openSQLite(t)
	def := sampleDefinition(t, 1, 0)
	runID, err := s.RecordDefinition(ctx, "out/exp_0_subject_1.json", def)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	for _, tr := range def.Trials {
		raw, err := s.LookupRawName(ctx, tr.FullImageName)
		require.NoError(t, err)
		require.Equal(t, tr.ImageName, raw)
	}
	_, err = s.LookupRawName(ctx, "0000_cl_s9_cr_dog_1_n99")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.RecordDefinition(ctx, "again.json", def)
	require.ErrorIs(t, err, ErrAlreadyRecorded)

	_, err = s.RecordDefinition(ctx, "out/exp_1_subject_1.json", sampleDefinition(t, 1, 1))
	require.NoError(t, err)

	recs, err := s.Definitions(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, runID, recs[0].RunID)
	require.Equal(t, 0, recs[0].Definition.ExperimentID)
	require.Equal(t, 1, recs[1].Definition.ExperimentID)
	require.True(t, recs[0].RecordedAt.Equal(fixed))
	require.Nil(t, recs[0].Definition.Trials)

	got, err := s.Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, def, got.Definition)
	require.Equal(t, "out/exp_0_subject_1.json", got.Path)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(ctx, Config{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	def := sampleDefinition(t, 2, 0)
	_, err = s.RecordDefinition(ctx, "p.json", def)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	raw, err := s.LookupRawName(ctx, def.Trials[0].FullImageName)
	require.NoError(t, err)
	require.Equal(t, def.Trials[0].ImageName, raw)
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{Driver: DriverNone})
	require.ErrorIs(t, err, ErrDisabled)
	_, err = Open(ctx, Config{})
	require.ErrorIs(t, err, ErrDisabled)
	_, err = Open(ctx, Config{Driver: "mysql"})
	require.Error(t, err)

	restore := overrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	_, err = Open(ctx, Config{Driver: DriverPostgres})
	require.ErrorContains(t, err, "boom")
}

func TestRebind(t *testing.T) {
	require.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", rebind("SELECT a FROM t WHERE b = ? AND c = ?"))
	require.Equal(t, "SELECT 1", rebind("SELECT 1"))
}
