// Package materialize renders experiment stimuli: it loads raw images from
// the image bank, applies the fixed transform and stores them under their
// experiment names.
package materialize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"stimkit/internal/blob"
	"stimkit/internal/experiment"
	"stimkit/internal/imaging"
	"stimkit/internal/logging"
	"stimkit/internal/metrics"
	"stimkit/internal/stage"
)

// Mode decides what a missing or unreadable raw image does to a run.
type Mode int

const (
	// ModeAbort stops the run and discards staged output.
	ModeAbort Mode = iota
	// ModeSkip logs the image, counts it as skipped and carries on.
	ModeSkip
)

// ErrRawImage wraps failures to fetch or decode a raw bank image.
var ErrRawImage = errors.New("raw image unavailable")

const progressEvery = 100

// Options configure a Materializer.
type Options struct {
	Transform imaging.Transform
	Mode      Mode
	Overwrite stage.Overwrite
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
}

// Item is one image to produce: a raw bank identifier and its output name.
type Item struct {
	Raw  string
	Name string
}

// Extra is an additional file written next to the images before commit.
type Extra struct {
	Name string
	Data []byte
}

// Report describes a finished run.
type Report struct {
	Written       int
	Skipped       int
	SkippedTrials []string
}

// Materializer writes transformed bank images into a target directory.
type Materializer struct {
	bank blob.Store
	opts Options
	log  *zap.Logger
}

// New returns a Materializer reading raw images from bank. A zero Transform
// means the default 256/224 transform.
func New(bank blob.Store, opts Options) *Materializer {
	if opts.Transform == (imaging.Transform{}) {
		opts.Transform = imaging.Default()
	}
	if opts.Overwrite == "" {
		opts.Overwrite = stage.OverwriteRefuse
	}
	return &Materializer{bank: bank, opts: opts, log: logging.OrNop(opts.Logger)}
}

// Run produces every trial image of def under target, named by its
// full_image_name.
func (m *Materializer) Run(ctx context.Context, def experiment.Definition, target string) (Report, error) {
	items := make([]Item, 0, len(def.Trials))
	for _, tr := range def.Trials {
		items = append(items, Item{Raw: tr.ImageName, Name: tr.FullImageName})
	}
	return m.RunItems(ctx, items, target)
}

// RunItems produces items under target and then writes extras. Output is
// staged according to the overwrite policy and committed only if every
// item was written or skipped.
func (m *Materializer) RunItems(ctx context.Context, items []Item, target string, extras ...Extra) (Report, error) {
	if err := m.opts.Transform.Validate(); err != nil {
		return Report{}, err
	}
	if m.opts.Mode == ModeAbort {
		if err := m.preflight(ctx, items); err != nil {
			return Report{}, err
		}
	}
	st, err := stage.Begin(target, m.opts.Overwrite)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = st.Abort() }()
	out, err := blob.NewFilesystem(st.Dir())
	if err != nil {
		return Report{}, err
	}
	replace := m.opts.Overwrite == stage.OverwriteReplace

	var rep Report
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		err := m.one(ctx, out, it, replace)
		switch {
		case err == nil:
			rep.Written++
		case errors.Is(err, ErrRawImage) && m.opts.Mode == ModeSkip:
			m.log.Warn("skipping image", zap.String("name", it.Name), zap.String("raw", it.Raw), zap.Error(err))
			rep.Skipped++
			rep.SkippedTrials = append(rep.SkippedTrials, it.Name)
		default:
			return Report{}, err
		}
		if (i+1)%progressEvery == 0 {
			m.log.Info("progress", zap.Int("done", i+1), zap.Int("total", len(items)))
		}
	}
	for _, x := range extras {
		if err := writeExtra(filepath.Join(st.Dir(), x.Name), x.Data); err != nil {
			return Report{}, err
		}
	}
	if err := st.Commit(); err != nil {
		return Report{}, err
	}
	m.opts.Metrics.Add(metrics.ImagesMaterialized, rep.Written)
	m.opts.Metrics.Add(metrics.ImagesSkipped, rep.Skipped)
	m.log.Info("materialize complete", zap.String("target", target),
		zap.Int("written", rep.Written), zap.Int("skipped", rep.Skipped))
	return rep, nil
}

// preflight checks that every raw image exists before anything is staged,
// so an aborting run fails without rendering a partial set first.
func (m *Materializer) preflight(ctx context.Context, items []Item) error {
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := experiment.BankKey(it.Raw)
		if _, err := m.bank.Head(ctx, key); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %s (%s): %w", ErrRawImage, key, it.Name, err)
		}
	}
	m.log.Debug("bank preflight ok", zap.Int("images", len(items)))
	return nil
}

func (m *Materializer) one(ctx context.Context, out blob.Writer, it Item, replace bool) error {
	key := experiment.BankKey(it.Raw)
	_, rc, err := m.bank.Get(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: fetch %s: %w", ErrRawImage, key, err)
	}
	img, _, err := imaging.Decode(rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRawImage, key, err)
	}
	cropped, err := m.opts.Transform.Apply(img)
	if err != nil {
		return fmt.Errorf("transform %s: %w", key, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, it.Name); err != nil {
		return fmt.Errorf("%s: %w", it.Name, err)
	}
	if _, err := out.Put(ctx, it.Name, &buf, blob.PutOptions{ContentType: imaging.ContentType(it.Name), Overwrite: replace}); err != nil {
		return fmt.Errorf("write %s: %w", it.Name, err)
	}
	m.log.Debug("materialized", zap.String("name", it.Name), zap.String("raw", key))
	return nil
}

func writeExtra(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
