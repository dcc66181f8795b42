// Package failures re-materializes the images a subject answered wrongly,
// under the names the subject saw, together with an error summary.
package failures

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"stimkit/internal/blob"
	"stimkit/internal/logging"
	"stimkit/internal/materialize"
	"stimkit/internal/metrics"
	"stimkit/internal/report"
	"stimkit/internal/results"
	"stimkit/internal/stage"
)

// SummaryFile is written next to the extracted images.
const SummaryFile = "summary.json"

// Options configure an Extractor. A nil Resolver means MarkerResolver with
// the default marker. Render.Overwrite defaults to replace.
type Options struct {
	Resolver Resolver
	Render   materialize.Options
}

// Report describes a finished extraction.
type Report struct {
	materialize.Report
	Rows       int
	Failures   int
	Unresolved []string
	Summary    report.Summary
}

// Extractor filters failed trials and renders their images.
type Extractor struct {
	resolver Resolver
	render   *materialize.Materializer
	mode     materialize.Mode
	metrics  *metrics.Recorder
	log      *zap.Logger
}

// NewExtractor reads raw images from bank.
func NewExtractor(bank blob.Store, opts Options) *Extractor {
	if opts.Resolver == nil {
		opts.Resolver = MarkerResolver{}
	}
	if opts.Render.Overwrite == "" {
		opts.Render.Overwrite = stage.OverwriteReplace
	}
	return &Extractor{
		resolver: opts.Resolver,
		render:   materialize.New(bank, opts.Render),
		mode:     opts.Render.Mode,
		metrics:  opts.Render.Metrics,
		log:      logging.OrNop(opts.Render.Logger),
	}
}

// Run renders the image of every row whose response differs from its
// category into target, named by the row's imagename.
func (e *Extractor) Run(ctx context.Context, rows []results.Row, target string) (Report, error) {
	failed := results.Failures(rows)
	rep := Report{Rows: len(rows), Failures: len(failed)}

	summary, err := report.Summarize(rows)
	if err != nil {
		return Report{}, err
	}
	rep.Summary = summary
	data, err := summary.JSON()
	if err != nil {
		return Report{}, fmt.Errorf("encode summary: %w", err)
	}

	seen := make(map[string]struct{}, len(failed))
	items := make([]materialize.Item, 0, len(failed))
	for _, row := range failed {
		if _, dup := seen[row.ImageName]; dup {
			continue
		}
		seen[row.ImageName] = struct{}{}
		raw, err := e.resolver.Resolve(ctx, row.ImageName)
		if err != nil {
			if errors.Is(err, ErrUnresolvable) && e.mode == materialize.ModeSkip {
				e.log.Warn("skipping unresolvable row", zap.Int("line", row.Line), zap.String("imagename", row.ImageName), zap.Error(err))
				rep.Unresolved = append(rep.Unresolved, row.ImageName)
				continue
			}
			return Report{}, fmt.Errorf("row %d: %w", row.Line, err)
		}
		items = append(items, materialize.Item{Raw: raw, Name: row.ImageName})
	}

	rendered, err := e.render.RunItems(ctx, items, target, materialize.Extra{Name: SummaryFile, Data: data})
	if err != nil {
		return Report{}, err
	}
	rep.Report = rendered
	e.metrics.Add(metrics.FailuresExtracted, rendered.Written)
	e.log.Info("failures extracted", zap.Int("rows", rep.Rows), zap.Int("failures", rep.Failures),
		zap.Int("written", rendered.Written), zap.Float64("accuracy", summary.Accuracy))
	return rep, nil
}
