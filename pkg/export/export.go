// Package export writes experiment readings to CSV files and marks the
// experiments exported in the store. It plays the role the capture UI's
// export panel has in the full application.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opensensing/luxcap/pkg/store"
)

// concurrency bounds parallel file writes during a bulk export.
const concurrency = 4

// Experiment exports one experiment to <name>-<start>.csv inside dir and
// marks it exported. An experiment with no readings is logged and
// skipped without error; only a missing experiment or an I/O failure is
// fatal.
func Experiment(
	ctx context.Context,
	log logrus.FieldLogger,
	st store.Store,
	id uint,
	dir string,
) error {
	log = log.WithField("component", "export").WithField("experiment", id)

	exp, err := st.GetExperiment(ctx, id)
	if err != nil {
		return fmt.Errorf("getting experiment: %w", err)
	}

	points, err := st.LatestReadings(ctx, id, nil)
	if err != nil {
		return fmt.Errorf("reading experiment data: %w", err)
	}

	if len(points) == 0 {
		log.Warn("Experiment has no readings, nothing to export")

		return nil
	}

	filename := sanitizeFilename(fmt.Sprintf(
		"%s-%s.csv", exp.Name, exp.Start.Format("20060102-1504"),
	))
	path := filepath.Join(dir, filename)

	if err := writeCSV(path, points); err != nil {
		return err
	}

	marked, err := st.MarkExported(ctx, id)
	if err != nil {
		return fmt.Errorf("marking experiment exported: %w", err)
	}

	if !marked {
		log.Warn("Experiment vanished before it could be marked exported")
	}

	log.WithField("path", path).WithField("rows", len(points)).
		Info("Experiment exported")

	return nil
}

// All exports every experiment in the store concurrently.
func All(
	ctx context.Context,
	log logrus.FieldLogger,
	st store.Store,
	dir string,
) error {
	experiments, err := st.ListExperiments(ctx)
	if err != nil {
		return fmt.Errorf("listing experiments: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, exp := range experiments {
		exp := exp
		g.Go(func() error {
			return Experiment(gctx, log, st, exp.ID, dir)
		})
	}

	return g.Wait()
}

// writeCSV writes the ts,value rows to path.
func writeCSV(path string, points []store.Point) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{"ts", "value"}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, p := range points {
		record := []string{
			strconv.FormatFloat(p.TS, 'f', -1, 64),
			strconv.FormatFloat(p.Value, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	return f.Close()
}

// sanitizeFilename strips characters that are path separators or
// otherwise unsafe in filenames across platforms.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?':
			return '_'
		case r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case r < 0x20:
			return -1
		default:
			return r
		}
	}, name)
}
