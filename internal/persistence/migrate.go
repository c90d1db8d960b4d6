package persistence

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"modstore/pkg/query"
)

// CopyReport summarises a Copy run.
type CopyReport struct {
	Keyed   map[Category]int
	Singles []string
	Skipped []string
}

// Copy transfers every document from one backend to another. Categories
// either side does not support are skipped and listed in the report.
// Existing documents in the destination are overwritten.
func Copy(ctx context.Context, log *zap.Logger, from, to Factory, concurrency int) (CopyReport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	report := CopyReport{Keyed: make(map[Category]int)}
	for _, c := range Categories() {
		src, err := from.KeyedRepository(c)
		if err == nil {
			var dst KeyedRepository
			dst, err = to.KeyedRepository(c)
			if err == nil {
				n, err := copyKeyed(ctx, src, dst, concurrency)
				if err != nil {
					return report, Error.New("copy %s: %v", c, err)
				}
				report.Keyed[c] = n
				log.Info("copied category", zap.String("category", string(c)), zap.Int("documents", n))
				continue
			}
		}
		if !IsUnsupported(err) {
			return report, err
		}
		report.Skipped = append(report.Skipped, string(c))
		log.Warn("category skipped", zap.String("category", string(c)), zap.Error(err))
	}
	for _, name := range Singles() {
		copied, err := copySingle(ctx, from, to, name)
		switch {
		case IsUnsupported(err):
			report.Skipped = append(report.Skipped, name)
			log.Warn("single skipped", zap.String("single", name), zap.Error(err))
		case err != nil:
			return report, Error.New("copy %s: %v", name, err)
		case copied:
			report.Singles = append(report.Singles, name)
		}
	}
	return report, nil
}

func copyKeyed(ctx context.Context, src, dst KeyedRepository, concurrency int) (int, error) {
	ids, err := src.IDs(ctx, query.New())
	if err != nil {
		return 0, err
	}
	var copied atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			raw, ok, err := src.Get(ctx, id)
			if err != nil || !ok {
				return err
			}
			if err := dst.Set(ctx, id, raw); err != nil {
				return err
			}
			copied.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(copied.Load()), err
}

func copySingle(ctx context.Context, from, to Factory, name string) (bool, error) {
	src, err := from.SingleRepository(name)
	if err != nil {
		return false, err
	}
	dst, err := to.SingleRepository(name)
	if err != nil {
		return false, err
	}
	raw, ok, err := src.Get(ctx)
	if err != nil || !ok {
		return false, err
	}
	return true, dst.Set(ctx, raw)
}
