package syncer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"docvault/internal/model"
)

// FileResult is the outcome of one file in a batch.
type FileResult struct {
	Name   string
	Result UploadResult
	Err    error
}

// BatchUpload runs Upload for every file, BatchConcurrency at a time. A failed
// file does not stop the batch. opts.Progress receives the mean of the
// per-file progress values, so every file weighs the same regardless of size.
func (e *Engine) BatchUpload(ctx context.Context, files []model.UploadFile, opts UploadOptions) []FileResult {
	results := make([]FileResult, len(files))
	if len(files) == 0 {
		return results
	}

	var (
		mu       sync.Mutex
		progress = make([]float64, len(files))
	)
	report := func(i int, p float64) {
		if opts.Progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		progress[i] = p
		var sum float64
		for _, v := range progress {
			sum += v
		}
		opts.Progress(sum / float64(len(progress)))
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, f := range files {
		g.Go(func() error {
			fileOpts := opts
			fileOpts.Progress = func(p float64) { report(i, p) }
			res, err := e.Upload(ctx, f, fileOpts)
			results[i] = FileResult{Name: f.Name, Result: res, Err: err}
			if err != nil {
				report(i, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
