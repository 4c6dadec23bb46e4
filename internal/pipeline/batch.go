package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/alitto/pond/v2"
)

// Job is one image of a batch.
type Job struct {
	Input  string
	Output string
}

type Result struct {
	Job
	Err error
}

// checkOutputs rejects batches in which two jobs would write the same output.
func checkOutputs(jobs []Job) error {
	owner := make(map[string]string, len(jobs))
	for _, job := range jobs {
		out := filepath.Clean(job.Output)
		if prev, ok := owner[out]; ok {
			return fmt.Errorf("%s and %s both write %s", prev, job.Input, out)
		}
		owner[out] = job.Input
	}
	return nil
}

// PredictImages runs PredictImage for every job, at most concurrency at a
// time. Each job gets its own workspace. A failed job does not stop the
// others; all failures are joined into the returned error. Jobs sharing an
// output path are rejected before any work starts.
func (p *Pipeline) PredictImages(ctx context.Context, jobs []Job, concurrency int, opts Options) ([]Result, error) {
	if err := checkOutputs(jobs); err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	pool := pond.NewResultPool[Result](concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, job := range jobs {
		group.SubmitErr(func() (Result, error) {
			err := p.PredictImage(ctx, job.Input, job.Output, opts)
			if err != nil {
				p.log.Error("Prediction failed", "input", job.Input, "error", err)
			} else {
				p.log.Info("Prediction done", "input", job.Input, "output", job.Output)
			}
			return Result{Job: job, Err: err}, nil
		})
	}
	results, err := group.Wait()
	if err != nil {
		return results, err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Input, r.Err))
		}
	}
	return results, errors.Join(errs...)
}
