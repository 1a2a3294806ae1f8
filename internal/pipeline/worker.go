package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/vastchain/internal/loader"
	"github.com/dgallion1/vastchain/internal/stream"
)

// Worker processes a single chain load job.
type Worker struct {
	loader *loader.Loader
	log    *slog.Logger
}

func NewWorker(l *loader.Loader, log *slog.Logger) *Worker {
	return &Worker{loader: l, log: log}
}

// Process walks the job's chain, recording load and ad events as they are
// produced. Each document is fetched once; the ad stream is derived from the
// same load events.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "uri", job.Config.URI)
	start := time.Now()

	job.SetStatus(StatusLoading, "loading")

	var rootFailed bool
	loads := stream.Source[loader.LoadEvent](func(ctx context.Context, emit func(loader.LoadEvent) error) error {
		return w.loader.Load(job.Config)(ctx, func(ev loader.LoadEvent) error {
			job.AddLoadEvent(ev)
			if ev.Type == loader.EventFailed {
				job.AddError(ev.Err.Error())
				if ev.Wrapper == nil {
					rootFailed = true
				}
			}
			return emit(ev)
		})
	})

	err := loader.Ads(loads)(ctx, func(ev loader.AdEvent) error {
		job.AddAdEvent(ev)
		return nil
	})

	snap := job.Snapshot()
	log = log.With(
		"documents", snap.Progress.DocumentsLoaded,
		"failed", snap.Progress.DocumentsFailed,
		"ads", snap.Progress.Ads,
		"elapsed", time.Since(start),
	)

	switch {
	case err != nil:
		log.Error("chain load aborted", "error", err)
		job.AddError(fmt.Sprintf("aborted: %s", err))
		job.SetStatus(StatusFailed, "loading")
	case rootFailed:
		log.Warn("root document failed")
		job.SetStatus(StatusFailed, "root")
	case snap.Progress.DocumentsFailed > 0:
		log.Info("chain loaded with failures")
		job.SetStatus(StatusPartial, "done")
	default:
		log.Info("chain loaded")
		job.SetStatus(StatusCompleted, "done")
	}
}
