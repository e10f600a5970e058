package usage

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Janitor periodically trims usage_records older than a retention window on
// a cron schedule (§4.7: "a retention janitor trims rows older than the
// configured window").
type Janitor struct {
	store     Store
	retention time.Duration
	log       *logrus.Entry

	cron *cron.Cron
}

// NewJanitor constructs a Janitor that deletes rows older than retention
// each time it fires.
func NewJanitor(store Store, retention time.Duration, log *logrus.Entry) *Janitor {
	return &Janitor{
		store:     store,
		retention: retention,
		log:       log,
		cron:      cron.New(),
	}
}

// Start schedules the janitor on spec (standard five-field cron syntax) and
// begins running it in the background. The returned error is a parse error
// in spec; Start never blocks.
func (j *Janitor) Start(ctx context.Context, spec string) error {
	_, err := j.cron.AddFunc(spec, func() {
		j.runOnce(ctx)
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight run to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce performs a single retention sweep immediately, for callers (tests,
// manual admin triggers) that do not want to wait for the schedule.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	return j.sweep(ctx)
}

func (j *Janitor) runOnce(ctx context.Context) {
	n, err := j.sweep(ctx)
	if err != nil {
		j.log.WithError(err).Error("usage retention sweep failed")
		return
	}
	if n > 0 {
		j.log.WithField("deleted", n).Info("usage retention sweep deleted expired rows")
	}
}

func (j *Janitor) sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-j.retention)
	return j.store.DeleteOlderThan(ctx, cutoff)
}
