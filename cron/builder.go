package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	executionDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "mustache_rescan_duration",
		Help: "Execution duration of a template rescan",
	}, []string{"job"})

	executionSuccessful = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mustache_rescan_successful_count",
		Help: "Number of successful template rescans",
	}, []string{"job"})

	executionFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mustache_rescan_failed_count",
		Help: "Number of failed template rescans",
	}, []string{"job"})
)

var tracer = otel.Tracer("github.com/draganm/lean-mustache/cron")

// Resyncer reconciles tracked templates with their origin.
type Resyncer interface {
	Resync() error
}

type ResyncFunc func() error

func (f ResyncFunc) Resync() error {
	return f()
}

type job struct {
	interval time.Duration
	resyncer Resyncer
}

type Builder struct {
	jobs map[string]job
}

func NewBuilder() *Builder {
	return &Builder{
		jobs: map[string]job{},
	}
}

// Add schedules r to run every interval. Non positive intervals disable the job.
func (b *Builder) Add(name string, interval time.Duration, r Resyncer) bool {
	if interval <= 0 || r == nil {
		return false
	}

	b.jobs[name] = job{interval: interval, resyncer: r}
	return true
}

func (b *Builder) Start(ctx context.Context, log logr.Logger) (err error) {

	if len(b.jobs) == 0 {
		log.Info("no rescan jobs configured")
		return nil
	}

	scheduler := gocron.NewScheduler(time.Local)

	defer func() {
		if err != nil {
			scheduler.Stop()
		} else {
			go func() {
				<-ctx.Done()
				scheduler.Stop()
			}()
		}
	}()

	for name, j := range b.jobs {
		name, j := name, j

		durationObserver := executionDuration.WithLabelValues(name)
		successCounter := executionSuccessful.WithLabelValues(name)
		failureCounter := executionFailed.WithLabelValues(name)

		_, err = scheduler.Every(j.interval).SingletonMode().DoWithJobDetails(func(gj gocron.Job) {
			log := log.WithValues("rescanJob", name)

			_, span := tracer.Start(gj.Context(), fmt.Sprintf("rescan: %s", name))
			defer span.End()

			startTime := time.Now()
			err := j.resyncer.Resync()
			durationObserver.Observe(time.Since(startTime).Seconds())
			if err != nil {
				failureCounter.Inc()
				log.Error(err, "rescan failed")
				span.RecordError(err)
				return
			}
			successCounter.Inc()
			log.V(1).Info("rescan successful")
		})
		if err != nil {
			return fmt.Errorf("could not schedule rescan %s: %w", name, err)
		}
	}

	scheduler.StartAsync()

	return nil

}
