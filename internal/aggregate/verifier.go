package aggregate

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Verifier runs VerifyAll on a cron schedule. Runs never overlap: a pass
// still in progress when the next one is due makes that one skip.
type Verifier struct {
	m        *Maintainer
	schedule string
	timeout  time.Duration
	cron     *cron.Cron

	mu   sync.Mutex
	last VerifyReport
	runs int
}

// NewVerifier creates a verifier for a standard cron spec or a descriptor
// such as "@every 15m". Each pass is bounded by timeout.
func NewVerifier(m *Maintainer, schedule string, timeout time.Duration) (*Verifier, error) {
	logger := cron.VerbosePrintfLogger(log.New(os.Stderr, "aggregate verifier: ", log.LstdFlags))
	v := &Verifier{
		m:        m,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(logger))),
	}
	if _, err := v.cron.AddFunc(schedule, v.run); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Verifier) run() {
	ctx := context.Background()
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	report := v.RunOnce(ctx)
	if report.Drifted > 0 || report.Failed > 0 {
		log.Printf("aggregate: verified %d summaries, %d drifted and repaired, %d failed, %d inconclusive, %d pruned",
			report.Checked, report.Drifted, report.Failed, report.Inconclusive, report.Pruned)
	}
}

// RunOnce performs one verification pass immediately.
func (v *Verifier) RunOnce(ctx context.Context) VerifyReport {
	report := v.m.VerifyAll(ctx)
	v.mu.Lock()
	v.last = report
	v.runs++
	v.mu.Unlock()
	return report
}

// Last returns the report of the latest pass and the number of passes run.
func (v *Verifier) Last() (VerifyReport, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last, v.runs
}

// Start begins the schedule in the background.
func (v *Verifier) Start() {
	log.Printf("aggregate: drift verifier started schedule=%q", v.schedule)
	v.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish or ctx
// to expire.
func (v *Verifier) Stop(ctx context.Context) {
	done := v.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
