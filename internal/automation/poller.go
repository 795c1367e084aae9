package automation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller periodically invokes the dispatch processor for due jobs. It is the
// safety net behind immediate dispatch and cron: constructed and owned by
// the composition root, started once, stopped on shutdown.
type Poller struct {
	processor *Processor
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPoller creates a poller over the processor.
func NewPoller(processor *Processor, interval time.Duration) *Poller {
	return &Poller{
		processor: processor,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (p *Poller) Start(ctx context.Context) {
	slog.Info("starting automation poller", "interval", p.interval)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop gracefully stops the poller.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	slog.Info("automation poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			summary, err := p.processor.ProcessDue(ctx, ProcessFilter{})
			if err != nil {
				slog.Error("poller run failed", "error", err)
				continue
			}
			if summary.TotalScanned > 0 {
				slog.Info("poller run complete",
					"scanned", summary.TotalScanned,
					"sent", summary.Sent,
					"failed", summary.Failed,
					"skipped", summary.Skipped,
				)
			}
		}
	}
}
