package call

import (
	"context"
	"time"

	"github.com/baatchit/internal/logger"
	"github.com/baatchit/internal/model"
)

// Reaper переводит в MISSED звонки, которые слишком долго звонят без ответа.
type Reaper struct {
	svc      *Service
	timeout  time.Duration
	interval time.Duration
}

// NewReaper: timeout <= 0 отключает очистку.
func NewReaper(svc *Service, timeout, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reaper{svc: svc, timeout: timeout, interval: interval}
}

func (r *Reaper) Run(ctx context.Context) {
	if r.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.reap(ctx); n > 0 {
				logger.Infof("call reaper: %d stale calls marked missed", n)
			}
		}
	}
}

func (r *Reaper) reap(ctx context.Context) int {
	stale, err := r.svc.calls.ListStale(ctx, r.svc.now().Add(-r.timeout))
	if err != nil {
		logger.Errorf("call reaper list: %v", err)
		return 0
	}
	n := 0
	for i := range stale {
		c := &stale[i]
		if err := r.svc.transition(ctx, c, model.CallMissed); err != nil {
			logger.Debugf("call reaper %s: %v", c.ID, err)
			continue
		}
		r.svc.notifyEnd(c)
		n++
	}
	return n
}
