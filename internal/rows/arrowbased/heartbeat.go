package arrowbased

import (
	"context"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/databricks/databricks-sql-go-cloudfetch/internal/fetcher"
	"github.com/databricks/databricks-sql-go-cloudfetch/logger"
	"github.com/jonboulle/clockwork"
)

// Once started heartBeat will call a Pinger at
// a regular interval until it is stopped.
type heartBeat struct {
	pinger   driver.Pinger
	interval time.Duration
	clock    clockwork.Clock
	logger   *logger.DBSQLLogger

	mu        sync.Mutex
	stopChan  chan bool
	stopped   chan struct{}
	running   bool
	err       error
	beatCount int
}

var _ fetcher.Overwatch = (*heartBeat)(nil)

func newHeartBeat(pinger driver.Pinger, interval time.Duration, clock clockwork.Clock, logger *logger.DBSQLLogger) *heartBeat {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &heartBeat{pinger: pinger, interval: interval, clock: clock, logger: logger}
}

func (hb *heartBeat) Start() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.running {
		return
	}

	hb.logger.Debug().Msg("heartbeat: starting")
	hb.running = true
	hb.stopChan = make(chan bool)
	hb.stopped = make(chan struct{})

	stopChan, stopped := hb.stopChan, hb.stopped
	timer := hb.clock.NewTimer(hb.interval)

	go func() {
		defer close(stopped)
		defer timer.Stop()

		for {
			select {
			case <-timer.Chan():
				err := hb.pinger.Ping(context.Background())

				hb.mu.Lock()
				hb.beatCount += 1
				if err != nil {
					hb.logger.Debug().Msg("heartbeat: ping failed")
					hb.running = false
					hb.err = err
					hb.mu.Unlock()
					return
				}
				hb.mu.Unlock()

				hb.logger.Debug().Msg("heartbeat: ping success")
				timer.Reset(hb.interval)

			case <-stopChan:
				hb.logger.Debug().Msg("heartbeat: stopping")
				return
			}
		}
	}()
}

// Stop ends the heartbeat and waits for its goroutine to exit.
func (hb *heartBeat) Stop() {
	hb.mu.Lock()
	stopChan, stopped := hb.stopChan, hb.stopped
	if stopChan != nil {
		close(stopChan)
		hb.stopChan = nil
	}
	hb.running = false
	hb.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
}

func (hb *heartBeat) status() (beats int, err error) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.beatCount, hb.err
}
