package scheduler

import (
	"time"

	"vigil/internal/logger"

	"github.com/robfig/cron/v3"
)

// Rollover runs fn at every UTC midnight. Used to re-base the daily
// loss window; it never touches the circuit breaker, which only an
// operator may re-arm.
type Rollover struct {
	c *cron.Cron
}

func NewRollover(fn func(now time.Time)) (*Rollover, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc("0 0 * * *", func() {
		now := time.Now().UTC()
		logger.Infof("scheduler: daily rollover at %s", now.Format(time.RFC3339))
		fn(now)
	})
	if err != nil {
		return nil, err
	}
	return &Rollover{c: c}, nil
}

func (r *Rollover) Start() { r.c.Start() }

func (r *Rollover) Stop() { r.c.Stop() }
