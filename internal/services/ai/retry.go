package ai

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// RetryPolicy retries a call up to Attempts times in total, sleeping
// Unit, 2*Unit, 4*Unit... between attempts.
type RetryPolicy struct {
	Attempts int
	Unit     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Unit
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.Unit << 10
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// retryWithData runs op under the policy and returns the last error when
// every attempt fails.
func retryWithData[T any](ctx context.Context, p RetryPolicy, op func() (T, error), metrics *middleware.Metrics, logger *logrus.Logger) (T, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		return op()
	}, p.backOff(ctx), func(err error, delay time.Duration) {
		if metrics != nil {
			metrics.RecordAIRetry()
		}
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Warn("AI request failed, retrying")
	})
}
