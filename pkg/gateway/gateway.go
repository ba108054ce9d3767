/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gateway funnels every cloud API call through a named token bucket
// and centralizes retry/backoff classification for throttling and server
// errors. Nothing in the provider talks to Azure without going through here.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/taskpool/worker-manager/pkg/metrics"
)

// Bucket names one of the gateway's token buckets. Azure throttles reads,
// writes, list and operation-status calls separately, hence the split.
type Bucket string

const (
	BucketQuery  Bucket = "query"
	BucketGet    Bucket = "get"
	BucketList   Bucket = "list"
	BucketOpRead Bucket = "opRead"
)

var Buckets = []Bucket{BucketQuery, BucketGet, BucketList, BucketOpRead}

const (
	// DefaultInterval and DefaultCapacity mirror Azure's documented default
	// throttling window: 2000 calls per 100 seconds per bucket.
	DefaultInterval = 100 * time.Second
	DefaultCapacity = 2000

	// DefaultBackoffDelay is the base unit for retry backoff.
	DefaultBackoffDelay = time.Second

	maxAttempts = 7
)

// RateLimit overrides one bucket's refill interval and capacity.
type RateLimit struct {
	Interval time.Duration `json:"interval"`
	Capacity int           `json:"capacity"`
}

// Options configures a Gateway.
type Options struct {
	// RateLimits overrides per bucket; missing buckets use the defaults.
	RateLimits map[Bucket]RateLimit
	// BackoffDelay is the base backoff unit; zero means DefaultBackoffDelay.
	BackoffDelay time.Duration
}

// Gateway is the process-wide rate limiter for cloud calls.
type Gateway struct {
	limiters     map[Bucket]*rate.Limiter
	backoffDelay time.Duration
}

func New(opts Options) *Gateway {
	limiters := make(map[Bucket]*rate.Limiter, len(Buckets))
	for _, b := range Buckets {
		interval, capacity := DefaultInterval, DefaultCapacity
		if rl, ok := opts.RateLimits[b]; ok {
			if rl.Interval > 0 {
				interval = rl.Interval
			}
			if rl.Capacity > 0 {
				capacity = rl.Capacity
			}
		}
		limiters[b] = rate.NewLimiter(rate.Limit(float64(capacity)/interval.Seconds()), capacity)
	}
	backoff := opts.BackoffDelay
	if backoff <= 0 {
		backoff = DefaultBackoffDelay
	}
	return &Gateway{limiters: limiters, backoffDelay: backoff}
}

// Enqueue runs op after acquiring a token from the named bucket. HTTP 429 is
// retried after backoffDelay*50; HTTP 5xx is retried with exponential backoff
// (backoffDelay*2^tries). Every other error propagates unchanged so callers
// can distinguish 404 from real failures.
func (g *Gateway) Enqueue(ctx context.Context, bucket Bucket, log logr.Logger, op func(ctx context.Context) error) error {
	limiter := g.limiters[bucket]
	err := retry.Do(
		func() error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			err := op(ctx)
			if err != nil {
				metrics.CloudAPICalls.WithLabelValues(string(bucket), "error").Inc()
				return err
			}
			metrics.CloudAPICalls.WithLabelValues(string(bucket), "success").Inc()
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.DelayType(g.delayFor),
		retry.OnRetry(func(n uint, err error) {
			code := StatusCode(err)
			metrics.CloudAPIRetries.WithLabelValues(string(bucket), strconv.Itoa(code)).Inc()
			if code == http.StatusTooManyRequests {
				log.V(1).Info("cloud API throttled, backing off", "bucket", string(bucket), "try", n+1)
				return
			}
			log.Info("cloud API server error, backing off", "bucket", string(bucket), "try", n+1, "status", code, "error", err.Error())
		}),
	)
	return err
}

// Retryable reports whether the gateway may retry the call: 429 or any 5xx.
// Other 4xx and transport errors surface to the caller.
func Retryable(err error) bool {
	code := StatusCode(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// delayFor implements the backoff classifier. n is zero-based, so the first
// 5xx retry waits backoffDelay*2, the second backoffDelay*4, and so on.
func (g *Gateway) delayFor(n uint, err error, _ *retry.Config) time.Duration {
	if StatusCode(err) == http.StatusTooManyRequests {
		return g.backoffDelay * 50
	}
	return g.backoffDelay * (1 << (n + 1))
}
