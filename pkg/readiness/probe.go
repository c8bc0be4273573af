package readiness

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/logging"
	"github.com/core-tools/hsu-devsession/pkg/ports"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 1000 * time.Millisecond
	DefaultTimeout        = 30 * time.Second
	DefaultAttemptTimeout = 2 * time.Second
)

// ProbeOptions configures readiness waiting
type ProbeOptions struct {
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`
}

// Probe waits for services to become ready
type Probe struct {
	options ProbeOptions
	client  *http.Client
	logger  logging.Logger
}

func NewProbe(options ProbeOptions, logger logging.Logger) *Probe {
	if options.InitialBackoff <= 0 {
		options.InitialBackoff = DefaultInitialBackoff
	}
	if options.MaxBackoff <= 0 {
		options.MaxBackoff = DefaultMaxBackoff
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.AttemptTimeout <= 0 {
		options.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Probe{
		options: options,
		client: &http.Client{
			Timeout: options.AttemptTimeout,
		},
		logger: logger,
	}
}

// AwaitPort blocks until something is listening on host:port. The port
// counts as bound once a free-port scan starting at it resolves elsewhere.
func (p *Probe) AwaitPort(ctx context.Context, host string, port int) error {
	p.logger.Debugf("Waiting for port to be bound, host: %s, port: %d", host, port)

	attempt := func() error {
		resolved, err := ports.FirstFreePort(host, port)
		if err != nil {
			// Scan saturated, the requested port cannot be free either
			return nil
		}
		if resolved != port {
			return nil
		}
		return fmt.Errorf("port %d is still free", port)
	}

	return p.await(ctx, attempt, fmt.Sprintf("port %s:%d", host, port))
}

// AwaitHTTP blocks until a GET against url answers with a 2xx status
func (p *Probe) AwaitHTTP(ctx context.Context, url string) error {
	p.logger.Debugf("Waiting for HTTP endpoint to be ready, url: %s", url)

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %v", err))
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("HTTP endpoint not ready: %d %s", resp.StatusCode, resp.Status)
	}

	return p.await(ctx, attempt, fmt.Sprintf("endpoint %s", url))
}

func (p *Probe) await(ctx context.Context, attempt backoff.Operation, target string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.options.InitialBackoff
	policy.RandomizationFactor = 0
	policy.Multiplier = 2.0
	policy.MaxInterval = p.options.MaxBackoff
	policy.MaxElapsedTime = p.options.Timeout

	err := backoff.Retry(attempt, backoff.WithContext(policy, ctx))
	if err == nil {
		p.logger.Debugf("Readiness confirmed, target: %s", target)
		return nil
	}
	if ctx.Err() != nil {
		return errors.NewCancelledError(
			fmt.Sprintf("readiness wait cancelled, target: %s", target), ctx.Err())
	}
	p.logger.Warnf("Readiness wait timed out, target: %s, timeout: %v, last error: %v", target, p.options.Timeout, err)
	return errors.NewReadinessTimeoutError(
		fmt.Sprintf("service did not become ready within %v, target: %s", p.options.Timeout, target), err).
		WithContext("target", target).WithContext("timeout", p.options.Timeout)
}
