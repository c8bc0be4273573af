package ports

import (
	"fmt"
	"net"
	"strconv"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/logging"
)

const maxPortNumber = 65535

// DefaultMaxProbeAttempts bounds the upward scan of a single port resolution
const DefaultMaxProbeAttempts = 1000

// IsPortFree reports whether host:port can be bound right now
func IsPortFree(host string, port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// FirstFreePort scans upward from start and returns the first port that can
// be bound on host
func FirstFreePort(host string, start int) (int, error) {
	for i := 0; i < DefaultMaxProbeAttempts; i++ {
		port := start + i
		if port > maxPortNumber {
			break
		}
		if IsPortFree(host, port) {
			return port, nil
		}
	}
	return 0, errors.NewPortExhaustedError(
		fmt.Sprintf("no free port found on %s within %d candidates of %d", host, DefaultMaxProbeAttempts, start), nil)
}

// AllocatorOptions configures port allocation
type AllocatorOptions struct {
	Host             string `yaml:"host"`
	MaxProbeAttempts int    `yaml:"max_probe_attempts"`
}

// Allocator resolves preferred ports to free ports, never handing out the
// same port twice within one allocation
type Allocator struct {
	host        string
	maxAttempts int
	logger      logging.Logger
}

func NewAllocator(options AllocatorOptions, logger logging.Logger) *Allocator {
	host := options.Host
	if host == "" {
		host = "localhost"
	}
	maxAttempts := options.MaxProbeAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxProbeAttempts
	}
	return &Allocator{
		host:        host,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Allocate resolves each preferred port to the first free port at or above
// it that was not already resolved in this call. The result has the same
// order and length as the preference list.
func (a *Allocator) Allocate(preferred []int) ([]int, error) {
	claimed := make(map[int]bool, len(preferred))
	resolved := make([]int, 0, len(preferred))
	for _, want := range preferred {
		port, err := a.resolve(want, claimed)
		if err != nil {
			return nil, err
		}
		if port != want {
			a.logger.Infof("Port %d is taken, using port %d instead", want, port)
		} else {
			a.logger.Debugf("Port %d is free", port)
		}
		claimed[port] = true
		resolved = append(resolved, port)
	}
	return resolved, nil
}

func (a *Allocator) resolve(want int, claimed map[int]bool) (int, error) {
	candidate := want
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if candidate > maxPortNumber {
			break
		}
		if !claimed[candidate] && IsPortFree(a.host, candidate) {
			return candidate, nil
		}
		candidate++
	}
	return 0, errors.NewPortExhaustedError(
		fmt.Sprintf("no free port found on %s within %d candidates of %d", a.host, a.maxAttempts, want), nil).
		WithContext("host", a.host).WithContext("preferred_port", want)
}
