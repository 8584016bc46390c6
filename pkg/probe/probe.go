package probe

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/logging"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	// SentinelKey is written and read back by every probe
	SentinelKey   = "hsu-memcached:health"
	SentinelValue = "ok"

	DefaultTimeout = memcache.DefaultTimeout
)

// Prober checks that a memcached instance actually serves requests
type Prober interface {
	// Probe reports whether a SET followed by a GET round-trips. Failures
	// are a normal outcome, not an error.
	Probe(ctx context.Context, host string, port int) bool
}

type memcacheProber struct {
	timeout time.Duration
	logger  logging.Logger
}

// NewMemcacheProber returns a Prober speaking the memcached text protocol.
// Each probe uses a fresh client, so no connection or dead-host state is
// carried between probes.
func NewMemcacheProber(timeout time.Duration, logger logging.Logger) Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &memcacheProber{
		timeout: timeout,
		logger:  logger,
	}
}

func (p *memcacheProber) Probe(ctx context.Context, host string, port int) bool {
	if err := ctx.Err(); err != nil {
		p.logger.Debugf("Probe skipped, context done: %v", err)
		return false
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return false
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	client := memcache.New(address)
	client.Timeout = timeout
	client.MaxIdleConns = 1
	defer client.Close()

	if err := client.Set(&memcache.Item{Key: SentinelKey, Value: []byte(SentinelValue)}); err != nil {
		p.logger.Debugf("Probe SET failed, address: %s, error: %v", address, err)
		return false
	}

	item, err := client.Get(SentinelKey)
	if err != nil {
		p.logger.Debugf("Probe GET failed, address: %s, error: %v", address, err)
		return false
	}
	if !bytes.Equal(item.Value, []byte(SentinelValue)) {
		p.logger.Debugf("Probe read back unexpected value, address: %s, value: %q", address, item.Value)
		return false
	}

	p.logger.Debugf("Probe succeeded, address: %s", address)
	return true
}
