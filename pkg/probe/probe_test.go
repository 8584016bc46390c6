package probe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverMode int

const (
	modeHealthy serverMode = iota
	modeRejectSet
	modeCorruptValue
	modeHang
)

// fakeMemcached speaks just enough of the text protocol for set and gets
type fakeMemcached struct {
	listener net.Listener
	mode     serverMode

	mu    sync.Mutex
	items map[string][]byte
	conns int
}

func startFakeMemcached(t *testing.T, mode serverMode) *fakeMemcached {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &fakeMemcached{listener: listener, mode: mode, items: make(map[string][]byte)}
	go server.serve()
	t.Cleanup(func() { listener.Close() })
	return server
}

func (s *fakeMemcached) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeMemcached) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *fakeMemcached) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *fakeMemcached) handle(conn net.Conn) {
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if s.mode == modeHang {
			time.Sleep(2 * time.Second)
			return
		}

		switch fields[0] {
		case "set":
			size, _ := strconv.Atoi(fields[4])
			value := make([]byte, size+2)
			if _, err := io.ReadFull(rw, value); err != nil {
				return
			}
			if s.mode == modeRejectSet {
				rw.WriteString("SERVER_ERROR out of memory storing object\r\n")
			} else {
				s.mu.Lock()
				s.items[fields[1]] = value[:size]
				s.mu.Unlock()
				rw.WriteString("STORED\r\n")
			}
		case "gets", "get":
			for _, key := range fields[1:] {
				s.mu.Lock()
				value, ok := s.items[key]
				s.mu.Unlock()
				if !ok {
					continue
				}
				if s.mode == modeCorruptValue {
					value = []byte("ko")
				}
				fmt.Fprintf(rw, "VALUE %s 0 %d 1\r\n%s\r\n", key, len(value), value)
			}
			rw.WriteString("END\r\n")
		default:
			rw.WriteString("ERROR\r\n")
		}
		if err := rw.Flush(); err != nil {
			return
		}
	}
}

func TestProbe_Healthy(t *testing.T) {
	server := startFakeMemcached(t, modeHealthy)
	prober := NewMemcacheProber(time.Second, logging.NewNopLogger())

	assert.True(t, prober.Probe(context.Background(), "127.0.0.1", server.port()))

	server.mu.Lock()
	assert.Equal(t, []byte(SentinelValue), server.items[SentinelKey])
	server.mu.Unlock()
}

func TestProbe_FreshClientPerProbe(t *testing.T) {
	server := startFakeMemcached(t, modeHealthy)
	prober := NewMemcacheProber(time.Second, logging.NewNopLogger())

	require.True(t, prober.Probe(context.Background(), "127.0.0.1", server.port()))
	require.True(t, prober.Probe(context.Background(), "127.0.0.1", server.port()))

	assert.Equal(t, 2, server.connections())
}

func TestProbe_Failures(t *testing.T) {
	tests := []struct {
		name string
		mode serverMode
	}{
		{"set rejected", modeRejectSet},
		{"value mismatch", modeCorruptValue},
		{"server hangs", modeHang},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startFakeMemcached(t, tt.mode)
			prober := NewMemcacheProber(200*time.Millisecond, logging.NewNopLogger())

			start := time.Now()
			assert.False(t, prober.Probe(context.Background(), "127.0.0.1", server.port()))
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestProbe_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	prober := NewMemcacheProber(200*time.Millisecond, logging.NewNopLogger())
	assert.False(t, prober.Probe(context.Background(), "127.0.0.1", port))
}

func TestProbe_ContextDone(t *testing.T) {
	server := startFakeMemcached(t, modeHealthy)
	prober := NewMemcacheProber(time.Second, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, prober.Probe(ctx, "127.0.0.1", server.port()))
	assert.Equal(t, 0, server.connections())
}

func TestNewMemcacheProber_DefaultTimeout(t *testing.T) {
	prober := NewMemcacheProber(0, logging.NewNopLogger()).(*memcacheProber)
	assert.Equal(t, DefaultTimeout, prober.timeout)
}
