package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
)

// Endpoint is one RPC backend of a MultiCaller.
type Endpoint struct {
	URL    string
	Caller ContractCaller
}

// MultiCaller sends each call to the preferred endpoint and falls through to
// the others when it fails. The preferred endpoint only moves on after
// failThreshold consecutive failures.
type MultiCaller struct {
	endpoints     []Endpoint
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiCaller(endpoints []Endpoint, failThreshold int) (*MultiCaller, error) {
	list := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Caller != nil {
			list = append(list, ep)
		}
	}
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &MultiCaller{endpoints: list, failThreshold: failThreshold}, nil
}

// DialMulti dials every endpoint up front. Endpoints that fail to dial are
// skipped as long as at least one succeeds.
func DialMulti(ctx context.Context, urls []string, failThreshold int) (*MultiCaller, error) {
	var (
		endpoints []Endpoint
		lastErr   error
	)
	for _, u := range sanitizeEndpoints(urls) {
		client, err := Dial(ctx, u)
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", u, err)
			continue
		}
		endpoints = append(endpoints, Endpoint{URL: u, Caller: client})
	}
	if len(endpoints) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return NewMultiCaller(endpoints, failThreshold)
}

// BaseURL is the currently preferred endpoint.
func (m *MultiCaller) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints[m.index].URL
}

func (m *MultiCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	start := m.current()
	var lastErr error
	for attempt := 0; attempt < len(m.endpoints); attempt++ {
		idx := (start + attempt) % len(m.endpoints)
		ep := m.endpoints[idx]
		out, err := ep.Caller.CallContract(ctx, msg, blockNumber)
		if err == nil {
			m.resetFailures(idx)
			return out, nil
		}
		lastErr = fmt.Errorf("%s: %w", ep.URL, err)
		m.noteFailure(idx)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// Close releases the underlying clients.
func (m *MultiCaller) Close() {
	for _, ep := range m.endpoints {
		if c, ok := ep.Caller.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

func (m *MultiCaller) current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

func (m *MultiCaller) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiCaller) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != idx {
		return
	}
	m.failCount++
	if m.failCount >= m.failThreshold {
		m.index = (m.index + 1) % len(m.endpoints)
		m.failCount = 0
	}
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" {
			continue
		}
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
