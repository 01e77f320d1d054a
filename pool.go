// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by a Pool after Close.
var ErrPoolClosed = errors.New("modbus: pool closed")

// Pool keeps connected TCP clients to one server so that independent
// transactions can run in parallel. A Client is half-duplex; a Pool
// is not limited to one transaction at a time.
//
// Serial lines cannot be pooled: every client would open the same
// device.
type Pool struct {
	factory func() (*Client, error)
	opts    *poolOptions

	mu      sync.Mutex
	idle    chan *idleClient
	slots   chan struct{}
	closed  int32
	metrics *PoolMetrics
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type idleClient struct {
	client   *Client
	lastUsed time.Time
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	Gets     Counter
	Puts     Counter
	Hits     Counter
	Misses   Counter
	Timeouts Counter
	Created  Counter
	Closed   Counter
}

// PoolStats is a point in time view of a Pool.
type PoolStats struct {
	Size      int
	Live      int
	Available int
	Gets      int64
	Hits      int64
	Misses    int64
	Timeouts  int64
}

// NewPool creates a pool of clients built by factory. The factory is
// called without holding any lock and must return an unconnected TCP or
// TCP-PI client.
func NewPool(factory func() (*Client, error), opts ...PoolOption) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil client factory", ErrInvalidParameter)
	}

	options := defaultPoolOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.size < 1 {
		options.size = 1
	}

	p := &Pool{
		factory: factory,
		opts:    options,
		idle:    make(chan *idleClient, options.size),
		slots:   make(chan struct{}, options.size),
		metrics: &PoolMetrics{},
		stopCh:  make(chan struct{}),
	}

	if options.healthCheckFreq > 0 {
		p.wg.Add(1)
		go p.healthChecker()
	}
	return p, nil
}

// Get returns a connected client, waiting for one to be released when
// the pool is full. The client must be given back with Put or Discard.
func (p *Pool) Get(ctx context.Context) (*Client, error) {
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, ErrPoolClosed
	}
	p.metrics.Gets.Add(1)

	for {
		select {
		case ic := <-p.idle:
			if p.usable(ic) {
				p.metrics.Hits.Add(1)
				return ic.client, nil
			}
			p.release(ic.client)
			continue
		default:
		}

		select {
		case p.slots <- struct{}{}:
			p.metrics.Misses.Add(1)
			return p.create(ctx)
		case ic := <-p.idle:
			if p.usable(ic) {
				p.metrics.Hits.Add(1)
				return ic.client, nil
			}
			p.release(ic.client)
		case <-ctx.Done():
			p.metrics.Timeouts.Add(1)
			return nil, ctx.Err()
		case <-p.stopCh:
			return nil, ErrPoolClosed
		}
	}
}

func (p *Pool) usable(ic *idleClient) bool {
	if ic.client.State() != StateConnected {
		return false
	}
	return p.opts.maxIdleTime == 0 || time.Since(ic.lastUsed) <= p.opts.maxIdleTime
}

// create builds a client for a slot already taken.
func (p *Pool) create(ctx context.Context) (*Client, error) {
	client, err := p.factory()
	if err != nil {
		<-p.slots
		return nil, err
	}
	if client.Backend() == BackendRTU {
		client.Close()
		<-p.slots
		return nil, fmt.Errorf("%w: serial clients cannot be pooled", ErrInvalidParameter)
	}
	if err := client.Connect(ctx); err != nil {
		client.Close()
		<-p.slots
		return nil, err
	}
	p.metrics.Created.Add(1)
	return client, nil
}

// release closes a client and frees its slot.
func (p *Pool) release(client *Client) {
	client.Close()
	<-p.slots
	p.metrics.Closed.Add(1)
}

// Put gives a client back. Disconnected clients are closed.
func (p *Pool) Put(client *Client) {
	if client == nil {
		return
	}
	p.metrics.Puts.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if atomic.LoadInt32(&p.closed) == 1 || client.State() != StateConnected {
		p.release(client)
		return
	}
	p.idle <- &idleClient{client: client, lastUsed: time.Now()}
}

// Discard closes a client known to be in a bad state.
func (p *Pool) Discard(client *Client) {
	if client != nil {
		p.release(client)
	}
}

// Do runs fn with a pooled client. Clients that fail at the transport
// level are discarded instead of being reused.
func (p *Pool) Do(ctx context.Context, fn func(*Client) error) error {
	client, err := p.Get(ctx)
	if err != nil {
		return err
	}
	err = fn(client)
	if err != nil && Classify(err) == ClassTransport {
		p.Discard(client)
		return err
	}
	p.Put(client)
	return err
}

// Close closes idle clients and stops the health checker. Clients in
// use are closed when they are put back.
func (p *Pool) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	close(p.stopCh)

	p.mu.Lock()
	p.drain(func(*idleClient) bool { return false })
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// drain takes every idle client, keeps those for which keep is true and
// releases the rest.
func (p *Pool) drain(keep func(*idleClient) bool) {
	var kept []*idleClient
	for {
		select {
		case ic := <-p.idle:
			if keep(ic) {
				kept = append(kept, ic)
			} else {
				p.release(ic.client)
			}
			continue
		default:
		}
		break
	}
	for _, ic := range kept {
		p.idle <- ic
	}
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Size:      p.opts.size,
		Live:      len(p.slots),
		Available: len(p.idle),
		Gets:      p.metrics.Gets.Value(),
		Hits:      p.metrics.Hits.Value(),
		Misses:    p.metrics.Misses.Value(),
		Timeouts:  p.metrics.Timeouts.Value(),
	}
}

// Metrics returns the pool metrics.
func (p *Pool) Metrics() *PoolMetrics {
	return p.metrics
}

func (p *Pool) healthChecker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.healthCheckFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if atomic.LoadInt32(&p.closed) == 0 {
				p.drain(p.usable)
			}
			p.mu.Unlock()
		case <-p.stopCh:
			return
		}
	}
}
