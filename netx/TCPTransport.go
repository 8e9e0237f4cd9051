package netx

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/metrics"
	"github.com/SharefulNetworks/shareful-gsls/unpanicked"
)

// MaxFrameSize bounds a single frame; larger frames close the connection.
const MaxFrameSize = 4 << 20

// TCPOptions - Tunables for a TCPTransport. Zero values select defaults.
type TCPOptions struct {
	WorkerCount       int
	QueueSize         int
	DialTimeout       time.Duration
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	Logger            *slog.Logger
}

// TCPTransport - A TCP specific, Transport implementation.
// Frames are a 4 byte big-endian length followed by the payload. Outbound frames are
// queued and written by a pool of workers over pooled connections, one per remote
// listen address; inbound frames arrive on connections accepted by Listen.
type TCPTransport struct {
	opts      TCPOptions
	log       *slog.Logger
	ln        net.Listener
	conns     sync.Map // remote address -> *pooledConn
	inbound   sync.Map // net.Conn -> struct{}
	closed    chan struct{}
	closeOnce sync.Once
	outQueue  chan *Outbound
	wg        sync.WaitGroup
}

// Outbound - encapsulates outbound message data.
type Outbound struct {
	to   string
	data []byte
}

type pooledConn struct {
	mu       sync.Mutex
	conn     net.Conn
	w        *bufio.Writer
	lastUsed time.Time
}

func NewTCP(opts TCPOptions) *TCPTransport {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 3 * time.Minute
	}
	if opts.IdleCheckInterval <= 0 {
		opts.IdleCheckInterval = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &TCPTransport{
		opts:     opts,
		log:      logger.With("component", "transport"),
		closed:   make(chan struct{}),
		outQueue: make(chan *Outbound, opts.QueueSize),
	}

	t.startOutboundProcessing()
	t.wg.Add(1)
	go t.pruneIdleConnections()
	return t
}

func (t *TCPTransport) Listen(addr string, handler MessageHandler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	t.ln = ln
	t.log.Info("listening", "addr", ln.Addr().String())

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				select {
				case <-t.closed:
					return
				default:
				}
				t.log.Debug("accept failed", "err", err)
				continue
			}
			t.inbound.Store(c, struct{}{})
			go t.serveConn(c, handler)
		}
	}()
	return nil
}

func (t *TCPTransport) serveConn(conn net.Conn, handler MessageHandler) {
	defer func() {
		t.inbound.Delete(conn)
		_ = conn.Close()
	}()

	from := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)
	lenb := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, lenb); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenb)
		if n > MaxFrameSize {
			t.log.Warn("dropping connection", "addr", from, "err", ErrFrameSize, "size", n)
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		metrics.TransportFrames.WithLabelValues("in").Inc()
		unpanicked.Run(t.log, "handle frame", func() { handler(from, buf) })
	}
}

// Addr - Returns the bound listen address, or "" before Listen.
func (t *TCPTransport) Addr() string {
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

// Send - Queues the provided (message) data for async dispatch to the provided
// address and returns immediately.
func (t *TCPTransport) Send(to string, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameSize
	}
	return t.sendAsync(to, data)
}

func (t *TCPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.ln != nil {
			_ = t.ln.Close()
		}
		t.conns.Range(func(k, v any) bool {
			t.conns.Delete(k)
			_ = v.(*pooledConn).conn.Close()
			return true
		})
		t.inbound.Range(func(k, _ any) bool {
			_ = k.(net.Conn).Close()
			return true
		})
	})
	t.wg.Wait()
	return nil
}

// CloseConnection - Closes and forgets the pooled connection to addr.
func (t *TCPTransport) CloseConnection(addr string) error {
	v, ok := t.conns.LoadAndDelete(addr)
	if !ok {
		return nil
	}
	return v.(*pooledConn).conn.Close()
}

//private helpers/utility funcions.

func (t *TCPTransport) connFor(address string) (*pooledConn, error) {
	if v, ok := t.conns.Load(address); ok {
		return v.(*pooledConn), nil
	}
	c, err := net.DialTimeout("tcp", address, t.opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	pc := &pooledConn{conn: c, w: bufio.NewWriter(c), lastUsed: time.Now()}
	if existing, loaded := t.conns.LoadOrStore(address, pc); loaded {
		_ = c.Close()
		return existing.(*pooledConn), nil
	}
	return pc, nil
}

func (pc *pooledConn) write(data []byte) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	var lenb [4]byte
	binary.BigEndian.PutUint32(lenb[:], uint32(len(data)))
	if _, err := pc.w.Write(lenb[:]); err != nil {
		return err
	}
	if _, err := pc.w.Write(data); err != nil {
		return err
	}
	if err := pc.w.Flush(); err != nil {
		return err
	}
	pc.lastUsed = time.Now()
	return nil
}

// sendSync sends provided data to the specified address, synchronously. A pooled
// connection that fails is dropped and the write is retried once on a fresh one.
func (t *TCPTransport) sendSync(address string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		pc, err := t.connFor(address)
		if err != nil {
			return err
		}
		if lastErr = pc.write(data); lastErr == nil {
			metrics.TransportFrames.WithLabelValues("out").Inc()
			return nil
		}
		t.conns.CompareAndDelete(address, pc)
		_ = pc.conn.Close()
	}
	return fmt.Errorf("write to %s: %w", address, lastErr)
}

// sendAsync sends provided data to the specified address, asynchronously.
func (t *TCPTransport) sendAsync(to string, data []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	select {
	case t.outQueue <- &Outbound{to, data}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (t *TCPTransport) startOutboundProcessing() {
	for i := 0; i < t.opts.WorkerCount; i++ {
		t.wg.Add(1)
		go t.outQueueDispatcher()
	}
}

func (t *TCPTransport) outQueueDispatcher() {
	defer t.wg.Done()
	for {
		select {
		case <-t.closed:
			return

		case job := <-t.outQueue:
			if err := t.sendSync(job.to, job.data); err != nil {
				t.log.Debug("send failed", "addr", job.to, "err", err)
			}
		}
	}
}

func (t *TCPTransport) pruneIdleConnections() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.opts.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			unpanicked.Run(t.log, "prune idle connections", t.pruneIdleOnce)
		}
	}
}

func (t *TCPTransport) pruneIdleOnce() {
	cutoff := time.Now().Add(-t.opts.IdleTimeout)
	t.conns.Range(func(k, v any) bool {
		pc := v.(*pooledConn)
		pc.mu.Lock()
		idle := pc.lastUsed.Before(cutoff)
		pc.mu.Unlock()
		if idle && t.conns.CompareAndDelete(k, pc) {
			_ = pc.conn.Close()
			t.log.Debug("closed idle connection", "addr", k)
		}
		return true
	})
}

// pooledCount reports the number of pooled outbound connections.
func (t *TCPTransport) pooledCount() int {
	n := 0
	t.conns.Range(func(_, _ any) bool { n++; return true })
	return n
}
