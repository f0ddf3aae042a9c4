package binder

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/journeyos/godeye/looper"
	"github.com/journeyos/godeye/parcel"
	"github.com/yaoapp/kun/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteTimeout bounds every frame write. A peer that stops reading for
// longer is treated as dead and its connection is closed.
var WriteTimeout = 5 * time.Second

// frame is one message on the wire. Calls carry a target object id; replies
// carry the sequence number of the call they answer.
type frame struct {
	Seq    uint64 `json:"seq"`
	Target string `json:"target,omitempty"`
	Code   uint32 `json:"code,omitempty"`
	Flags  uint32 `json:"flags,omitempty"`
	Reply  bool   `json:"reply,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Conn is the link to one peer process. Both ends may export objects and
// call the other side's objects. When the socket closes, every death
// recipient linked through the connection runs once.
//
// One-way calls are handled in arrival order on a queue of their own, off
// the read goroutine, so a stub receiving them may make two-way calls on the
// same connection. Two-way calls each get a goroutine.
type Conn struct {
	id       string
	nc       net.Conn
	pid      int
	resolver Resolver

	encMu sync.Mutex
	enc   *jsoniter.Encoder

	mu      sync.Mutex
	objects map[string]Binder
	proxies map[string]*Proxy
	pending map[uint64]chan *frame

	calls *looper.Looper

	seq       atomic.Uint64
	deaths    deathList
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn starts serving nc. resolver may be nil.
func NewConn(nc net.Conn, resolver Resolver) *Conn {
	id := uuid.NewString()
	c := &Conn{
		id:       id,
		nc:       nc,
		pid:      peerPid(nc),
		resolver: resolver,
		enc:      json.NewEncoder(nc),
		objects:  make(map[string]Binder),
		proxies:  make(map[string]*Proxy),
		pending:  make(map[uint64]chan *frame),
		calls:    looper.New("binder-" + id),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial connects to a unix socket served by Serve.
func Dial(ctx context.Context, path string, resolver Resolver) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("binder dial %s: %w", path, err)
	}
	return NewConn(nc, resolver), nil
}

// ID is a random identifier for logs.
func (c *Conn) ID() string {
	return c.id
}

// Pid is the peer's process id from socket credentials, 0 if unknown.
func (c *Conn) Pid() int {
	return c.pid
}

// Alive reports whether the socket is still open.
func (c *Conn) Alive() bool {
	return c.deaths.alive()
}

// Closed is closed once the connection is gone.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Close tears the connection down and fires death recipients.
func (c *Conn) Close() error {
	err := c.nc.Close()
	c.shutdown()
	return err
}

// Export makes b callable by the peer under id.
func (c *Conn) Export(id string, b Binder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[id] = b
}

// Unexport withdraws an exported object.
func (c *Conn) Unexport(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, id)
}

// Proxy returns the proxy for the peer's object id. Repeated calls with the
// same id return the same *Proxy, so proxies compare by identity.
func (c *Conn) Proxy(id string) *Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.proxies[id]; ok {
		return p
	}
	p := &Proxy{conn: c, id: id}
	c.proxies[id] = p
	return p
}

// ReleaseProxy forgets p, so the next Proxy call for its id builds a new
// one. Call it once nothing holds p any more.
func (c *Conn) ReleaseProxy(p *Proxy) {
	if p == nil || p.conn != c {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.proxies[p.id]; ok && cur == p {
		delete(c.proxies, p.id)
	}
}

// Proxies returns the number of cached proxies.
func (c *Conn) Proxies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.proxies)
}

// NewObjectID returns a fresh id for an exported object.
func NewObjectID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// write sends f. A failed or timed out write may leave half a frame on the
// wire, so it closes the connection.
func (c *Conn) write(f *frame) error {
	if err := c.encode(f); err != nil {
		if c.Alive() {
			log.Warn("binder conn %s (pid %d): write failed, closing: %v", c.id, c.pid, err)
		}
		_ = c.nc.Close()
		c.shutdown()
		return fmt.Errorf("%w: %v", ErrDeadObject, err)
	}
	return nil
}

func (c *Conn) encode(f *frame) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	if err := c.nc.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return err
	}
	return c.enc.Encode(f)
}

func (c *Conn) transact(ctx context.Context, target string, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	if !c.Alive() {
		return ErrDeadObject
	}

	f := &frame{
		Seq:    c.seq.Add(1),
		Target: target,
		Code:   code,
		Flags:  flags,
	}
	if data != nil {
		f.Data = data.Bytes()
	}

	if IsOneway(flags) {
		return c.write(f)
	}

	ch := make(chan *frame, 1)
	c.mu.Lock()
	c.pending[f.Seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.Seq)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return fmt.Errorf("%w: %s", ErrTransactionFailed, resp.Error)
		}
		if reply != nil {
			reply.SetBytes(resp.Data)
		}
		return nil
	case <-c.closed:
		return ErrDeadObject
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) readLoop() {
	dec := json.NewDecoder(bufio.NewReader(c.nc))
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			log.Debug("binder conn %s (pid %d): read loop ended: %v", c.id, c.pid, err)
			_ = c.nc.Close()
			c.shutdown()
			return
		}

		if f.Reply {
			c.mu.Lock()
			ch, ok := c.pending[f.Seq]
			c.mu.Unlock()
			if ok {
				ch <- &f
			}
			continue
		}

		if IsOneway(f.Flags) {
			call := &f
			c.calls.Post(func() { c.handle(call) })
			continue
		}
		go c.handle(&f)
	}
}

func (c *Conn) lookup(target string) (Binder, error) {
	c.mu.Lock()
	b, ok := c.objects[target]
	c.mu.Unlock()
	if ok {
		return b, nil
	}
	if c.resolver == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, target)
	}
	return c.resolver(target)
}

func (c *Conn) handle(f *frame) {
	data := parcel.From(f.Data)
	defer data.Recycle()
	reply := parcel.Obtain()
	defer reply.Recycle()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in transaction %d on %s: %v", f.Code, f.Target, r)
			}
		}()
		b, err := c.lookup(f.Target)
		if err != nil {
			return err
		}
		return b.Transact(withCaller(context.Background(), c), f.Code, data, reply, f.Flags)
	}()

	if IsOneway(f.Flags) {
		if err != nil {
			log.Warn("binder conn %s: one-way transaction %d on %s failed: %v", c.id, f.Code, f.Target, err)
		}
		return
	}

	resp := &frame{Seq: f.Seq, Reply: true, Data: reply.Bytes()}
	if err != nil {
		resp.Error = err.Error()
	}
	if werr := c.write(resp); werr != nil {
		log.Debug("binder conn %s: reply to %d dropped: %v", c.id, f.Seq, werr)
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.calls.QuitSafely()
		c.deaths.kill()
	})
}

// Proxy is a peer's object as seen from this process.
type Proxy struct {
	conn *Conn
	id   string
}

// ID is the peer's object id.
func (p *Proxy) ID() string {
	return p.id
}

// Conn is the connection the object lives behind.
func (p *Proxy) Conn() *Conn {
	return p.conn
}

func (p *Proxy) Transact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	return p.conn.transact(ctx, p.id, code, data, reply, flags)
}

func (p *Proxy) LinkToDeath(recipient func()) (Link, error) {
	return p.conn.deaths.link(recipient)
}

func (p *Proxy) IsBinderAlive() bool {
	return p.conn.Alive()
}

func (p *Proxy) String() string {
	return fmt.Sprintf("binder.Proxy{pid:%d id:%s}", p.conn.pid, p.id)
}

type callerKey struct{}

func withCaller(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the connection an incoming transaction arrived on, or
// nil for in-process calls.
func CallerFrom(ctx context.Context) *Conn {
	c, _ := ctx.Value(callerKey{}).(*Conn)
	return c
}

// CallingPid returns the pid of the process that sent the transaction being
// handled under ctx. In-process calls report this process.
func CallingPid(ctx context.Context) int {
	if c := CallerFrom(ctx); c != nil {
		return c.Pid()
	}
	return os.Getpid()
}
