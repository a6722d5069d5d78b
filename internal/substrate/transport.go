package substrate

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// peer wraps one WebSocket connection to a single remote rank, running the
// same read/write-pump split the gateway's realtime hub uses.
type peer struct {
	rank int
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func newPeer(rank int, conn *websocket.Conn) *peer {
	p := &peer{rank: rank, conn: conn, send: make(chan []byte, 256), done: make(chan struct{})}
	return p
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) readPump(inbox chan<- Envelope, onErr func(rank int, err error)) {
	p.conn.SetReadLimit(16 << 20)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			onErr(p.rank, err)
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			onErr(p.rank, err)
			return
		}
		inbox <- env
	}
}

// WSComm is a Comm implementation where rank 0 (the controller) runs an HTTP
// listener that every other rank dials into as a WebSocket client. Each
// connection is a dedicated full-duplex peer; point-to-point Send/Recv are
// multiplexed over these connections the same way the gateway's Hub
// multiplexes browser clients, repurposed here for process-to-process
// traffic instead of browser push.
type WSComm struct {
	rank int
	size int

	mu    sync.RWMutex
	peers map[int]*peer // valid ranks other than self

	inbox  chan Envelope
	queued []Envelope

	closed   chan struct{}
	closeErr error
	srv      *http.Server
}

// NewControllerComm starts an HTTP listener at addr and returns a WSComm
// bound to rank 0, accepting connections from size-1 other ranks. It does
// not block; the returned channel is closed once all peers have connected.
func NewControllerComm(addr string, size int) (*WSComm, <-chan struct{}, error) {
	c := &WSComm{
		rank:   0,
		size:   size,
		peers:  make(map[int]*peer),
		inbox:  make(chan Envelope, 256),
		closed: make(chan struct{}),
	}
	ready := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/distwq/comm", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rankStr := r.URL.Query().Get("rank")
		var rank int
		if _, err := fmt.Sscanf(rankStr, "%d", &rank); err != nil || rank <= 0 || rank >= size {
			conn.Close()
			return
		}
		p := newPeer(rank, conn)
		c.mu.Lock()
		c.peers[rank] = p
		allConnected := len(c.peers) == size-1
		c.mu.Unlock()

		go p.writePump()
		go p.readPump(c.inbox, func(rank int, err error) { c.dropPeer(rank) })

		if allConnected {
			select {
			case <-ready:
			default:
				close(ready)
			}
		}
	})

	c.srv = &http.Server{Addr: addr, Handler: mux}
	ln, err := listen(addr)
	if err != nil {
		return nil, nil, err
	}
	go c.srv.Serve(ln)
	return c, ready, nil
}

// NewWorkerComm dials the controller at addr as the given rank.
func NewWorkerComm(addr string, rank, size int) (*WSComm, error) {
	url := fmt.Sprintf("ws://%s/distwq/comm?rank=%d", addr, rank)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("substrate: dial controller: %w", err)
	}
	c := &WSComm{
		rank:   rank,
		size:   size,
		peers:  make(map[int]*peer),
		inbox:  make(chan Envelope, 256),
		closed: make(chan struct{}),
	}
	p := newPeer(0, conn)
	c.peers[0] = p
	go p.writePump()
	go p.readPump(c.inbox, func(rank int, err error) { c.dropPeer(rank) })
	return c, nil
}

func (c *WSComm) dropPeer(rank int) {
	c.mu.Lock()
	if p, ok := c.peers[rank]; ok {
		p.close()
		delete(c.peers, rank)
	}
	c.mu.Unlock()
}

func (c *WSComm) Rank() int { return c.rank }
func (c *WSComm) Size() int { return c.size }

func (c *WSComm) Send(dest int, tag MessageTag, v interface{}) error {
	c.mu.RLock()
	p, ok := c.peers[dest]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("substrate: no connection to rank %d: %w", dest, ErrClosed)
	}
	data, err := EncodeEnvelope(tag, c.rank, v)
	if err != nil {
		return err
	}
	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (c *WSComm) Recv(ctx context.Context) (Envelope, error) {
	c.mu.Lock()
	if len(c.queued) > 0 {
		env := c.queued[0]
		c.queued = c.queued[1:]
		c.mu.Unlock()
		return env, nil
	}
	c.mu.Unlock()

	select {
	case env := <-c.inbox:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-c.closed:
		return Envelope{}, ErrClosed
	}
}

func (c *WSComm) IProbe() (Envelope, error) {
	c.mu.Lock()
	if len(c.queued) > 0 {
		env := c.queued[0]
		c.queued = c.queued[1:]
		c.mu.Unlock()
		return env, nil
	}
	c.mu.Unlock()

	select {
	case env := <-c.inbox:
		return env, nil
	default:
		return Envelope{}, ErrNoMessage
	}
}

func (c *WSComm) Abort(reason error) {
	c.closeErr = reason
	c.Close()
}

func (c *WSComm) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	c.mu.Lock()
	for _, p := range c.peers {
		p.close()
	}
	c.mu.Unlock()
	if c.srv != nil {
		c.srv.Close()
	}
	return nil
}
