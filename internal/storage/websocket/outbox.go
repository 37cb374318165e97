package websocket

import "sync"

// lane classifies outgoing messages for shedding. Lower lanes matter more.
type lane int

const (
	laneSession lane = iota
	laneFrame
	laneTelemetry
	laneCount
)

func (l lane) String() string {
	switch l {
	case laneSession:
		return "session"
	case laneFrame:
		return "frame"
	case laneTelemetry:
		return "vehicle_state"
	}
	return "unknown"
}

// frameKey identifies one frame record on the server side.
type frameKey struct {
	sensor string
	frame  uint64
}

type message struct {
	lane lane
	key  frameKey // laneFrame only
	data []byte
}

// outbox is the FIFO between the backend and the write loop. Write order is
// arrival order; lanes only decide what is shed when the outbox is full.
type outbox struct {
	mu    sync.Mutex
	queue []message
	limit int
	shed  [laneCount]uint64

	ready chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, ready: make(chan struct{}, 1)}
}

// push appends m. When full, the oldest message of the least important
// lane that is not more important than m goes first; if only more
// important messages are queued, m itself is dropped. Session messages are
// never shed. It returns the lane that lost a message, if any.
func (o *outbox) push(m message) (lane, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var (
		shedLane lane
		shed     bool
	)
	if len(o.queue) >= o.limit {
		shedLane, shed = o.makeRoom(m.lane)
		if !shed && m.lane != laneSession {
			o.shed[m.lane]++
			return m.lane, true
		}
	}
	o.queue = append(o.queue, m)

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return shedLane, shed
}

func (o *outbox) makeRoom(incoming lane) (lane, bool) {
	for l := laneTelemetry; l > laneSession && l >= incoming; l-- {
		for i, q := range o.queue {
			if q.lane == l {
				o.queue = append(o.queue[:i], o.queue[i+1:]...)
				o.shed[l]++
				return l, true
			}
		}
	}
	return incoming, false
}

func (o *outbox) pop() (message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return message{}, false
	}
	m := o.queue[0]
	o.queue[0] = message{}
	o.queue = o.queue[1:]
	return m, true
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *outbox) shedCount(l lane) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shed[l]
}

// inflight remembers frame messages handed to the socket until the server
// acks them, so they can be replayed on a new connection. The window is
// bounded; servers that never ack frames only get the most recent ones
// again.
type inflight struct {
	mu    sync.Mutex
	order []frameKey
	msgs  map[frameKey][]byte
	limit int
}

func newInflight(limit int) *inflight {
	return &inflight{msgs: make(map[frameKey][]byte), limit: limit}
}

func (f *inflight) add(key frameKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.msgs[key]; !ok {
		f.order = append(f.order, key)
	}
	f.msgs[key] = data
	for len(f.order) > f.limit {
		delete(f.msgs, f.order[0])
		f.order = f.order[1:]
	}
}

func (f *inflight) ack(key frameKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.msgs[key]; !ok {
		return
	}
	delete(f.msgs, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// pending returns the unacked messages oldest first.
func (f *inflight) pending() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, 0, len(f.order))
	for _, k := range f.order {
		out = append(out, f.msgs[k])
	}
	return out
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func (f *inflight) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = nil
	f.msgs = make(map[frameKey][]byte)
}
