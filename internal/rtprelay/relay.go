// Package rtprelay implements the RTP Relay of §4.E: a single UDP socket
// bound to (RTP_HOST, RTP_PORT) holding a stream table, forwarding
// datagrams between the two legs of a call without inspecting RTP
// headers. Two entries are installed per active call, call_id and
// call_id+"_reverse", forming a symmetric pair (§3); each entry is a
// Stream value covering one direction.
package rtprelay

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/antirek/sip-server2/internal/logging"
)

// rateFilterCoef controls how quickly PacketRate responds to a change in
// sending rate; higher weights recent history more heavily.
const rateFilterCoef = 0.9

// Endpoint is one side of a media association.
type Endpoint struct {
	Addr string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

func (e Endpoint) udpAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(e.Addr)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", e.Addr)
		if err != nil {
			return nil, fmt.Errorf("rtprelay: cannot resolve %q: %w", e.Addr, err)
		}
		ip = resolved.IP
	}
	return &net.UDPAddr{IP: ip, Port: e.Port}, nil
}

// Stream is one direction of a call's media association: packets received
// from From are forwarded to To. The opposite direction is a second Stream
// stored under the call_id+"_reverse" key, with From and To swapped.
type Stream struct {
	CallID string
	From   Endpoint
	To     Endpoint

	// PacketRate is a smoothed packets-per-second estimate of traffic
	// received on this stream's From side, for the admin API's
	// list_rtp_streams (§12).
	PacketRate float64
}

// Relay owns the UDP socket and the stream table.
type Relay struct {
	mu       sync.RWMutex
	streams  map[string]*Stream
	rates    map[string]*recFilter
	lastSeen map[string]time.Time
	conn     *net.UDPConn
	logger   logging.Logger
}

// New builds a Relay bound to host:port.
func New(host string, port int, logger logging.Logger) (*Relay, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtprelay: listen %s:%d: %w", host, port, err)
	}
	return &Relay{
		streams:  make(map[string]*Stream),
		rates:    make(map[string]*recFilter),
		lastSeen: make(map[string]time.Time),
		conn:     conn,
		logger:   logger,
	}, nil
}

// LocalAddr returns the bound address, useful for tests that bind to
// an ephemeral port.
func (r *Relay) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket.
func (r *Relay) Close() error {
	return r.conn.Close()
}

// InstallCall installs the two-entry stream table for a call.
func (r *Relay) InstallCall(callID string, from, to Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[callID] = &Stream{CallID: callID, From: from, To: to}
	r.streams[callID+"_reverse"] = &Stream{CallID: callID + "_reverse", From: to, To: from}
}

// RemoveCall removes both entries for a call.
func (r *Relay) RemoveCall(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, callID)
	delete(r.streams, callID+"_reverse")
	delete(r.rates, callID)
	delete(r.rates, callID+"_reverse")
	delete(r.lastSeen, callID)
	delete(r.lastSeen, callID+"_reverse")
}

// ListStreams returns a snapshot of the stream table, for the admin API's
// list_rtp_streams.
func (r *Relay) ListStreams() []Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, *s)
	}
	return out
}

// matchSource scans the table for an entry whose From side equals src,
// returning it along with its table key so the caller can update
// per-stream rate state.
func (r *Relay) matchSource(src Endpoint) (string, *Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, s := range r.streams {
		if s.From == src {
			return key, s, true
		}
	}
	return "", nil, false
}

// observe feeds one packet's arrival into key's smoothed rate estimate.
func (r *Relay) observe(key string) float64 {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.rates[key]
	if !ok {
		f = newRecFilter(rateFilterCoef, 0)
		r.rates[key] = f
	}
	if last, ok := r.lastSeen[key]; ok {
		if delta := now.Sub(last).Seconds(); delta > 0 {
			f.apply(1.0 / delta)
		}
	}
	r.lastSeen[key] = now
	if s, ok := r.streams[key]; ok {
		s.PacketRate = f.lastval
	}
	return f.lastval
}

// Run reads datagrams until the socket is closed, forwarding each one per
// the matching rule above. It is meant to run in its own goroutine, one
// of the "at least three logical activities" §5 requires.
func (r *Relay) Run() {
	buf := make([]byte, 2048)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed; normal shutdown path
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		r.forward(Endpoint{Addr: src.IP.String(), Port: src.Port}, payload)
	}
}

func (r *Relay) forward(src Endpoint, payload []byte) {
	key, stream, ok := r.matchSource(src)
	if !ok {
		if r.logger != nil {
			r.logger.WithField("source", src.String()).Warn("rtprelay: no matching stream, dropping datagram")
		}
		return
	}
	r.observe(key)
	dst, err := stream.To.udpAddr()
	if err != nil {
		if r.logger != nil {
			r.logger.WithField("dest", stream.To.String()).Warn("rtprelay: cannot resolve destination, dropping datagram")
		}
		return
	}
	if _, err := r.conn.WriteToUDP(payload, dst); err != nil && r.logger != nil {
		r.logger.WithField("dest", dst.String()).Warn("rtprelay: write failed, dropping datagram")
	}
}
