// Package engine implements the SIP Engine (§4.G): it dispatches inbound
// datagrams on first token, applies the routing rules of §4.G, and drives
// the Registrar, Dialog Manager, RTP Relay, and SDP Rewriter. It is the
// dependency bundle the teacher's design note asks for in place of
// package-level singletons: one Engine value holds everything a handler
// needs.
package engine

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/antirek/sip-server2/internal/config"
	"github.com/antirek/sip-server2/internal/dialog"
	"github.com/antirek/sip-server2/internal/extension"
	"github.com/antirek/sip-server2/internal/logging"
	"github.com/antirek/sip-server2/internal/registrar"
	"github.com/antirek/sip-server2/internal/rtprelay"
	"github.com/antirek/sip-server2/internal/sipmsg"
)

// Sender abstracts the outbound SIP socket so the engine can be tested
// without binding a real UDP port.
type Sender interface {
	SendTo(addr *net.UDPAddr, data []byte) error
}

// udpSender is the production Sender, backed by a bound *net.UDPConn.
type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) SendTo(addr *net.UDPAddr, data []byte) error {
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// Engine is the dependency bundle passed to every handler.
type Engine struct {
	cfg        *config.Config
	logger     logging.Logger
	extensions extension.Set

	registrar *registrar.Registrar
	dialogs   *dialog.Manager
	relay     *rtprelay.Relay

	// callLocks serializes the busy-check-then-create sequence per
	// extension (§5: "per-Call-ID operations are logically serialized to
	// avoid interleaving partial dialog updates" — here keyed on the
	// extensions a dialog involves, since that's what the busy check
	// itself is keyed on).
	callLocks *extensionLocks

	sender Sender
}

// New wires up an Engine from its collaborators.
func New(cfg *config.Config, logger logging.Logger, reg *registrar.Registrar, dialogs *dialog.Manager, relay *rtprelay.Relay, sender Sender) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		extensions: extension.New(cfg.ExtMin, cfg.ExtMax),
		registrar:  reg,
		dialogs:    dialogs,
		relay:      relay,
		callLocks:  newExtensionLocks(cfg.ExtMin, cfg.ExtMax),
		sender:     sender,
	}
}

// NewUDPSender wraps a bound UDP connection as a Sender.
func NewUDPSender(conn *net.UDPConn) Sender {
	return &udpSender{conn: conn}
}

// serverSIPAddr is the host:port the engine puts in the Via headers it
// emits.
func (e *Engine) serverSIPAddr() string {
	return fmt.Sprintf("%s:%d", e.cfg.ServerAddress, e.cfg.SIPPort)
}

func (e *Engine) serverRTPEndpoint() rtpEndpoint {
	return rtpEndpoint{Addr: e.cfg.ServerAddress, Port: e.cfg.RTPPort}
}

type rtpEndpoint struct {
	Addr string
	Port int
}

// newBranch generates a "z9hG4bK-" Via branch using a UUID, replacing the
// teacher main.go's crypto/rand-seeded math/rand generator with a
// maintained one (§11 domain stack).
func newBranch() string {
	return "z9hG4bK-" + uuid.NewString()
}

// HandleDatagram is the SIP datagram handler loop's entry point: parse,
// recover from panics at this boundary (§7's Internal error kind), and
// dispatch on method or status line.
func (e *Engine) HandleDatagram(src *net.UDPAddr, data []byte) {
	var msg *sipmsg.Message
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorAndTraceback(fmt.Errorf("panic handling datagram from %s: %v", src, r))
			if msg != nil && !msg.IsResponse && canReply(msg) {
				e.send(src, internalError(msg))
			}
		}
	}()

	var err error
	msg, err = sipmsg.Parse(data)
	if err != nil {
		e.logger.WithField("source", src.String()).Warn("dropping malformed datagram: " + err.Error())
		return
	}

	srcTransport := registrar.Transport{Addr: src.IP.String(), Port: src.Port}

	if msg.IsResponse {
		e.handleResponse(msg, src, srcTransport)
		return
	}

	switch msg.Method {
	case "REGISTER":
		e.handleRegister(msg, src, srcTransport)
	case "INVITE":
		e.handleInvite(msg, src, srcTransport)
	case "ACK":
		e.handleACK(msg, src, srcTransport)
	case "BYE":
		e.handleBye(msg, src, srcTransport)
	default:
		e.logger.WithField("method", msg.Method).Warn("dropping unsupported method")
	}
}

func (e *Engine) send(addr *net.UDPAddr, msg *sipmsg.Message) {
	if err := e.sender.SendTo(addr, msg.Serialize()); err != nil {
		e.logger.WithField("dest", addr.String()).Warn("send failed: " + err.Error())
	}
}

func transportToUDPAddr(t registrar.Transport) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(t.Addr), Port: t.Port}
}

// Cleanup drives both the registrar and dialog cleanup ticks, and tears
// down RTP streams for any dialog that timed out. It is meant to be
// called periodically by the shared CLEANUP_INTERVAL ticker (§5).
func (e *Engine) Cleanup() {
	e.registrar.Cleanup()
	for _, callID := range e.dialogs.Cleanup() {
		e.relay.RemoveCall(callID)
	}
}

// RunCleanupTicker blocks, firing Cleanup every interval, until ctx-like
// stop channel is closed. It is the third of the "at least three logical
// activities" §5 requires.
func (e *Engine) RunCleanupTicker(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Cleanup()
		case <-stop:
			return
		}
	}
}
