package engine

import (
	"fmt"
	"net"
	"strings"

	"github.com/antirek/sip-server2/internal/dialog"
	"github.com/antirek/sip-server2/internal/registrar"
	"github.com/antirek/sip-server2/internal/sdprewrite"
	"github.com/antirek/sip-server2/internal/sipmsg"
	"github.com/antirek/sip-server2/internal/validate"
)

// handleInvite implements §4.G's INVITE routing rule.
func (e *Engine) handleInvite(msg *sipmsg.Message, src *net.UDPAddr, srcTransport registrar.Transport) {
	if err := validate.Invite(msg, e.extensions); err != nil {
		e.logger.WithField("error", err.Error()).Warn("INVITE validation failed")
		e.send(src, badRequest(msg))
		return
	}

	fromNumber, err := extractToUser(msg.From, e.extensions)
	if err != nil {
		e.send(src, badRequest(msg))
		return
	}
	toNumber, err := extractToUser(msg.To, e.extensions)
	if err != nil {
		e.send(src, badRequest(msg))
		return
	}

	// The busy-check-then-create sequence below must run atomically with
	// respect to any other INVITE touching either extension, or two
	// concurrent INVITEs to the same callee could both pass IsNumberBusy
	// before either reaches Create/SetTarget (§5, §8).
	unlock := e.callLocks.lock(fromNumber, toNumber)
	defer unlock()

	if !e.registrar.IsRegistered(fromNumber) || !e.registrar.IsRegistered(toNumber) {
		e.send(src, notFound(msg))
		return
	}

	if e.dialogs.IsNumberBusy(toNumber) {
		e.send(src, busyHere(msg))
		return
	}

	callee, ok := e.registrar.Lookup(toNumber)
	if !ok {
		e.send(src, notFound(msg))
		return
	}

	originator := dialog.OriginatorHeaders{
		Via: msg.Via, From: msg.From, To: msg.To, CSeq: msg.CSeq, Contact: msg.Contact,
	}
	if _, err := e.dialogs.Create(msg.CallID, fromNumber, toNumber, srcTransport, originator); err != nil {
		e.logger.WithField("error", err.Error()).Error("failed to create dialog")
		e.send(src, internalError(msg))
		return
	}

	if _, err := e.dialogs.SetTarget(msg.CallID, callee.Transport); err != nil {
		e.logger.WithField("error", err.Error()).Error("failed to set dialog target")
		e.send(src, internalError(msg))
		return
	}

	e.send(src, trying(msg))

	body := msg.Body
	if strings.Contains(msg.ContentType, "application/sdp") && len(body) > 0 {
		if fromPort, ok := sdprewrite.ExtractAudioPort(body); ok {
			_ = e.dialogs.SetRTPPorts(msg.CallID, fromPort, 0)
		}
		if addr, ok := sdprewrite.ExtractConnectionAddr(body); ok {
			_ = e.dialogs.SetMediaAddrs(msg.CallID, addr, "")
		}
		body = sdprewrite.Rewrite(body, sdprewrite.Endpoint{Addr: e.serverRTPEndpoint().Addr, Port: e.serverRTPEndpoint().Port})
	}

	downstream := sipmsg.NewRequest("INVITE", fmt.Sprintf("sip:%s@%s:%d", toNumber, callee.Transport.Addr, callee.Transport.Port))
	downstream.Via = fmt.Sprintf("SIP/2.0/UDP %s;branch=%s", e.serverSIPAddr(), newBranch())
	downstream.From = msg.From
	downstream.To = msg.To
	downstream.CallID = msg.CallID
	downstream.CSeq = msg.CSeq
	downstream.Contact = msg.Contact
	if len(body) > 0 {
		downstream.ContentType = "application/sdp"
		downstream.Body = body
	}

	e.send(transportToUDPAddr(callee.Transport), downstream)
}
