package engine

import (
	"fmt"
	"net"
	"strings"

	"github.com/antirek/sip-server2/internal/dialog"
	"github.com/antirek/sip-server2/internal/registrar"
	"github.com/antirek/sip-server2/internal/rtprelay"
	"github.com/antirek/sip-server2/internal/sdprewrite"
	"github.com/antirek/sip-server2/internal/sipmsg"
)

// failureCodes are the 4xx/5xx/6xx statuses the engine relays upstream
// verbatim, per §4.G.
var failureCodes = map[int]bool{404: true, 486: true, 487: true}

// handleResponse implements §4.G's response routing rules.
func (e *Engine) handleResponse(msg *sipmsg.Message, src *net.UDPAddr, srcTransport registrar.Transport) {
	d, ok := e.dialogs.Get(msg.CallID)
	if !ok {
		e.logger.WithField("call_id", msg.CallID).Warn("response for unknown dialog, dropping")
		return
	}

	if msg.StatusCode == 200 && d.State == dialog.Terminating {
		if _, err := e.dialogs.End(msg.CallID, "BYE"); err != nil {
			e.logger.WithField("error", err.Error()).Warn("failed to finalize terminating dialog")
		}
		return
	}

	if msg.StatusCode == 200 {
		e.handleInviteSuccess(msg, d)
		return
	}

	if failureCodes[msg.StatusCode] {
		e.handleInviteFailure(msg, d)
		return
	}
	// 1xx progress and any other status are not relayed per §4.G/§6.
}

func (e *Engine) handleInviteSuccess(msg *sipmsg.Message, d *dialog.Dialog) {
	body := msg.Body
	if strings.Contains(msg.ContentType, "application/sdp") && len(body) > 0 {
		if toPort, ok := sdprewrite.ExtractAudioPort(body); ok {
			_ = e.dialogs.SetRTPPorts(d.CallID, 0, toPort)
		}
		if addr, ok := sdprewrite.ExtractConnectionAddr(body); ok {
			_ = e.dialogs.SetMediaAddrs(d.CallID, "", addr)
		}
		body = sdprewrite.Rewrite(body, sdprewrite.Endpoint{Addr: e.serverRTPEndpoint().Addr, Port: e.serverRTPEndpoint().Port})
	}

	upstream := sipmsg.NewResponse(200, "OK")
	upstream.Via = d.Originator.Via
	upstream.From = d.Originator.From
	upstream.To = d.Originator.To
	upstream.CallID = d.CallID
	upstream.CSeq = d.Originator.CSeq
	upstream.Contact = fmt.Sprintf("<sip:%s@%s:%d>", d.ToNumber, e.cfg.ServerAddress, e.cfg.SIPPort)
	if strings.Contains(msg.ContentType, "application/sdp") {
		upstream.ContentType = msg.ContentType
		upstream.Body = body
	}

	fromPort, toPort := d.FromRTPPort, 0
	if latest, ok := e.dialogs.Get(d.CallID); ok {
		fromPort, toPort = latest.FromRTPPort, latest.ToRTPPort
		d = latest
	}
	if fromPort > 0 && toPort > 0 {
		fromAddr := d.MediaFromAddr
		if fromAddr == "" {
			fromAddr = d.FromTransport.Addr
		}
		toAddr := d.MediaToAddr
		if toAddr == "" {
			toAddr = d.ToTransport.Addr
		}
		e.relay.InstallCall(d.CallID,
			rtprelay.Endpoint{Addr: fromAddr, Port: fromPort},
			rtprelay.Endpoint{Addr: toAddr, Port: toPort},
		)
	}

	if _, err := e.dialogs.Answer(d.CallID); err != nil {
		e.logger.WithField("error", err.Error()).Warn("failed to answer dialog")
	}

	e.send(transportToUDPAddr(d.FromTransport), upstream)
}

func (e *Engine) handleInviteFailure(msg *sipmsg.Message, d *dialog.Dialog) {
	upstream := sipmsg.NewResponse(msg.StatusCode, msg.Reason)
	upstream.Via = d.Originator.Via
	upstream.From = d.Originator.From
	upstream.To = d.Originator.To
	upstream.CallID = d.CallID
	upstream.CSeq = d.Originator.CSeq

	e.send(transportToUDPAddr(d.FromTransport), upstream)

	if _, err := e.dialogs.End(d.CallID, fmt.Sprintf("SIP_%d", msg.StatusCode)); err != nil {
		e.logger.WithField("error", err.Error()).Warn("failed to end failed dialog")
	}
}
