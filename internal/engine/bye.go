package engine

import (
	"fmt"
	"net"

	"github.com/antirek/sip-server2/internal/registrar"
	"github.com/antirek/sip-server2/internal/sipmsg"
	"github.com/antirek/sip-server2/internal/validate"
)

// handleBye implements §4.G's BYE routing rule.
func (e *Engine) handleBye(msg *sipmsg.Message, src *net.UDPAddr, srcTransport registrar.Transport) {
	if err := validate.Bye(msg, e.extensions); err != nil {
		e.logger.WithField("error", err.Error()).Warn("BYE validation failed")
		e.send(src, badRequest(msg))
		return
	}

	d, ok := e.dialogs.Get(msg.CallID)
	if !ok {
		e.logger.WithField("call_id", msg.CallID).Warn("BYE for unknown dialog, dropping")
		return
	}

	byeFromFromLeg := srcTransport == d.FromTransport
	opposite, opNumber := d.ToTransport, d.ToNumber
	if !byeFromFromLeg {
		opposite, opNumber = d.FromTransport, d.FromNumber
	}

	if _, err := e.dialogs.MarkTerminating(msg.CallID, byeFromFromLeg); err != nil {
		e.logger.WithField("error", err.Error()).Warn("failed to mark dialog terminating")
	}
	e.relay.RemoveCall(msg.CallID)

	downstream := sipmsg.NewRequest("BYE", fmt.Sprintf("sip:%s@%s:%d", opNumber, opposite.Addr, opposite.Port))
	downstream.Via = fmt.Sprintf("SIP/2.0/UDP %s;branch=%s", e.serverSIPAddr(), branchFor(msg.Via))
	downstream.From = msg.From
	downstream.To = msg.To
	downstream.CallID = msg.CallID
	downstream.CSeq = msg.CSeq
	e.send(transportToUDPAddr(opposite), downstream)

	e.send(src, echoResponse(200, "OK", msg))
}
