package engine

import (
	"fmt"
	"net"
	"strings"

	"github.com/antirek/sip-server2/internal/registrar"
	"github.com/antirek/sip-server2/internal/sipmsg"
)

// handleACK implements §4.G's mid-dialog ACK routing rule. ACK is
// forwarded even if the dialog is already TERMINATING.
func (e *Engine) handleACK(msg *sipmsg.Message, src *net.UDPAddr, srcTransport registrar.Transport) {
	d, ok := e.dialogs.Get(msg.CallID)
	if !ok {
		e.logger.WithField("call_id", msg.CallID).Warn("ACK for unknown dialog, dropping")
		return
	}

	downstream := sipmsg.NewRequest("ACK", fmt.Sprintf("sip:%s@%s:%d", d.ToNumber, d.ToTransport.Addr, d.ToTransport.Port))
	downstream.Via = fmt.Sprintf("SIP/2.0/UDP %s;branch=%s", e.serverSIPAddr(), branchFor(msg.Via))
	downstream.From = msg.From
	downstream.To = msg.To
	downstream.CallID = msg.CallID
	downstream.CSeq = msg.CSeq
	downstream.Contact = msg.Contact
	downstream.ContentType = msg.ContentType
	downstream.Body = msg.Body

	e.send(transportToUDPAddr(d.ToTransport), downstream)
}

// branchFor copies the branch parameter from a received Via when present,
// else generates a fresh "z9hG4bK-" branch (§4.G).
func branchFor(via string) string {
	for _, param := range strings.Split(via, ";") {
		param = strings.TrimSpace(param)
		if strings.HasPrefix(param, "branch=") {
			return strings.TrimPrefix(param, "branch=")
		}
	}
	return newBranch()
}
