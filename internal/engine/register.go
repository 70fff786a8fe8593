package engine

import (
	"net"
	"strconv"

	"github.com/antirek/sip-server2/internal/extension"
	"github.com/antirek/sip-server2/internal/registrar"
	"github.com/antirek/sip-server2/internal/sipmsg"
	"github.com/antirek/sip-server2/internal/validate"
)

// handleRegister implements §4.G's REGISTER routing rule.
func (e *Engine) handleRegister(msg *sipmsg.Message, src *net.UDPAddr, srcTransport registrar.Transport) {
	if err := validate.Register(msg, e.extensions); err != nil {
		e.logger.WithField("error", err.Error()).Warn("REGISTER validation failed")
		e.send(src, badRequest(msg))
		return
	}

	number, err := extractToUser(msg.To, e.extensions)
	if err != nil {
		e.send(src, badRequest(msg))
		return
	}

	contactURI := validate.ExtractURI(msg.Contact)

	expiresSeconds := int(e.cfg.RegistrationTimeout.Seconds())
	if msg.Expires != "" {
		if v, err := strconv.Atoi(msg.Expires); err == nil {
			expiresSeconds = v
		}
	}

	e.registrar.Register(number, contactURI, srcTransport, expiresSeconds)

	resp := sipmsg.NewResponse(200, "OK")
	resp.Via = msg.Via
	resp.From = msg.From
	resp.To = msg.To
	resp.CallID = msg.CallID
	resp.CSeq = msg.CSeq
	resp.Contact = msg.Contact
	resp.Expires = strconv.Itoa(expiresSeconds)
	e.send(src, resp)
}

func extractToUser(header string, exts extension.Set) (string, error) {
	uri, err := validate.ParseSipURI(header, exts)
	if err != nil {
		return "", err
	}
	return uri.Number, nil
}
