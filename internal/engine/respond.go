package engine

import (
	"github.com/antirek/sip-server2/internal/sipmsg"
)

// echoResponse builds a response that echoes the originator's top Via
// and the request's From/To/Call-ID/CSeq, per §6's "all responses echo
// the caller's top Via and the request's From/To/Call-ID/CSeq."
func echoResponse(code int, reason string, req *sipmsg.Message) *sipmsg.Message {
	resp := sipmsg.NewResponse(code, reason)
	resp.Via = req.Via
	resp.From = req.From
	resp.To = req.To
	resp.CallID = req.CallID
	resp.CSeq = req.CSeq
	return resp
}

func badRequest(req *sipmsg.Message) *sipmsg.Message {
	return echoResponse(400, "Bad Request", req)
}

func notFound(req *sipmsg.Message) *sipmsg.Message {
	return echoResponse(404, "Not Found", req)
}

func busyHere(req *sipmsg.Message) *sipmsg.Message {
	return echoResponse(486, "Busy Here", req)
}

func internalError(req *sipmsg.Message) *sipmsg.Message {
	return echoResponse(500, "Internal Server Error", req)
}

func trying(req *sipmsg.Message) *sipmsg.Message {
	return echoResponse(100, "Trying", req)
}

// canReply reports whether req carries enough headers to build a response
// from (§7: "if enough headers to construct a reply; otherwise drop").
func canReply(req *sipmsg.Message) bool {
	return req.Via != "" && req.From != "" && req.To != "" && req.CallID != "" && req.CSeq != ""
}
