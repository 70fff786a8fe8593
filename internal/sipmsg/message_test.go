package sipmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	raw := "REGISTER sip:100@srv:5060 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.5:5061\r\n" +
		"From: <sip:100@srv>\r\n" +
		"To: <sip:100@srv>\r\n" +
		"Call-ID: abc123@10.0.0.5\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Contact: <sip:100@10.0.0.5:5061>\r\n" +
		"Expires: 3600\r\n" +
		"\r\n"

	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.False(t, msg.IsResponse)
	assert.Equal(t, "REGISTER", msg.Method)
	assert.Equal(t, "sip:100@srv:5060", msg.RequestURI)
	assert.Equal(t, "abc123@10.0.0.5", msg.CallID)
	assert.Equal(t, "3600", msg.Expires)
	assert.Empty(t, msg.Body)
}

func TestParseResponseWithBody(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP srv:5060\r\n" +
		"Call-ID: abc123\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: 4\r\n" +
		"\r\n" +
		"v=0\r\n"

	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.True(t, msg.IsResponse)
	assert.Equal(t, 200, msg.StatusCode)
	assert.Equal(t, "OK", msg.Reason)
	assert.Equal(t, []byte("v=0"), msg.Body)
}

func TestParseMalformedFirstLine(t *testing.T) {
	_, err := Parse([]byte("GARBAGE\r\n\r\n"))
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestParseHeaderWithoutColon(t *testing.T) {
	raw := "BYE sip:100@srv SIP/2.0\r\nThisHasNoColon\r\n\r\n"
	_, err := Parse([]byte(raw))
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	msg := NewRequest("INVITE", "sip:101@192.168.0.42:5060")
	msg.Via = "SIP/2.0/UDP srv:5060;branch=z9hG4bK-1"
	msg.From = "<sip:100@srv>"
	msg.To = "<sip:101@srv>"
	msg.CallID = "xyz"
	msg.CSeq = "1 INVITE"
	msg.Contact = "<sip:100@10.0.0.5:5061>"
	msg.ContentType = "application/sdp"
	msg.Body = []byte("v=0\r\no=- 1 1 IN IP4 10.0.0.5")

	out := msg.Serialize()
	reparsed, err := Parse(out)
	require.NoError(t, err)

	assert.Equal(t, msg.Method, reparsed.Method)
	assert.Equal(t, msg.RequestURI, reparsed.RequestURI)
	assert.Equal(t, msg.Via, reparsed.Via)
	assert.Equal(t, msg.From, reparsed.From)
	assert.Equal(t, msg.To, reparsed.To)
	assert.Equal(t, msg.CallID, reparsed.CallID)
	assert.Equal(t, msg.CSeq, reparsed.CSeq)
	assert.Equal(t, msg.Contact, reparsed.Contact)
	assert.Equal(t, msg.ContentType, reparsed.ContentType)
	assert.Equal(t, msg.Body, reparsed.Body)
}

func TestOtherHeadersPreserved(t *testing.T) {
	raw := "BYE sip:100@srv SIP/2.0\r\nX-Custom: value\r\nCall-ID: cid\r\n\r\n"
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	v, ok := msg.GetHeader("X-Custom")
	require.True(t, ok)
	assert.Equal(t, "value", v)

	serialized := string(msg.Serialize())
	assert.Contains(t, serialized, "X-Custom: value")
}
