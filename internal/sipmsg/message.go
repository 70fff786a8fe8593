// Package sipmsg parses and serializes the conservative subset of SIP
// request and response messages this server understands. It maps the
// source's dynamic header bag onto a static structure: a handful of
// recognized headers plus an ordered "other headers" bag, preserving the
// case of header names as they were presented on the wire.
package sipmsg

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Recognized header names, matched case-sensitively against the wire.
const (
	HeaderVia           = "Via"
	HeaderFrom          = "From"
	HeaderTo            = "To"
	HeaderCallID        = "Call-ID"
	HeaderCSeq          = "CSeq"
	HeaderContact       = "Contact"
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderExpires       = "Expires"
)

var recognized = map[string]bool{
	HeaderVia: true, HeaderFrom: true, HeaderTo: true, HeaderCallID: true,
	HeaderCSeq: true, HeaderContact: true, HeaderContentType: true,
	HeaderContentLength: true, HeaderExpires: true,
}

// HeaderField is a single unrecognized header line, preserved verbatim
// (name case and value) for round-tripping.
type HeaderField struct {
	Name  string
	Value string
}

// Message is either a SIP request or a SIP response.
type Message struct {
	IsResponse bool

	// Request line.
	Method     string
	RequestURI string

	// Status line.
	StatusCode int
	Reason     string

	SipVersion string

	Via           string
	From          string
	To            string
	CallID        string
	CSeq          string
	Contact       string
	ContentType   string
	ContentLength string
	Expires       string

	Other []HeaderField

	Body []byte
}

// ParseError is returned when the first line is malformed or a header
// line lacks a colon.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "sipmsg: parse error: " + e.Reason
}

// Parse decodes a UDP payload as a SIP request or response. Header lines
// are CRLF-terminated "Name: value" pairs up to the first empty line; the
// remaining bytes form the body verbatim (minus a single trailing CRLF,
// if present).
func Parse(data []byte) (*Message, error) {
	raw := string(data)
	lines := strings.Split(raw, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, &ParseError{Reason: "empty datagram"}
	}

	msg := &Message{}
	if err := parseFirstLine(msg, lines[0]); err != nil {
		return nil, err
	}

	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, &ParseError{Reason: fmt.Sprintf("header line without colon: %q", line)}
		}
		name := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		msg.setHeader(name, value)
	}

	if i < len(lines) {
		i++ // skip the blank separator line
	}
	body := strings.Join(lines[i:], "\r\n")
	body = strings.TrimSuffix(body, "\r\n")
	if body != "" {
		msg.Body = []byte(body)
	}
	return msg, nil
}

func parseFirstLine(msg *Message, line string) error {
	fields := strings.Fields(line)
	if strings.HasPrefix(line, "SIP/2.0") {
		// Status line: SIP/2.0 <status> <reason...>
		if len(fields) < 2 {
			return &ParseError{Reason: fmt.Sprintf("malformed status line: %q", line)}
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return &ParseError{Reason: fmt.Sprintf("malformed status code: %q", line)}
		}
		msg.IsResponse = true
		msg.SipVersion = fields[0]
		msg.StatusCode = code
		if len(fields) > 2 {
			msg.Reason = strings.Join(fields[2:], " ")
		}
		return nil
	}
	// Request line: METHOD Request-URI SIP/2.0
	if len(fields) != 3 || fields[2] != "SIP/2.0" {
		return &ParseError{Reason: fmt.Sprintf("malformed request line: %q", line)}
	}
	msg.Method = fields[0]
	msg.RequestURI = fields[1]
	msg.SipVersion = fields[2]
	return nil
}

func (m *Message) setHeader(name, value string) {
	switch name {
	case HeaderVia:
		m.Via = value
	case HeaderFrom:
		m.From = value
	case HeaderTo:
		m.To = value
	case HeaderCallID:
		m.CallID = value
	case HeaderCSeq:
		m.CSeq = value
	case HeaderContact:
		m.Contact = value
	case HeaderContentType:
		m.ContentType = value
	case HeaderContentLength:
		m.ContentLength = value
	case HeaderExpires:
		m.Expires = value
	default:
		m.Other = append(m.Other, HeaderField{Name: name, Value: value})
	}
}

// GetHeader returns a recognized or other header's value, case-sensitively.
func (m *Message) GetHeader(name string) (string, bool) {
	switch name {
	case HeaderVia:
		return m.Via, m.Via != ""
	case HeaderFrom:
		return m.From, m.From != ""
	case HeaderTo:
		return m.To, m.To != ""
	case HeaderCallID:
		return m.CallID, m.CallID != ""
	case HeaderCSeq:
		return m.CSeq, m.CSeq != ""
	case HeaderContact:
		return m.Contact, m.Contact != ""
	case HeaderContentType:
		return m.ContentType, m.ContentType != ""
	case HeaderContentLength:
		return m.ContentLength, m.ContentLength != ""
	case HeaderExpires:
		return m.Expires, m.Expires != ""
	}
	for _, h := range m.Other {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// Serialize emits the message in wire form.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	if m.IsResponse {
		fmt.Fprintf(&buf, "SIP/2.0 %d %s\r\n", m.StatusCode, m.Reason)
	} else {
		fmt.Fprintf(&buf, "%s %s SIP/2.0\r\n", m.Method, m.RequestURI)
	}

	writeHeader(&buf, HeaderVia, m.Via)
	writeHeader(&buf, HeaderFrom, m.From)
	writeHeader(&buf, HeaderTo, m.To)
	writeHeader(&buf, HeaderCallID, m.CallID)
	writeHeader(&buf, HeaderCSeq, m.CSeq)
	writeHeader(&buf, HeaderContact, m.Contact)
	writeHeader(&buf, HeaderContentType, m.ContentType)
	writeHeader(&buf, HeaderExpires, m.Expires)
	for _, h := range m.Other {
		if recognized[h.Name] {
			continue
		}
		writeHeader(&buf, h.Name, h.Value)
	}
	if len(m.Body) > 0 {
		fmt.Fprintf(&buf, "%s: %d\r\n", HeaderContentLength, len(m.Body))
	} else if m.ContentLength != "" {
		writeHeader(&buf, HeaderContentLength, m.ContentLength)
	} else {
		fmt.Fprintf(&buf, "%s: 0\r\n", HeaderContentLength)
	}
	buf.WriteString("\r\n")
	buf.Write(m.Body)
	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// NewRequest builds a bare request message, leaving headers for the
// caller to set.
func NewRequest(method, uri string) *Message {
	return &Message{Method: method, RequestURI: uri, SipVersion: "SIP/2.0"}
}

// NewResponse builds a bare response message.
func NewResponse(code int, reason string) *Message {
	return &Message{IsResponse: true, StatusCode: code, Reason: reason, SipVersion: "SIP/2.0"}
}
