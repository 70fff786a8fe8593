// Package validate enforces the URI, header, SDP, and per-method
// structural constraints of §4.B. Failures surface as a ValidationError
// carrying the list of problems found; callers translate that into a
// "400 Bad Request" echoing the originator's Via/From/To/Call-ID/CSeq.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/antirek/sip-server2/internal/extension"
	"github.com/antirek/sip-server2/internal/sipmsg"
)

var (
	callIDRe = regexp.MustCompile(`^[A-Za-z0-9._-]+(@[A-Za-z0-9._-]+)?(-[A-Za-z0-9._-]+)?$`)
	cseqRe   = regexp.MustCompile(`^\d+\s+[A-Z]+$`)
	viaRe    = regexp.MustCompile(`^SIP/2\.0/UDP\s+[^\s:;]+:\d+(;.*)?$`)
	sipURIRe = regexp.MustCompile(`^sip:(\d+)@([^:;]+)(?::(\d+))?((?:;[^;]*)*)$`)
)

// ValidationError carries every problem found while validating a message.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newErr(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// SipURI is the parsed content of a "sip:" URI.
type SipURI struct {
	Number string
	Domain string
	Port   string
}

// ExtractURI returns the content of the first angle-bracketed substring
// in a display-name-and-uri header, or the trimmed header if there are no
// angle brackets.
func ExtractURI(header string) string {
	header = strings.TrimSpace(header)
	start := strings.IndexByte(header, '<')
	if start < 0 {
		return header
	}
	end := strings.IndexByte(header[start:], '>')
	if end < 0 {
		return header
	}
	return header[start+1 : start+end]
}

// ParseSipURI validates a "sip:" URI and checks its numeric user part
// against the configured extension set.
func ParseSipURI(raw string, extensions extension.Set) (*SipURI, error) {
	uri := ExtractURI(raw)
	m := sipURIRe.FindStringSubmatch(uri)
	if m == nil {
		return nil, newErr("malformed SIP URI: %q", uri)
	}
	number, domain, port := m[1], m[2], m[3]
	if !extensions.Contains(number) {
		return nil, newErr("extension %q out of range", number)
	}
	return &SipURI{Number: number, Domain: domain, Port: port}, nil
}

// CallID checks the Call-ID header's well-formedness.
func CallID(value string) error {
	if !callIDRe.MatchString(value) {
		return newErr("malformed Call-ID: %q", value)
	}
	return nil
}

// CSeq checks the CSeq header's well-formedness.
func CSeq(value string) error {
	if !cseqRe.MatchString(value) {
		return newErr("malformed CSeq: %q", value)
	}
	return nil
}

// Via checks the Via header's well-formedness.
func Via(value string) error {
	if !viaRe.MatchString(value) {
		return newErr("malformed Via: %q", value)
	}
	return nil
}

// SDP checks that the body contains at least one line each starting with
// v=, o=, s=, c=, t=, m=, that the first m= line is "m=audio <port> ..."
// with port in [1024, 65535], and that no other media type is present.
func SDP(body []byte) error {
	lines := strings.Split(string(body), "\r\n")
	seen := map[byte]bool{}
	firstMedia := ""
	for _, line := range lines {
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		seen[line[0]] = true
		if firstMedia == "" && line[0] == 'm' {
			firstMedia = line
		}
	}
	for _, want := range []byte{'v', 'o', 's', 'c', 't', 'm'} {
		if !seen[want] {
			return newErr("SDP missing %c= line", want)
		}
	}
	fields := strings.Fields(firstMedia)
	if len(fields) < 2 {
		return newErr("malformed m= line: %q", firstMedia)
	}
	mtype := strings.TrimPrefix(fields[0], "m=")
	if mtype != "audio" {
		return newErr("unsupported media type: %q", mtype)
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil || port < 1024 || port > 65535 {
		return newErr("m=audio port out of range: %q", firstMedia)
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "m=") && !strings.HasPrefix(line, "m=audio ") {
			return newErr("unsupported media line: %q", line)
		}
	}
	return nil
}

func requireHeaders(msg *sipmsg.Message, names ...string) []error {
	var errs []error
	for _, name := range names {
		if v, ok := msg.GetHeader(name); !ok || v == "" {
			errs = append(errs, newErr("missing required header: %s", name))
		}
	}
	return errs
}

func checkWellFormed(msg *sipmsg.Message) []error {
	var errs []error
	if msg.CallID != "" {
		if err := CallID(msg.CallID); err != nil {
			errs = append(errs, err)
		}
	}
	if msg.CSeq != "" {
		if err := CSeq(msg.CSeq); err != nil {
			errs = append(errs, err)
		}
	}
	if msg.Via != "" {
		if err := Via(msg.Via); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func userPart(header string) (string, error) {
	uri := ExtractURI(header)
	m := sipURIRe.FindStringSubmatch(uri)
	if m == nil {
		return "", newErr("malformed URI: %q", uri)
	}
	return m[1], nil
}

// Register validates a REGISTER request per §4.B.
func Register(msg *sipmsg.Message, extensions extension.Set) error {
	var errs []error
	errs = append(errs, requireHeaders(msg, sipmsg.HeaderTo, sipmsg.HeaderFrom, sipmsg.HeaderCallID, sipmsg.HeaderCSeq, sipmsg.HeaderContact)...)
	errs = append(errs, checkWellFormed(msg)...)

	toUser, err := userPart(msg.To)
	if err != nil {
		errs = append(errs, err)
	}
	fromUser, err := userPart(msg.From)
	if err != nil {
		errs = append(errs, err)
	}
	if toUser != "" && fromUser != "" {
		if toUser != fromUser {
			errs = append(errs, newErr("To and From user parts differ: %q != %q", toUser, fromUser))
		}
		if !extensions.Contains(toUser) {
			errs = append(errs, newErr("extension %q out of range", toUser))
		}
	}
	if msg.Expires != "" {
		exp, err := strconv.Atoi(msg.Expires)
		if err != nil || exp < 0 || exp > 86400 {
			errs = append(errs, newErr("Expires out of range [0, 86400]: %q", msg.Expires))
		}
	}
	return collect(errs)
}

// Invite validates an INVITE request per §4.B.
func Invite(msg *sipmsg.Message, extensions extension.Set) error {
	var errs []error
	errs = append(errs, requireHeaders(msg, sipmsg.HeaderTo, sipmsg.HeaderFrom, sipmsg.HeaderCallID, sipmsg.HeaderCSeq, sipmsg.HeaderContact)...)
	errs = append(errs, checkWellFormed(msg)...)

	toUser, toErr := userPart(msg.To)
	if toErr != nil {
		errs = append(errs, toErr)
	} else if !extensions.Contains(toUser) {
		errs = append(errs, newErr("extension %q out of range", toUser))
	}
	fromUser, fromErr := userPart(msg.From)
	if fromErr != nil {
		errs = append(errs, fromErr)
	} else if !extensions.Contains(fromUser) {
		errs = append(errs, newErr("extension %q out of range", fromUser))
	}
	if toErr == nil && fromErr == nil && toUser == fromUser {
		errs = append(errs, newErr("self-call rejected: From and To are both %q", toUser))
	}
	if strings.Contains(msg.ContentType, "application/sdp") {
		if err := SDP(msg.Body); err != nil {
			errs = append(errs, err)
		}
	}
	return collect(errs)
}

// Bye validates a BYE request per §4.B.
func Bye(msg *sipmsg.Message, extensions extension.Set) error {
	var errs []error
	errs = append(errs, requireHeaders(msg, sipmsg.HeaderTo, sipmsg.HeaderFrom, sipmsg.HeaderCallID, sipmsg.HeaderCSeq)...)
	errs = append(errs, checkWellFormed(msg)...)
	if _, err := userPart(msg.To); err != nil {
		errs = append(errs, err)
	}
	if _, err := userPart(msg.From); err != nil {
		errs = append(errs, err)
	}
	return collect(errs)
}

func collect(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

// IsSelfCall reports whether err is a *ValidationError that includes a
// self-call rejection.
func IsSelfCall(err error) bool {
	verr, ok := err.(*ValidationError)
	if !ok {
		return false
	}
	for _, e := range verr.Errors {
		if strings.Contains(e.Error(), "self-call") {
			return true
		}
	}
	return false
}
