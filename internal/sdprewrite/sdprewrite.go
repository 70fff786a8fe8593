// Package sdprewrite rewrites c=, o=, and m=audio lines so that media
// points at the relay (§4.F). It works line-by-line rather than through a
// structured SDP object model (the way the teacher's sippy_sdp package
// would reconstruct a session): the spec requires every other line,
// including unrecognized a= attributes, to pass through unchanged, which
// a parse/rebuild round trip cannot promise but line substitution can.
package sdprewrite

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	connectionRe = regexp.MustCompile(`^(c=IN IP4 )(\S+)(.*)$`)
	originRe     = regexp.MustCompile(`^(o=\S+ \S+ \S+ IN IP4 )(\S+)(.*)$`)
	mediaAudioRe = regexp.MustCompile(`^(m=audio )(\d+)(.*)$`)
)

// Endpoint is the server's media address/port that media lines are
// rewritten to point at.
type Endpoint struct {
	Addr string
	Port int
}

// Rewrite rewrites every c=IN IP4, o=... IN IP4, and m=audio line in sdp
// to point at endpoint, leaving every other line untouched. It is a pure
// function of (sdp, endpoint) and is idempotent: rewriting an
// already-rewritten body is a no-op change.
func Rewrite(sdp []byte, endpoint Endpoint) []byte {
	lines := strings.Split(string(sdp), "\r\n")
	for i, line := range lines {
		if m := connectionRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + endpoint.Addr + m[3]
			continue
		}
		if m := originRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + endpoint.Addr + m[3]
			continue
		}
		if m := mediaAudioRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + strconv.Itoa(endpoint.Port) + m[3]
			continue
		}
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// ExtractAudioPort returns the port advertised on the first m=audio line,
// used by the engine to learn a leg's RTP port before it rewrites the body.
func ExtractAudioPort(sdp []byte) (int, bool) {
	for _, line := range strings.Split(string(sdp), "\r\n") {
		if m := mediaAudioRe.FindStringSubmatch(line); m != nil {
			port, err := strconv.Atoi(m[2])
			if err != nil {
				return 0, false
			}
			return port, true
		}
	}
	return 0, false
}

// ExtractConnectionAddr returns the address advertised on the first
// c=IN IP4 line, used to default a leg's media address to its SDP
// connection address when it differs from the signalling source.
func ExtractConnectionAddr(sdp []byte) (string, bool) {
	for _, line := range strings.Split(string(sdp), "\r\n") {
		if m := connectionRe.FindStringSubmatch(line); m != nil {
			return m[2], true
		}
	}
	return "", false
}
