// Package dialog implements the Dialog Manager (Call Manager) of §4.D:
// per-call state, target binding, RTP port mapping, history, and the
// setup-timeout cleanup tick. Dialogs are approximated by Call-ID alone
// (forking and tag matching are out of scope, per the GLOSSARY).
package dialog

import (
	"fmt"
	"sync"
	"time"

	"github.com/antirek/sip-server2/internal/history"
	"github.com/antirek/sip-server2/internal/logging"
	"github.com/antirek/sip-server2/internal/registrar"
)

// State is one of the dialog lifecycle states (§3/§4.D).
type State int

const (
	Initiated State = iota
	Ringing
	Established
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Initiated:
		return "INITIATED"
	case Ringing:
		return "RINGING"
	case Established:
		return "ESTABLISHED"
	case Terminating:
		return "TERMINATING"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// OriginatorHeaders are the caller's INVITE headers, preserved verbatim
// so the final response to the caller can replay them instead of the
// downstream response's own headers (see spec §9's design note).
type OriginatorHeaders struct {
	Via     string
	From    string
	To      string
	CSeq    string
	Contact string
}

// Dialog is one call's state, keyed by Call-ID.
type Dialog struct {
	CallID     string
	FromNumber string
	ToNumber   string

	FromTransport registrar.Transport
	ToTransport   registrar.Transport

	FromRTPPort int
	ToRTPPort   int

	// MediaFromAddr/MediaToAddr default to the signalling addresses;
	// they exist separately because a UA's media address can in
	// principle differ from its signalling address.
	MediaFromAddr string
	MediaToAddr   string

	Originator OriginatorHeaders

	State             State
	InviteTime        time.Time
	AnswerTime        time.Time
	EndTime           time.Time
	DurationSeconds   float64
	TerminationReason string
	WaitingForACK     bool

	// ByeSourceIsFrom records which leg sent the BYE (true for the
	// caller's leg). The engine picks the opposite leg for the forwarded
	// BYE itself; the 200 OK to that BYE only ends the dialog.
	ByeSourceIsFrom bool
}

func (d *Dialog) involves(number string) bool {
	return d.FromNumber == number || d.ToNumber == number
}

func (d *Dialog) snapshot() *Dialog {
	cp := *d
	return &cp
}

// Event is one call-history entry, appended when a dialog terminates.
type Event struct {
	CallID            string
	FromNumber        string
	ToNumber          string
	State             State
	InviteTime        time.Time
	AnswerTime        time.Time
	EndTime           time.Time
	DurationSeconds   float64
	TerminationReason string
}

// Manager owns the active-dialog map and the call history ring buffer.
type Manager struct {
	mu       sync.RWMutex
	dialogs  map[string]*Dialog
	history  *history.Ring[Event]
	logger   logging.Logger
	now      func() time.Time
	setupTimeout time.Duration
}

// New builds an empty Manager.
func New(logger logging.Logger, setupTimeout time.Duration) *Manager {
	return &Manager{
		dialogs:      make(map[string]*Dialog),
		history:      history.New[Event](history.DefaultCapacity),
		logger:       logger,
		now:          time.Now,
		setupTimeout: setupTimeout,
	}
}

// Create installs a new dialog in state INITIATED.
func (m *Manager) Create(callID, fromNumber, toNumber string, fromTransport registrar.Transport, originator OriginatorHeaders) (*Dialog, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.dialogs[callID]; exists {
		return nil, fmt.Errorf("dialog: Call-ID %q already active", callID)
	}
	d := &Dialog{
		CallID:        callID,
		FromNumber:    fromNumber,
		ToNumber:      toNumber,
		FromTransport: fromTransport,
		MediaFromAddr: fromTransport.Addr,
		Originator:    originator,
		State:         Initiated,
		InviteTime:    now,
	}
	m.dialogs[callID] = d
	return d.snapshot(), nil
}

// SetTarget installs the callee's transport and transitions to RINGING.
func (m *Manager) SetTarget(callID string, toTransport registrar.Transport) (*Dialog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogs[callID]
	if !ok {
		return nil, fmt.Errorf("dialog: unknown Call-ID %q", callID)
	}
	d.ToTransport = toTransport
	d.MediaToAddr = toTransport.Addr
	d.State = Ringing
	return d.snapshot(), nil
}

// SetRTPPorts records the extracted SDP media ports for each leg.
func (m *Manager) SetRTPPorts(callID string, fromPort, toPort int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogs[callID]
	if !ok {
		return fmt.Errorf("dialog: unknown Call-ID %q", callID)
	}
	if fromPort > 0 {
		d.FromRTPPort = fromPort
	}
	if toPort > 0 {
		d.ToRTPPort = toPort
	}
	return nil
}

// SetMediaAddrs overrides the default (signalling-address) media address
// for one or both legs, used when a leg's SDP c= line names a different
// address than its signalling source.
func (m *Manager) SetMediaAddrs(callID, fromAddr, toAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogs[callID]
	if !ok {
		return fmt.Errorf("dialog: unknown Call-ID %q", callID)
	}
	if fromAddr != "" {
		d.MediaFromAddr = fromAddr
	}
	if toAddr != "" {
		d.MediaToAddr = toAddr
	}
	return nil
}

// Get returns a snapshot of the dialog for callID, if active.
func (m *Manager) Get(callID string) (*Dialog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dialogs[callID]
	if !ok {
		return nil, false
	}
	return d.snapshot(), true
}

// Answer transitions to ESTABLISHED and records AnswerTime.
func (m *Manager) Answer(callID string) (*Dialog, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogs[callID]
	if !ok {
		return nil, fmt.Errorf("dialog: unknown Call-ID %q", callID)
	}
	d.State = Established
	d.AnswerTime = now
	d.WaitingForACK = true
	return d.snapshot(), nil
}

// MarkTerminating transitions a dialog to TERMINATING, recording which
// leg originated the BYE.
func (m *Manager) MarkTerminating(callID string, byeFromFromLeg bool) (*Dialog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogs[callID]
	if !ok {
		return nil, fmt.Errorf("dialog: unknown Call-ID %q", callID)
	}
	d.State = Terminating
	d.ByeSourceIsFrom = byeFromFromLeg
	return d.snapshot(), nil
}

// End transitions a dialog to TERMINATED, computes duration, appends a
// history record, and removes it from the active map.
func (m *Manager) End(callID, reason string) (*Dialog, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogs[callID]
	if !ok {
		return nil, fmt.Errorf("dialog: unknown Call-ID %q", callID)
	}
	d.State = Terminated
	d.EndTime = now
	d.TerminationReason = reason
	if !d.AnswerTime.IsZero() {
		dur := d.EndTime.Sub(d.AnswerTime).Seconds()
		if dur < 0 {
			dur = 0
		}
		d.DurationSeconds = dur
	}
	delete(m.dialogs, callID)
	m.history.Append(Event{
		CallID: d.CallID, FromNumber: d.FromNumber, ToNumber: d.ToNumber,
		State: d.State, InviteTime: d.InviteTime, AnswerTime: d.AnswerTime,
		EndTime: d.EndTime, DurationSeconds: d.DurationSeconds,
		TerminationReason: d.TerminationReason,
	})
	return d.snapshot(), nil
}

// IsNumberBusy reports whether number is a party to any dialog currently
// in {RINGING, ESTABLISHED}.
func (m *Manager) IsNumberBusy(number string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.dialogs {
		if (d.State == Ringing || d.State == Established) && d.involves(number) {
			return true
		}
	}
	return false
}

// CallsByNumber returns every active dialog mentioning number.
func (m *Manager) CallsByNumber(number string) []*Dialog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Dialog
	for _, d := range m.dialogs {
		if d.involves(number) {
			out = append(out, d.snapshot())
		}
	}
	return out
}

// ActiveCalls returns a snapshot of every active dialog.
func (m *Manager) ActiveCalls() []*Dialog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Dialog, 0, len(m.dialogs))
	for _, d := range m.dialogs {
		out = append(out, d.snapshot())
	}
	return out
}

// History returns up to limit terminated-call records starting at offset.
func (m *Manager) History(limit, offset int) []Event {
	return m.history.List(limit, offset)
}

// Statistics summarizes the current state for the admin API.
type Statistics struct {
	ActiveCalls      int
	TotalTerminated  int
	ByState          map[string]int
}

// Statistics computes a point-in-time summary.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byState := map[string]int{}
	for _, d := range m.dialogs {
		byState[d.State.String()]++
	}
	return Statistics{
		ActiveCalls:     len(m.dialogs),
		TotalTerminated: m.history.Len(),
		ByState:         byState,
	}
}

// ClearAll force-terminates every active dialog, for the admin API's
// clear_all_calls.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialogs = make(map[string]*Dialog)
}

// Cleanup ends every dialog still INITIATED or RINGING (that is, not yet
// answered) past the setup timeout. It is driven by the shared cleanup
// ticker (§5) and returns the Call-IDs ended this tick, so the engine can
// tear down their RTP streams.
func (m *Manager) Cleanup() []string {
	now := m.now()
	var expired []string
	m.mu.RLock()
	for callID, d := range m.dialogs {
		if (d.State == Initiated || d.State == Ringing) && now.Sub(d.InviteTime) > m.setupTimeout {
			expired = append(expired, callID)
		}
	}
	m.mu.RUnlock()

	for _, callID := range expired {
		if _, err := m.End(callID, "TIMEOUT"); err != nil && m.logger != nil {
			m.logger.WithField("call_id", callID).Warn("cleanup: dialog vanished before timeout end")
		}
	}
	return expired
}
