package rtprelay

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardsBetweenLegs(t *testing.T) {
	relay, err := New("127.0.0.1", 0, nil)
	require.NoError(t, err)
	defer relay.Close()
	go relay.Run()

	callerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer callerConn.Close()
	calleeConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer calleeConn.Close()

	callerAddr := callerConn.LocalAddr().(*net.UDPAddr)
	calleeAddr := calleeConn.LocalAddr().(*net.UDPAddr)

	relay.InstallCall("call-1",
		Endpoint{Addr: "127.0.0.1", Port: callerAddr.Port},
		Endpoint{Addr: "127.0.0.1", Port: calleeAddr.Port},
	)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: 1,
			Timestamp:      8000,
			SSRC:           0xdeadbeef,
		},
		Payload: []byte("audio-from-caller"),
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = callerConn.WriteToUDP(raw, relay.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 2048)
	calleeConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := calleeConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, raw, buf[:n])

	// And the reverse direction, via the "_reverse" entry.
	pkt2 := &rtp.Packet{
		Header: rtp.Header{Version: 2, SequenceNumber: 2, Timestamp: 8160, SSRC: 0xdeadbeef},
		Payload: []byte("audio-from-callee"),
	}
	raw2, err := pkt2.Marshal()
	require.NoError(t, err)
	_, err = calleeConn.WriteToUDP(raw2, relay.LocalAddr())
	require.NoError(t, err)

	callerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n2, _, err := callerConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, raw2, buf[:n2])
}

func TestRelayDropsUnmatchedSource(t *testing.T) {
	relay, err := New("127.0.0.1", 0, nil)
	require.NoError(t, err)
	defer relay.Close()

	_, _, ok := relay.matchSource(Endpoint{Addr: "10.1.1.1", Port: 4000})
	require.False(t, ok)
}

func TestInstallCallCreatesSymmetricPair(t *testing.T) {
	relay, err := New("127.0.0.1", 0, nil)
	require.NoError(t, err)
	defer relay.Close()

	from := Endpoint{Addr: "10.0.0.5", Port: 40000}
	to := Endpoint{Addr: "10.0.0.6", Port: 41000}
	relay.InstallCall("abc", from, to)

	streams := relay.ListStreams()
	require.Len(t, streams, 2)

	byID := map[string]Stream{}
	for _, s := range streams {
		byID[s.CallID] = s
	}
	require.Equal(t, from, byID["abc"].From)
	require.Equal(t, to, byID["abc"].To)
	require.Equal(t, to, byID["abc_reverse"].From)
	require.Equal(t, from, byID["abc_reverse"].To)
}

func TestObservePopulatesSmoothedPacketRate(t *testing.T) {
	relay, err := New("127.0.0.1", 0, nil)
	require.NoError(t, err)
	defer relay.Close()

	relay.InstallCall("rate-1", Endpoint{Addr: "10.0.0.5", Port: 40000}, Endpoint{Addr: "10.0.0.6", Port: 41000})

	require.Zero(t, relay.observe("rate-1"))
	time.Sleep(10 * time.Millisecond)
	rate := relay.observe("rate-1")
	require.Greater(t, rate, 0.0)

	streams := relay.ListStreams()
	for _, s := range streams {
		if s.CallID == "rate-1" {
			require.Equal(t, rate, s.PacketRate)
		}
	}
}
