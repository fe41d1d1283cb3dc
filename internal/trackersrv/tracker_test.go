package trackersrv

import (
	"io/ioutil"
	"log"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkslts64/minibit/internal/wire"
)

func testLogger() *log.Logger {
	return log.New(ioutil.Discard, "test", log.LstdFlags)
}

func startTracker(t *testing.T) (*Tracker, func()) {
	t.Helper()
	tr := New("127.0.0.1", 0, testLogger())
	require.NoError(t, tr.Start())
	return tr, func() { tr.Stop() }
}

func dial(t *testing.T, tr *Tracker) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req wire.TrackerRequest) wire.TrackerResponse {
	t.Helper()
	require.NoError(t, wire.WriteTrackerRequest(conn, req))
	resp, err := wire.ReadTrackerResponse(conn)
	require.NoError(t, err)
	return resp
}

func TestRegisterThenGetPeersExcludesSelf(t *testing.T) {
	tr, stop := startTracker(t)
	defer stop()

	connA := dial(t, tr)
	defer connA.Close()
	resp := roundTrip(t, connA, wire.TrackerRequest{
		Command: wire.CmdRegister, PeerID: "A", FileName: "movie.mp4",
		Address: &wire.Addr{Host: "127.0.0.1", Port: 6001}, Blocks: []int{0, 1},
	})
	require.Equal(t, wire.StatusOK, resp.Status)

	connB := dial(t, tr)
	defer connB.Close()
	resp = roundTrip(t, connB, wire.TrackerRequest{
		Command: wire.CmdRegister, PeerID: "B", FileName: "movie.mp4",
		Address: &wire.Addr{Host: "127.0.0.1", Port: 6002}, Blocks: []int{},
	})
	require.Equal(t, wire.StatusOK, resp.Status)

	connC := dial(t, tr)
	defer connC.Close()
	resp = roundTrip(t, connC, wire.TrackerRequest{
		Command: wire.CmdGetPeers, PeerID: "B", FileName: "movie.mp4",
	})
	require.Equal(t, wire.StatusOK, resp.Status)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "A", resp.Peers[0].PeerID)
	assert.Equal(t, wire.Addr{Host: "127.0.0.1", Port: 6001}, resp.Peers[0].Address)
	assert.ElementsMatch(t, []int{0, 1}, resp.Peers[0].Blocks)
}

func TestUpdateBlocksReplacesAdvertisedSet(t *testing.T) {
	tr, stop := startTracker(t)
	defer stop()

	conn := dial(t, tr)
	defer conn.Close()
	roundTrip(t, conn, wire.TrackerRequest{
		Command: wire.CmdRegister, PeerID: "A", FileName: "f",
		Address: &wire.Addr{Host: "h", Port: 1}, Blocks: []int{0},
	})
	roundTrip(t, conn, wire.TrackerRequest{
		Command: wire.CmdUpdateBlocks, PeerID: "A", FileName: "f",
		Blocks: []int{0, 1, 2},
	})

	other := dial(t, tr)
	defer other.Close()
	resp := roundTrip(t, other, wire.TrackerRequest{
		Command: wire.CmdGetPeers, PeerID: "Z", FileName: "f",
	})
	require.Len(t, resp.Peers, 1)
	assert.ElementsMatch(t, []int{0, 1, 2}, resp.Peers[0].Blocks)
}

func TestUpdateBlocksUnknownPeerIsError(t *testing.T) {
	tr, stop := startTracker(t)
	defer stop()
	conn := dial(t, tr)
	defer conn.Close()
	resp := roundTrip(t, conn, wire.TrackerRequest{
		Command: wire.CmdUpdateBlocks, PeerID: "ghost", FileName: "f", Blocks: []int{0},
	})
	assert.Equal(t, wire.StatusError, resp.Status)
}

func TestUnknownCommandReturnsError(t *testing.T) {
	tr, stop := startTracker(t)
	defer stop()
	conn := dial(t, tr)
	defer conn.Close()
	resp := roundTrip(t, conn, wire.TrackerRequest{Command: "FOO", PeerID: "A"})
	assert.Equal(t, wire.StatusError, resp.Status)
	assert.Equal(t, wire.ReasonUnknownCommand, resp.Reason)
}

// A peer may belong to only one file at a time: registering under a new
// file_name drops its membership from any previous one.
func TestRegisterUnderNewFileDropsOldMembership(t *testing.T) {
	tr, stop := startTracker(t)
	defer stop()

	conn := dial(t, tr)
	defer conn.Close()
	roundTrip(t, conn, wire.TrackerRequest{
		Command: wire.CmdRegister, PeerID: "A", FileName: "one",
		Address: &wire.Addr{Host: "h", Port: 1},
	})
	roundTrip(t, conn, wire.TrackerRequest{
		Command: wire.CmdRegister, PeerID: "A", FileName: "two",
		Address: &wire.Addr{Host: "h", Port: 1},
	})

	check := dial(t, tr)
	defer check.Close()
	resp := roundTrip(t, check, wire.TrackerRequest{Command: wire.CmdGetPeers, PeerID: "Z", FileName: "one"})
	assert.Empty(t, resp.Peers)

	check2 := dial(t, tr)
	defer check2.Close()
	resp = roundTrip(t, check2, wire.TrackerRequest{Command: wire.CmdGetPeers, PeerID: "Z", FileName: "two"})
	assert.Len(t, resp.Peers, 1)
}

// A malformed frame closes that one connection without disturbing state
// registered by anyone else.
func TestMalformedRequestClosesOnlyThatConnection(t *testing.T) {
	tr, stop := startTracker(t)
	defer stop()

	good := dial(t, tr)
	defer good.Close()
	roundTrip(t, good, wire.TrackerRequest{
		Command: wire.CmdRegister, PeerID: "A", FileName: "f",
		Address: &wire.Addr{Host: "h", Port: 1},
	})

	bad := dial(t, tr)
	require.NoError(t, wire.WriteFrame(bad, []byte("not json")))
	_, err := wire.ReadTrackerResponse(bad)
	assert.Error(t, err) // tracker closed the connection without replying
	bad.Close()

	check := dial(t, tr)
	defer check.Close()
	resp := roundTrip(t, check, wire.TrackerRequest{Command: wire.CmdGetPeers, PeerID: "Z", FileName: "f"})
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "A", resp.Peers[0].PeerID)
}

// Closing a connection cleanly after receiving a response (the normal
// one-request-per-connection pattern) must not remove the peer.
func TestCleanCloseAfterResponseKeepsPeerRegistered(t *testing.T) {
	tr, stop := startTracker(t)
	defer stop()

	conn := dial(t, tr)
	roundTrip(t, conn, wire.TrackerRequest{
		Command: wire.CmdRegister, PeerID: "A", FileName: "f",
		Address: &wire.Addr{Host: "h", Port: 1},
	})
	conn.Close()
	time.Sleep(50 * time.Millisecond) // let handleConn observe the EOF

	check := dial(t, tr)
	defer check.Close()
	resp := roundTrip(t, check, wire.TrackerRequest{Command: wire.CmdGetPeers, PeerID: "Z", FileName: "f"})
	require.Len(t, resp.Peers, 1)
}

func TestStopUnblocksAcceptLoop(t *testing.T) {
	tr := New("127.0.0.1", 0, testLogger())
	require.NoError(t, tr.Start())
	tr.Stop()

	_, err := net.Dial("tcp", tr.Addr().String())
	assert.Error(t, err)
}
