package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := TrackerRequest{
		Command:  CmdRegister,
		PeerID:   "peer-1",
		FileName: "movie.mp4",
		Address:  &Addr{Host: "127.0.0.1", Port: 6001},
		Blocks:   []int{0, 1, 2},
	}
	require.NoError(t, WriteTrackerRequest(&buf, req))
	got, err := ReadTrackerRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestTrackerResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := TrackerResponse{
		Status: StatusOK,
		Peers: []TrackerPeerInfo{
			{PeerID: "peer-2", Address: Addr{Host: "10.0.0.2", Port: 7000}, Blocks: []int{3, 4}},
		},
	}
	require.NoError(t, WriteTrackerResponse(&buf, resp))
	got, err := ReadTrackerResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestTrackerResponseError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTrackerResponse(&buf, TrackerResponse{Status: StatusError, Reason: ReasonUnknownCommand}))
	got, err := ReadTrackerResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, ReasonUnknownCommand, got.Reason)
}
