package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadPeerMsgHave(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	go func() {
		defer w.Close()
		require.NoError(t, WritePeerMsg(w, PeerMsg{Type: MsgHave, Blocks: []int{0, 1, 2}}))
	}()
	msg, err := ReadPeerMsg(r)
	require.NoError(t, err)
	assert.Equal(t, MsgHave, msg.Type)
	assert.Equal(t, []int{0, 1, 2}, msg.Blocks)
}

func TestWriteReadPeerMsgBlockData(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	payload := []byte{1, 2, 3, 4, 5}
	go func() {
		defer w.Close()
		require.NoError(t, WritePeerMsg(w, PeerMsg{Type: MsgBlockData, BlockID: 7, Data: payload}))
	}()
	msg, err := ReadPeerMsg(r)
	require.NoError(t, err)
	assert.Equal(t, MsgBlockData, msg.Type)
	assert.Equal(t, 7, msg.BlockID)
	assert.Equal(t, len(payload), msg.PayloadLen)
	assert.Equal(t, payload, msg.Data)
}

func TestWriteReadPeerMsgSequenceOnSharedConn(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePeerMsg(&buf, PeerMsg{Type: MsgChoke}))
	require.NoError(t, WritePeerMsg(&buf, PeerMsg{Type: MsgBlockData, BlockID: 1, Data: []byte("hi")}))
	require.NoError(t, WritePeerMsg(&buf, PeerMsg{Type: MsgUnchoke}))

	first, err := ReadPeerMsg(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgChoke, first.Type)

	second, err := ReadPeerMsg(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgBlockData, second.Type)
	assert.Equal(t, []byte("hi"), second.Data)

	third, err := ReadPeerMsg(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgUnchoke, third.Type)
}

func TestReadPeerMsgMalformed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("not json")))
	_, err := ReadPeerMsg(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadFrameDisconnected(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	require.Error(t, err)
}
