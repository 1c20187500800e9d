package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sipWithBody = "MESSAGE sip:b@h SIP/2.0\r\nContent-Length: 5\r\n\r\nhello"
const sipNoBody = "SIP/2.0 200 OK\r\nl: 0\r\n\r\n"

func pipe(split func([]byte, bool) (int, []byte, error)) (*StreamLink, net.Conn) {
	a, b := net.Pipe()
	return NewStreamLink(a, split), b
}

func TestReceiveSIPFrames(t *testing.T) {
	link, peer := pipe(SplitSIP)
	defer link.Close()

	go func() {
		// keep-alive, then two messages split across writes
		peer.Write([]byte("\r\n\r\n"))
		peer.Write([]byte(sipWithBody[:20]))
		peer.Write([]byte(sipWithBody[20:] + sipNoBody))
	}()

	first, err := link.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, sipWithBody, string(first))

	second, err := link.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, sipNoBody, string(second))
}

func TestReceiveTimeoutKeepsPartialFrame(t *testing.T) {
	link, peer := pipe(SplitSIP)
	defer link.Close()

	go peer.Write([]byte(sipWithBody[:30]))

	_, err := link.Receive(50 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrReadTimeout))

	go peer.Write([]byte(sipWithBody[30:]))
	frame, err := link.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, sipWithBody, string(frame))
}

func TestReceiveDisconnect(t *testing.T) {
	link, peer := pipe(SplitSIP)
	peer.Close()

	_, err := link.Receive(time.Second)
	assert.True(t, errors.Is(err, ErrLinkClosed))
}

func cstaFrame(id string, body string) []byte {
	frame := make([]byte, 4, 8+len(body))
	binary.BigEndian.PutUint32(frame, uint32(8+len(body)))
	frame = append(frame, id...)
	return append(frame, body...)
}

func TestReceiveCSTAFrames(t *testing.T) {
	link, peer := pipe(SplitCSTA)
	defer link.Close()

	a := cstaFrame("0001", "<MakeCall/>")
	b := cstaFrame("9999", "<DeliveredEvent/>")
	go peer.Write(append(append([]byte{}, a...), b...))

	got, err := link.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = link.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestSplitErrors(t *testing.T) {
	_, _, err := SplitCSTA([]byte{0, 0, 0, 3, '0'}, false)
	assert.Equal(t, ErrInvalidFrame, err)

	_, _, err = SplitSIP([]byte("SIP/2.0 200 OK\r\nContent-Length: x\r\n\r\n"), false)
	assert.Equal(t, ErrInvalidFrame, err)

	_, _, err = SplitSIP([]byte("SIP/2.0 200 OK\r\nContent-Length: 10\r\n\r\nab"), true)
	assert.Equal(t, ErrTruncatedFrame, err)

	adv, tok, err := SplitSIP([]byte("SIP/2.0 200"), false)
	assert.NoError(t, err)
	assert.Zero(t, adv)
	assert.Nil(t, tok)
}

func TestSendSerializesWrites(t *testing.T) {
	link, peer := pipe(SplitSIP)
	defer link.Close()
	reader := NewStreamLink(peer, SplitSIP)

	const n = 20
	for i := 0; i < n; i++ {
		go func() { _ = link.Send([]byte(sipWithBody)) }()
	}
	for i := 0; i < n; i++ {
		frame, err := reader.Receive(time.Second)
		require.NoError(t, err)
		assert.Equal(t, sipWithBody, string(frame))
	}
}

func TestDialAndListen(t *testing.T) {
	l, err := Listen("127.0.0.1:0", SplitSIP)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Serve(ctx, func(ctx context.Context, link *StreamLink) {
		frame, err := link.Receive(time.Second)
		if err == nil {
			_ = link.Send(frame)
		}
	})

	client, err := Dial(ctx, "tcp", "", l.Addr().String(), SplitSIP)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte(sipNoBody)))
	echo, err := client.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, sipNoBody, string(echo))

	require.NoError(t, l.Close())
}
