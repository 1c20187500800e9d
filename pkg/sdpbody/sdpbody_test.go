package sdpbody

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferListsSupportedCodecs(t *testing.T) {
	body, err := Offer(Params{User: "1001", IP: "10.0.0.5", Port: 5004})
	require.NoError(t, err)

	assert.Contains(t, body, "m=audio 5004 RTP/AVP 8 0")
	assert.Contains(t, body, "c=IN IP4 10.0.0.5")
	assert.Contains(t, body, "a=rtpmap:8 PCMA/8000")
	assert.Contains(t, body, "a=rtpmap:0 PCMU/8000")
	assert.True(t, strings.HasPrefix(body, "v=0"))

	ip, port, err := Endpoint(body)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ip)
	assert.Equal(t, 5004, port)
}

func TestOfferDefaults(t *testing.T) {
	body, err := Offer(Params{})
	require.NoError(t, err)
	assert.Contains(t, body, "m=audio 4000 RTP/AVP")
	assert.Contains(t, body, "c=IN IP4 127.0.0.1")
}

func TestAnswerKeepsOfferOrder(t *testing.T) {
	offer := "v=0\n" +
		"o=- 1 1 IN IP4 10.0.0.1\n" +
		"s=-\n" +
		"c=IN IP4 10.0.0.1\n" +
		"t=0 0\n" +
		"m=audio 6000 RTP/AVP 0 18 8 101\n" +
		"a=rtpmap:0 PCMU/8000\n" +
		"a=rtpmap:18 G729/8000\n" +
		"a=rtpmap:8 PCMA/8000\n\n"

	codecs, err := Negotiate(offer)
	require.NoError(t, err)
	require.Len(t, codecs, 2)
	assert.Equal(t, uint8(0), codecs[0].PayloadType)
	assert.Equal(t, uint8(8), codecs[1].PayloadType)

	answer, err := Answer(offer, Params{IP: "10.0.0.2", Port: 7000})
	require.NoError(t, err)
	assert.Contains(t, answer, "m=audio 7000 RTP/AVP 0 8")
}

func TestAnswerErrors(t *testing.T) {
	noAudio := "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nt=0 0\r\nm=video 6000 RTP/AVP 96\r\n"
	_, err := Answer(noAudio, Params{})
	assert.ErrorIs(t, err, ErrNoAudio)

	g729 := "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 6000 RTP/AVP 18\r\n"
	_, err = Answer(g729, Params{})
	assert.ErrorIs(t, err, ErrNoCommonCodec)

	_, err = Parse("garbage")
	assert.Error(t, err)
}
