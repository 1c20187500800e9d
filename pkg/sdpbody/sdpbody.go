// Package sdpbody builds and inspects the SDP bodies carried by INVITE and
// 200 OK. No media is ever sent; the body only has to satisfy the far end.
package sdpbody

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// ErrNoAudio is returned when the description has no audio media.
var ErrNoAudio = errors.New("sdp has no audio media")

// ErrNoCommonCodec is returned when the offer lists no supported codec.
var ErrNoCommonCodec = errors.New("no common codec")

// DefaultPort is advertised when Params.Port is zero.
const DefaultPort = 4000

// Codec is a static RTP payload type.
type Codec struct {
	PayloadType uint8
	Name        string
}

// Supported lists codecs in order of preference.
var Supported = []Codec{
	{PayloadType: 8, Name: "PCMA/8000"},
	{PayloadType: 0, Name: "PCMU/8000"},
}

// Params describe the local media side.
type Params struct {
	User string
	IP   string
	Port int
}

func (p Params) normalize() Params {
	if p.User == "" {
		p.User = "-"
	}
	if p.IP == "" {
		p.IP = "127.0.0.1"
	}
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	return p
}

// Offer returns an offer listing every supported codec.
func Offer(p Params) (string, error) {
	return marshal(p.normalize(), Supported)
}

// Answer returns an answer to offer restricted to the common codecs, in the
// offer's order.
func Answer(offer string, p Params) (string, error) {
	codecs, err := Negotiate(offer)
	if err != nil {
		return "", err
	}
	return marshal(p.normalize(), codecs)
}

// Negotiate returns the supported codecs of the offer's first audio media.
func Negotiate(offer string) ([]Codec, error) {
	sd, err := Parse(offer)
	if err != nil {
		return nil, err
	}

	audio := firstAudio(sd)
	if audio == nil {
		return nil, ErrNoAudio
	}

	var common []Codec
	for _, format := range audio.MediaName.Formats {
		pt, err := strconv.Atoi(format)
		if err != nil {
			continue
		}
		for _, c := range Supported {
			if int(c.PayloadType) == pt {
				common = append(common, c)
			}
		}
	}
	if len(common) == 0 {
		return nil, ErrNoCommonCodec
	}
	return common, nil
}

// Parse decodes an SDP body.
func Parse(body string) (*sdp.SessionDescription, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(normalizeLines(body))); err != nil {
		return nil, errors.Wrap(err, "unmarshal sdp")
	}
	return sd, nil
}

// Endpoint returns the connection address and port of the first audio media.
func Endpoint(body string) (string, int, error) {
	sd, err := Parse(body)
	if err != nil {
		return "", 0, err
	}
	audio := firstAudio(sd)
	if audio == nil {
		return "", 0, ErrNoAudio
	}

	conn := audio.ConnectionInformation
	if conn == nil {
		conn = sd.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return "", audio.MediaName.Port.Value, nil
	}
	return conn.Address.Address, audio.MediaName.Port.Value, nil
}

func firstAudio(sd *sdp.SessionDescription) *sdp.MediaDescription {
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return md
		}
	}
	return nil
}

func marshal(p Params, codecs []Codec) (string, error) {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       p.User,
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.IP,
		},
		SessionName: sdp.SessionName("callgen"),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: p.IP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	formats := make([]string, 0, len(codecs))
	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: p.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		Attributes: make([]sdp.Attribute, 0, len(codecs)+2),
	}
	for _, c := range codecs {
		media.Attributes = append(media.Attributes, sdp.Attribute{
			Key:   "rtpmap",
			Value: fmt.Sprintf("%d %s", c.PayloadType, c.Name),
		})
	}
	media.Attributes = append(media.Attributes,
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: "sendrecv"},
	)
	sd.MediaDescriptions = []*sdp.MediaDescription{media}

	data, err := sd.Marshal()
	if err != nil {
		return "", errors.Wrap(err, "marshal sdp")
	}
	return string(data), nil
}

// pion rejects trailing blank lines; templates often leave some.
func normalizeLines(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.TrimSpace(body)
	return strings.ReplaceAll(body, "\n", "\r\n") + "\r\n"
}
