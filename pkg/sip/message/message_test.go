package message

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callgen/pkg/templates"
)

func mustParse(t *testing.T, raw string) *Message {
	t.Helper()
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	return msg
}

func TestSetDialogAndTransaction(t *testing.T) {
	msg, err := Build(registerTemplate, registerParams())
	require.NoError(t, err)

	msg.SetDialogFrom(Dialog{CallID: "new-call", FromTag: "aaa", ToTag: "bbb"})
	msg.SetTransactionFrom(Transaction{Branch: "z9hG4bKnew", Seq: 7, Method: "INVITE"})

	assert.Equal(t, Dialog{CallID: "new-call", FromTag: "aaa", ToTag: "bbb"}, msg.Dialog())
	// requests keep their own method in CSeq
	assert.Equal(t, Transaction{Branch: "z9hG4bKnew", Seq: 7, Method: "REGISTER"}, msg.Transaction())
	assert.Equal(t, "<sip:1001@10.0.0.1>;tag=bbb", msg.Header("To"))
}

func TestSetDialogEmptyToTagKeepsTo(t *testing.T) {
	msg, err := Build(registerTemplate, registerParams())
	require.NoError(t, err)

	msg.SetDialogFrom(Dialog{CallID: "c", FromTag: "f"})
	assert.Equal(t, "<sip:1001@10.0.0.1>", msg.Header("To"))
}

func TestMakeResponseTo(t *testing.T) {
	req := mustParse(t, inviteText)
	resp, err := Build(templates.MustSIP(templates.Ringing), map[string]string{
		"user": "bob", "source_ip": "1.1.1.1", "source_port": "5060", "transport": "tcp",
	})
	require.NoError(t, err)

	require.NoError(t, resp.MakeResponseTo(req, "totag"))
	resp.SetTransactionFrom(req.Transaction())

	assert.Equal(t, req.Headers.Values("Via"), resp.Headers.Values("Via"))
	assert.Equal(t, req.CallID(), resp.CallID())
	assert.Equal(t, "totag", resp.ToTag())
	assert.Equal(t, req.FromTag(), resp.FromTag())
	assert.Equal(t, Transaction{Branch: "z9hG4bK776asdhds", Seq: 314159, Method: "INVITE"}, resp.Transaction())

	// an existing to-tag is kept
	again := NewResponse(200, "OK")
	require.NoError(t, again.MakeResponseTo(resp, ""))
	assert.Equal(t, "totag", again.ToTag())

	assert.ErrorIs(t, req.MakeResponseTo(resp, ""), ErrNotResponse)
}

func TestMakeResponseToGeneratesTag(t *testing.T) {
	req := mustParse(t, inviteText)
	resp := NewResponse(100, "Trying")
	resp.Headers.Add("To", "x")

	require.NoError(t, resp.MakeResponseTo(req, ""))
	assert.NotEmpty(t, resp.ToTag())
}

func TestParamEditing(t *testing.T) {
	tests := []struct {
		in, param, value, want string
	}{
		{"<sip:a@b;transport=tcp>", "tag", "1", "<sip:a@b;transport=tcp>;tag=1"},
		{"<sip:a@b>;tag=old;epid=9", "tag", "new", "<sip:a@b>;tag=new;epid=9"},
		{"<sip:a@b>;tag=old", "tag", "", "<sip:a@b>"},
		{"sip:a@b", "tag", "x", "sip:a@b;tag=x"},
		{"SIP/2.0/TCP h:1;branch=z9hG4bKa;rport", "branch", "z9hG4bKb", "SIP/2.0/TCP h:1;branch=z9hG4bKb;rport"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, setParam(tt.in, tt.param, tt.value), tt.in)
	}
	assert.Equal(t, "", headerParam("<sip:a@b;tag=uri-param>", "tag"))
}

func TestDialogMatches(t *testing.T) {
	started := Dialog{CallID: "c", FromTag: "a"}
	complete := Dialog{CallID: "c", FromTag: "a", ToTag: "b"}

	assert.True(t, started.Matches(complete))
	assert.True(t, complete.Matches(started))
	assert.True(t, complete.Matches(complete.Reverse()))
	assert.True(t, started.Matches(Dialog{CallID: "c", FromTag: "b", ToTag: "a"}))
	assert.False(t, complete.Matches(Dialog{CallID: "c", FromTag: "a", ToTag: "z"}))
	assert.False(t, complete.Matches(Dialog{CallID: "other", FromTag: "a", ToTag: "b"}))
}

func TestIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewBranch(), "z9hG4bK"))
	assert.NotEqual(t, NewTag(), NewTag())
	assert.Len(t, NewCallID(), 32)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestAuthorize(t *testing.T) {
	req, err := Build(registerTemplate, registerParams())
	require.NoError(t, err)

	challenge := mustParse(t, "SIP/2.0 401 Unauthorized\r\n"+
		"Call-ID: call-1\r\nCSeq: 1 REGISTER\r\n"+
		`WWW-Authenticate: Digest realm="lab", nonce="abc123", algorithm=MD5`+"\r\n\r\n")
	require.True(t, challenge.IsChallenge())

	require.NoError(t, Authorize(req, challenge, "1001", "secret"))

	seq, method := req.CSeq()
	assert.Equal(t, 2, seq)
	assert.Equal(t, "REGISTER", method)

	auth := req.Header("Authorization")
	require.NotEmpty(t, auth)
	assert.Contains(t, auth, `username="1001"`)
	assert.Contains(t, auth, `realm="lab"`)

	ha1 := md5hex("1001:lab:secret")
	ha2 := md5hex("REGISTER:sip:10.0.0.1:5060")
	want := md5hex(ha1 + ":abc123:" + ha2)
	got := regexp.MustCompile(`response="([0-9a-f]+)"`).FindStringSubmatch(auth)
	require.Len(t, got, 2)
	assert.Equal(t, want, got[1])
}

func TestAuthorizeProxyChallenge(t *testing.T) {
	req, err := Build(registerTemplate, registerParams())
	require.NoError(t, err)

	challenge := mustParse(t, "SIP/2.0 407 Proxy Authentication Required\r\n"+
		`Proxy-Authenticate: Digest realm="lab", nonce="n", qop="auth"`+"\r\n\r\n")

	require.NoError(t, Authorize(req, challenge, "1001", "secret"))
	assert.True(t, req.Headers.Has("Proxy-Authorization"))
	assert.False(t, req.Headers.Has("Authorization"))
}

func TestAuthorizeWithoutChallenge(t *testing.T) {
	req, err := Build(registerTemplate, registerParams())
	require.NoError(t, err)

	err = Authorize(req, NewResponse(401, "Unauthorized"), "u", "p")
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestVerify(t *testing.T) {
	req, err := Build(registerTemplate, registerParams())
	require.NoError(t, err)

	challenge := NewResponse(401, "Unauthorized")
	challenge.SetHeader("WWW-Authenticate", NewChallenge("lab", "n0nce"))
	require.NoError(t, Authorize(req, challenge, "1001", "secret"))

	passwords := func(user string) (string, bool) {
		if user == "1001" {
			return "secret", true
		}
		return "", false
	}
	user, ok := Verify(req, "n0nce", passwords)
	assert.True(t, ok)
	assert.Equal(t, "1001", user)

	_, ok = Verify(req, "other", passwords)
	assert.False(t, ok, "stale nonce")

	_, ok = Verify(req, "n0nce", func(string) (string, bool) { return "wrong", true })
	assert.False(t, ok)

	_, ok = Verify(NewRequest("REGISTER", "sip:lab"), "n0nce", passwords)
	assert.False(t, ok)
}

func TestAddressedUser(t *testing.T) {
	msg := mustParse(t, "INVITE sip:1002@10.0.0.1:5060;transport=tcp SIP/2.0\r\n"+
		"From: \"A\" <sip:1001@10.0.0.1>;tag=a\r\n"+
		"To: <sip:1003@10.0.0.1>\r\n\r\n")
	assert.Equal(t, "1002", msg.AddressedUser())
	assert.Equal(t, "1001", msg.FromUser())

	assert.Equal(t, "1003", URIUser(NameAddrURI(msg.Header("To"))))
	assert.Equal(t, "sip:1@h", NameAddrURI("sip:1@h;tag=x"))
	assert.Empty(t, URIUser(""))
}
