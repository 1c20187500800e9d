package templates

// Names of the built-in SIP templates.
const (
	Options     = "Options"
	Register    = "Register"
	InviteSDP   = "Invite_SDP"
	Trying      = "Trying"
	Ringing     = "Ringing"
	OkSDP       = "200_OK_SDP"
	Ack         = "Ack"
	Bye         = "Bye"
	Ok          = "200_OK"
	Cancel      = "Cancel"
	Terminated  = "487"
	Subscribe   = "Subscribe"
	Notify      = "Notify"
	Unavailable = "480"
)

// Response templates carry placeholder headers that are overwritten from the
// request being answered. Request templates in an existing dialog get their
// From, To and Call-ID from the dialog.
var sipTemplates = map[string]string{
	Options: `
OPTIONS sip:{dest_ip}:{dest_port};transport={transport} SIP/2.0
Via: SIP/2.0/{viaTransport} {source_ip}:{source_port};branch={viaBranch}
Call-ID: {callId}
CSeq: 1 OPTIONS
To: <sip:{dest_ip}:{dest_port}>
From: <sip:{user}@{source_ip}:{source_port}>;tag={fromTag}
User-Agent: {userAgent}
Max-Forwards: 70
Content-Length: 0
`,
	Register: `
REGISTER sip:{dest_ip}:{dest_port};transport={transport} SIP/2.0
Via: SIP/2.0/{viaTransport} {source_ip}:{source_port};branch={viaBranch}
Call-ID: {callId}
CSeq: 1 REGISTER
To: <sip:{user}@{dest_ip}:{dest_port}>
From: "{user}" <sip:{user}@{dest_ip}:{dest_port}>;tag={fromTag}
User-Agent: {userAgent}
Max-Forwards: 70
Contact: "{user}" <sip:{user}@{source_ip}:{source_port};transport={transport}>;expires={expires}
Content-Length: 0
`,
	InviteSDP: `
INVITE sip:{userB}@{dest_ip}:{dest_port};transport={transport} SIP/2.0
Via: SIP/2.0/{viaTransport} {source_ip}:{source_port};branch={viaBranch}
From: {user} <sip:{user}@{dest_ip}:{dest_port}>;tag={fromTag}
To: <sip:{userB}@{dest_ip}:{dest_port};transport={transport}>
Contact: <sip:{user}@{source_ip}:{source_port};transport={transport}>
Content-Type: application/sdp
Call-ID: {callId}
CSeq: 1 INVITE
Max-Forwards: 70
Content-Length: 0

{sdp}
`,
	Trying: `
SIP/2.0 100 Trying
Call-ID: copied
CSeq: copied
From: copied
To: copied
Via: copied
Content-Length: 0
`,
	Ringing: `
SIP/2.0 180 Ringing
Call-ID: copied
CSeq: copied
From: copied
To: copied
Via: copied
Contact: <sip:{user}@{source_ip}:{source_port};transport={transport}>
Content-Length: 0
`,
	OkSDP: `
SIP/2.0 200 OK
Call-ID: copied
CSeq: copied
From: copied
To: copied
Via: copied
Contact: <sip:{user}@{source_ip}:{source_port};transport={transport}>
Content-Type: application/sdp
Content-Length: 0

{sdp}
`,
	Ack: `
ACK sip:{userB}@{dest_ip}:{dest_port};transport={transport} SIP/2.0
Via: SIP/2.0/{viaTransport} {source_ip}:{source_port};branch={viaBranch}
CSeq: 1 ACK
To: <sip:{userB}@{dest_ip}>
From: <sip:{user}@{source_ip}>
Call-ID: {callId}
Max-Forwards: 70
Content-Length: 0
`,
	Bye: `
BYE sip:{userB}@{dest_ip}:{dest_port};transport={transport} SIP/2.0
Via: SIP/2.0/{viaTransport} {source_ip}:{source_port};branch={viaBranch}
CSeq: 2 BYE
To: <sip:{userB}@{dest_ip}>
From: <sip:{user}@{source_ip}>
Call-ID: {callId}
Max-Forwards: 70
Content-Length: 0
`,
	Cancel: `
CANCEL sip:{userB}@{dest_ip}:{dest_port};transport={transport} SIP/2.0
Via: SIP/2.0/{viaTransport} {source_ip}:{source_port};branch={viaBranch}
CSeq: 1 CANCEL
To: <sip:{userB}@{dest_ip}>
From: <sip:{user}@{source_ip}>
Call-ID: {callId}
Max-Forwards: 70
Content-Length: 0
`,
	Ok: `
SIP/2.0 200 OK
Call-ID: copied
CSeq: copied
From: copied
To: copied
Via: copied
Content-Length: 0
`,
	Terminated: `
SIP/2.0 487 Request Terminated
Call-ID: copied
CSeq: copied
From: copied
To: copied
Via: copied
Content-Length: 0
`,
	Unavailable: `
SIP/2.0 480 Temporarily Unavailable
Call-ID: copied
CSeq: copied
From: copied
To: copied
Via: copied
Content-Length: 0
`,
	Subscribe: `
SUBSCRIBE sip:{user}@{dest_ip}:{dest_port};transport={transport} SIP/2.0
Via: SIP/2.0/{viaTransport} {source_ip}:{source_port};branch={viaBranch}
From: <sip:{user}@{dest_ip}>;tag={fromTag}
To: <sip:{user}@{dest_ip}>
Call-ID: {callId}
CSeq: 1 SUBSCRIBE
Contact: <sip:{user}@{source_ip}:{source_port};transport={transport}>
Event: {event}
Expires: {expires}
Max-Forwards: 70
Content-Length: 0
`,
	Notify: `
NOTIFY sip:{userB}@{dest_ip}:{dest_port};transport={transport} SIP/2.0
Via: SIP/2.0/{viaTransport} {source_ip}:{source_port};branch={viaBranch}
From: <sip:{user}@{source_ip}>
To: <sip:{userB}@{dest_ip}>
Call-ID: {callId}
CSeq: 1 NOTIFY
Event: {event}
Subscription-State: active;expires={expires}
Max-Forwards: 70
Content-Length: 0
`,
}
