package endpoint

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/sip/message"
	"github.com/arzzra/callgen/pkg/sip/transaction"
)

func TestUnmatchedResponseIsLoggedAsError(t *testing.T) {
	base, hook := test.NewNullLogger()
	log := logger.FromLogrus(base)

	resp, err := message.Parse([]byte("SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/TCP h;branch=z9hG4bKnone\r\n" +
		"To: <sip:1002@h>;tag=b\r\n" +
		"From: <sip:1001@h>;tag=a\r\n" +
		"Call-ID: stray\r\n" +
		"CSeq: 1 INVITE\r\n\r\n"))
	require.NoError(t, err)

	ledgerErr := transaction.NewLedger().Received(resp)
	require.True(t, errors.Is(ledgerErr, transaction.ErrUnmatchedResponse))

	reportLedger(log, "received message does not match a transaction", ledgerErr)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	reportLedger(log, "other", errors.New("duplicate"))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
