package email

import (
	"errors"
	"net/smtp"
	"os"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func recordingSender(sent *[]sentMail, err error) *Sender {
	return NewSender("duet@example.com", "secret").WithSendFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return err
	})
}

func TestSendConfirmation(t *testing.T) {
	var sent []sentMail
	s := recordingSender(&sent, nil)

	require.NoError(t, s.SendConfirmation("alice@example.com", "AB12CD"))
	require.Len(t, sent, 1)
	assert.Equal(t, "smtp.gmail.com:587", sent[0].addr)
	assert.Equal(t, "duet@example.com", sent[0].from)
	assert.Equal(t, []string{"alice@example.com"}, sent[0].to)
	assert.Contains(t, sent[0].msg, "Subject: Your Duet Confirmation Token\r\n")
	assert.Contains(t, sent[0].msg, "<strong>AB12CD</strong>")
}

func TestSendContactInquiry(t *testing.T) {
	var sent []sentMail
	s := recordingSender(&sent, nil)

	require.NoError(t, s.SendContactInquiry("support@example.com", "bob@example.com", "", "hello there"))
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"support@example.com"}, sent[0].to)
	assert.Contains(t, sent[0].msg, "Reply-To: bob@example.com\r\n")
	assert.Contains(t, sent[0].msg, "Subject: Duet inquiry: general\r\n")
	assert.Contains(t, sent[0].msg, "hello there")
}

func TestSendFailureIsWrapped(t *testing.T) {
	var sent []sentMail
	boom := errors.New("relay down")
	s := recordingSender(&sent, boom)

	err := s.SendConfirmation("alice@example.com", "AB12CD")
	assert.ErrorIs(t, err, boom)
}

func TestHeadersAreOrdered(t *testing.T) {
	msg := string(BuildConfirmation("a@example.com", "b@example.com", "T"))
	assert.Less(t, strings.Index(msg, "Content-Type:"), strings.Index(msg, "From:"))
	assert.Less(t, strings.Index(msg, "From:"), strings.Index(msg, "To:"))
}

func TestCheckLiveRelay(t *testing.T) {
	_ = godotenv.Load("../../../.env")
	smtpEmail, smtpPassword := os.Getenv("GOOGLE_EMAIL"), os.Getenv("GOOGLE_PASS")
	if smtpEmail == "" || smtpPassword == "" {
		t.Skip("SMTP credentials not set")
	}
	assert.NoError(t, NewSender(smtpEmail, smtpPassword).Check())
}
