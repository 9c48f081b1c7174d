package email

import (
	"fmt"
	"net/smtp"
	"sort"
	"strings"
)

const (
	defaultSMTPHost = "smtp.gmail.com"
	defaultSMTPPort = "587"
)

// SendFunc has the signature of smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Sender delivers confirmation and contact emails over SMTP.
type Sender struct {
	server string
	from   string
	auth   smtp.Auth
	send   SendFunc
}

// NewSender builds a Sender that authenticates against Gmail's SMTP relay with the given account.
//
// It accepts two arguments:
// - sender: The email address used as the "From" address and as the SMTP user.
// - password: The password (or app password) of that account.
//
// No connection is made until the first email is sent; use Check to verify the relay is reachable.
func NewSender(sender, password string) *Sender {
	return &Sender{
		server: defaultSMTPHost + ":" + defaultSMTPPort,
		from:   sender,
		auth:   smtp.PlainAuth("", sender, password, defaultSMTPHost),
		send:   smtp.SendMail,
	}
}

// WithSendFunc replaces the transport. Used by tests.
func (s *Sender) WithSendFunc(fn SendFunc) *Sender {
	s.send = fn
	return s
}

// From returns the configured sender address.
func (s *Sender) From() string { return s.from }

// Check dials the SMTP server and closes the connection again.
func (s *Sender) Check() error {
	c, err := smtp.Dial(s.server)
	if err != nil {
		return fmt.Errorf("cannot connect to the SMTP server: %w", err)
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("cannot close the SMTP connection: %w", err)
	}
	return nil
}

// SendConfirmation emails the registration confirmation token to a new account.
func (s *Sender) SendConfirmation(to, token string) error {
	return s.deliver(to, BuildConfirmation(s.from, to, token))
}

// SendContactInquiry forwards a message submitted through the public contact form to receiver.
func (s *Sender) SendContactInquiry(receiver, replyTo, category, body string) error {
	return s.deliver(receiver, BuildContactInquiry(s.from, receiver, replyTo, category, body))
}

func (s *Sender) deliver(to string, message []byte) error {
	if err := s.send(s.server, s.auth, s.from, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// writeHeaders renders headers in a stable order followed by the blank separator line.
func writeHeaders(b *strings.Builder, headers map[string]string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %s\r\n", k, headers[k])
	}
	b.WriteString("\r\n")
}

// BuildConfirmation renders the confirmation email carrying token.
func BuildConfirmation(from, to, token string) []byte {
	var b strings.Builder
	writeHeaders(&b, map[string]string{
		"From":         from,
		"To":           to,
		"Subject":      "Your Duet Confirmation Token",
		"MIME-version": "1.0",
		"Content-Type": "text/html; charset=\"UTF-8\"",
	})
	b.WriteString(`<html>
	<body style="font-family: sans-serif;">
		<div style="max-width: 600px; margin: 0 auto; padding: 10px;">
			<h1>Welcome to Duet,</h1>
			<p>Here is your confirmation token: <strong>` + token + `</strong></p>
			<p>Run the <code>confirm</code> command in the Duet shell and enter the token above. It is case sensitive and expires in 24 hours.</p>
		</div>
	</body>
</html>
`)
	return []byte(b.String())
}

// BuildContactInquiry renders a contact form submission.
func BuildContactInquiry(from, to, replyTo, category, body string) []byte {
	if category == "" {
		category = "general"
	}
	var b strings.Builder
	writeHeaders(&b, map[string]string{
		"From":         from,
		"To":           to,
		"Reply-To":     replyTo,
		"Subject":      "Duet inquiry: " + category,
		"MIME-version": "1.0",
		"Content-Type": "text/plain; charset=\"UTF-8\"",
	})
	fmt.Fprintf(&b, "From: %s\r\nCategory: %s\r\n\r\n%s\r\n", replyTo, category, body)
	return []byte(b.String())
}
