// Package notify delivers transactional email: verification codes for
// registration, email changes and two-step login.
package notify

import "context"

// Message is a fully rendered email. Text is the plain-text alternative
// for clients that do not render HTML.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers rendered messages. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}
