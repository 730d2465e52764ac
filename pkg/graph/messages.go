package graph

import (
	"context"
	"iter"

	"github.com/Sternrassler/o365-graph-client/pkg/pagination"
)

// Message is the subset of a mailbox message most callers need.
type Message struct {
	ID               string `json:"id"`
	Subject          string `json:"subject"`
	BodyPreview      string `json:"bodyPreview"`
	ReceivedDateTime string `json:"receivedDateTime"`
	IsRead           bool   `json:"isRead"`
	From             struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

// Messages reads mailboxes.
type Messages struct {
	session Session
}

// NewMessages returns a mailbox reader.
func NewMessages(session Session) *Messages {
	return &Messages{session: session}
}

// ForUser iterates over a user's messages.
func (m *Messages) ForUser(userPrincipalName string) *pagination.Cursor {
	return m.session.GetNextItem(m.session.URL("users", userPrincipalName, "messages"), nil)
}

// Read yields a user's messages decoded.
func (m *Messages) Read(ctx context.Context, userPrincipalName string) iter.Seq2[Message, error] {
	return Items[Message](ctx, m.ForUser(userPrincipalName))
}
