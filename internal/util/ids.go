package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a sortable outbound message id.
func NewMessageID() string {
	return "msg_" + ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}
