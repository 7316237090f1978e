package internal

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/emersion/go-message"
	"github.com/stretchr/testify/assert"
)

func BuildTestIMAPServer(t *testing.T) (*server.Server, string, *memory.Mailbox) {
	be := memory.New()
	user, err := be.Login(nil, "username", "password")
	assert.NoError(t, err)
	if err != nil {
		t.FailNow()
	}

	mb, err := user.GetMailbox("INBOX")
	assert.NoError(t, err)
	if err != nil {
		t.FailNow()
	}

	mailbox := mb.(*memory.Mailbox)
	mailbox.Messages = nil

	s := server.New(be)
	t.Cleanup(func() { _ = s.Close() })

	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "localhost:0")
	assert.NoError(t, err)
	if err != nil {
		t.FailNow()
	}

	go func() { _ = s.Serve(l) }()

	return s, l.Addr().String(), mailbox
}

// AppendTestMessage adds a message with the given UID directly to the
// backing store of a test mailbox. The server only notices it on the next
// command, so callers poking a live connection should expect a delay.
func AppendTestMessage(t *testing.T, mailbox *memory.Mailbox, uid uint32, subject string) {
	hdr := message.Header{}
	hdr.Add("From", "from@example.com")
	hdr.Add("To", "to@example.com")
	hdr.Add("Subject", subject)
	hdr.Add("Date", "Wed, 11 May 2016 14:31:59 +0000")
	hdr.Add("Content-Type", "text/plain")

	msg, err := message.New(hdr, strings.NewReader("Привет!"))
	assert.NoError(t, err)
	if err != nil {
		t.FailNow()
	}

	bb := new(bytes.Buffer)
	err = msg.WriteTo(bb)
	assert.NoError(t, err)
	if err != nil {
		t.FailNow()
	}

	mailbox.Messages = append(mailbox.Messages, &memory.Message{
		Uid:   uid,
		Date:  time.Date(2016, 5, 11, 14, 31, 59, 0, time.UTC),
		Size:  uint32(bb.Len()),
		Flags: []string{},
		Body:  bb.Bytes(),
	})
}
