package async

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func Test_Mailbox(t *testing.T) {
	mailbox := NewMailbox()

	cbInvoked := false
	var retErr error

	reply := mailbox.NewReply(func(err error) {
		retErr = err
		cbInvoked = true
	})
	assert.Equal(t, 1, mailbox.Count())

	go func(rsp *Reply) {
		rsp.Set(errors.New("Test Error!"))
	}(reply)

	for !cbInvoked {
		<-mailbox.Ready()
		mailbox.ProcessMessages()
	}
	assert.EqualError(t, retErr, "Test Error!")
	assert.Equal(t, 0, mailbox.Count())
}

func Test_Mailbox_SetTwiceRunsCallbackOnce(t *testing.T) {
	mailbox := NewMailbox()
	calls := 0
	reply := mailbox.NewReply(func(error) { calls++ })

	reply.Set(nil)
	reply.Set(errors.New("ignored"))
	assert.Equal(t, 1, mailbox.ProcessMessages())
	assert.Equal(t, 0, mailbox.ProcessMessages())
	assert.Equal(t, 1, calls)
}

func Test_Mailbox_UncompletedRepliesStay(t *testing.T) {
	mailbox := NewMailbox()
	first := mailbox.NewReply(func(error) {})
	mailbox.NewReply(func(error) {})

	assert.Equal(t, 0, mailbox.ProcessMessages())
	first.Set(nil)
	assert.Equal(t, 1, mailbox.ProcessMessages())
	assert.Equal(t, 1, mailbox.Count())

	select {
	case <-mailbox.Ready():
		t.Fatal("no reply was set since the last ProcessMessages")
	default:
	}
}

func Test_Mailbox_CallbackMayCreateReplies(t *testing.T) {
	mailbox := NewMailbox()
	var order []int
	mailbox.NewReply(func(error) {
		order = append(order, 1)
		mailbox.NewReply(func(error) { order = append(order, 2) }).Set(nil)
	}).Set(nil)

	deadline := time.After(time.Second)
	for len(order) < 2 {
		select {
		case <-mailbox.Ready():
			mailbox.ProcessMessages()
		case <-deadline:
			t.Fatal("callbacks did not run")
		}
	}
	assert.Equal(t, []int{1, 2}, order)
}
