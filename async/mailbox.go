package async

import "sync"

// A Mailbox collects the results of work done on other goroutines and runs
// the associated callbacks on the goroutine that owns the mailbox.
//
// An event loop that spawns goroutines (to submit an attempt, poll a worker,
// post a report) wants their results back without sharing its state with
// them. Each goroutine gets a Reply, sets it once when done, and the loop
// picks the completed replies up with ProcessMessages:
//
//	bx := NewMailbox()
//	go func(rsp *Reply) {
//	  rsp.Set(submit(task))
//	}(bx.NewReply(func(err error) {
//	  // runs on the loop goroutine
//	}))
//
//	for {
//	  select {
//	  case <-bx.Ready():
//	    bx.ProcessMessages()
//	  case <-ticker.C:
//	    ...
//	  }
//	}
//
// NewReply and ProcessMessages must only be called by the owner goroutine.
// Reply.Set may be called from anywhere.
type Mailbox struct {
	mu       sync.Mutex
	done     []message
	inFlight int
	ready    chan struct{}
}

// The function type of the callback invoked when a Reply is set.
type ResponseHandler func(error)

type message struct {
	err      error
	callback ResponseHandler
}

// Reply is the sending side of one mailbox slot.
type Reply struct {
	bx       *Mailbox
	callback ResponseHandler
	once     sync.Once
}

// Set completes the reply. Only the first call has an effect.
func (r *Reply) Set(err error) {
	r.once.Do(func() {
		r.bx.post(message{err: err, callback: r.callback})
	})
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		ready: make(chan struct{}, 1),
	}
}

// Count returns the number of replies whose callback has not run yet.
func (bx *Mailbox) Count() int {
	bx.mu.Lock()
	defer bx.mu.Unlock()
	return bx.inFlight
}

// Ready receives a value whenever at least one reply was set since the last
// ProcessMessages.
func (bx *Mailbox) Ready() <-chan struct{} {
	return bx.ready
}

// NewReply creates a slot whose callback runs on the next ProcessMessages after
// the slot is Set.
func (bx *Mailbox) NewReply(cb ResponseHandler) *Reply {
	bx.mu.Lock()
	bx.inFlight++
	bx.mu.Unlock()
	return &Reply{bx: bx, callback: cb}
}

func (bx *Mailbox) post(msg message) {
	bx.mu.Lock()
	bx.done = append(bx.done, msg)
	bx.mu.Unlock()
	select {
	case bx.ready <- struct{}{}:
	default:
	}
}

// ProcessMessages invokes the callbacks of every completed reply in the order
// they completed and returns how many ran. Callbacks may create new replies.
func (bx *Mailbox) ProcessMessages() int {
	select {
	case <-bx.ready:
	default:
	}

	bx.mu.Lock()
	msgs := bx.done
	bx.done = nil
	bx.inFlight -= len(msgs)
	bx.mu.Unlock()

	for _, msg := range msgs {
		msg.callback(msg.err)
	}
	return len(msgs)
}
