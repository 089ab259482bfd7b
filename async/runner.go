// Async provides tools for asynchronous callback processing using Goroutines
package async

// A Runner spawns goroutines for functions and runs their callbacks through
// a Mailbox, so the caller only deals with functions and callbacks:
//
//	runner := NewRunner()
//	runner.RunAsync(func() error { return tracker.ReportItem(ctx, job, report) },
//	  func(err error) {
//	    if err != nil {
//	      reportErrors++
//	    }
//	  })
//
//	for runner.NumRunning() > 0 {
//	  <-runner.Ready()
//	  runner.ProcessMessages()
//	}
type Runner struct {
	bx *Mailbox
}

func NewRunner() Runner {
	return Runner{
		bx: NewMailbox(),
	}
}

// NumRunning counts functions whose callback has not been invoked yet.
func (r *Runner) NumRunning() int {
	return r.bx.Count()
}

// RunAsync creates a go routine to run the specified function f.
// The callback, cb, is invoked once f is completed by calling ProcessMessages.
func (r *Runner) RunAsync(f func() error, cb ResponseHandler) {
	go func(rsp *Reply) {
		rsp.Set(f())
	}(r.bx.NewReply(cb))
}

// Ready fires when a callback is waiting to be processed.
func (r *Runner) Ready() <-chan struct{} {
	return r.bx.Ready()
}

// Invokes all callbacks of completed functions.
// Callbacks are ran synchronously and by the calling go routine
func (r *Runner) ProcessMessages() int {
	return r.bx.ProcessMessages()
}
