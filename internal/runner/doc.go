// Package runner supervises a single sona server child process.
//
// A Runner launches the server in serve mode, blocks until the child prints
// its one-line JSON readiness record on stdout, and then owns the process
// until Stop. The readiness record is the only protocol on stdout; anything
// the server prints afterwards, on either stream, is drained into debug logs
// and a bounded stderr tail so the child never blocks on a full pipe.
//
//	r, err := runner.New(runner.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer r.Stop()
//
//	port, err := r.Start(ctx, 0)
//
// Shutdown is ordered: the platform's polite termination request, a bounded
// wait, then a forced kill. Every failed Start kills the child before
// returning, so a Runner never leaves an orphan behind. Runners are single
// use; start a fresh one to retry.
package runner
