// Package task runs module work units on a bounded worker pool.
//
// An Executor keeps CoreSize workers alive for its whole lifetime and grows
// up to MaxSize workers when its queue is full; the extra workers exit after
// KeepAlive without work. Take hands a unit to the pool and returns at once.
//
// Listeners subscribe to one event kind each. Before-execute listeners run
// synchronously inside Take, before the unit is queued. After-execute
// listeners run on the worker once the unit has finished, before that
// worker picks up its next unit. A unit's error or panic never reaches the
// caller of Take; it is delivered in the after-execute Event.
//
//	exec := task.New(task.DefaultConfig(), task.WithLogger(logger))
//	defer exec.Shutdown(context.Background())
//
//	exec.AddListener(task.AfterExecute, func(ev task.Event) {
//	    if ev.Err != nil {
//	        logger.Warn("unit failed", zap.Error(ev.Err))
//	    }
//	})
//	if err := exec.Take(unit); err != nil {
//	    // *RejectedError: shut down or saturated
//	}
package task
