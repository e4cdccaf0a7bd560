package smu

import (
	"context"
	"sync"

	"github.com/smulab/go-smu/logger"
)

// taskManager supervises the session's background goroutines (automation run
// loops). Stopping it cancels the shared context and waits for every task to
// terminate, which is how session teardown cancels all runs.
type taskManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
}

func newTaskManager(ctx context.Context, l logger.Logger) *taskManager {
	mgr := &taskManager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the shared parent context for tasks.
func (mgr *taskManager) Context() context.Context {
	return mgr.ctx
}

// Start launches a named task goroutine.
func (mgr *taskManager) Start(name string, fn func()) {
	mgr.logger.Debug("start task", "name", name)

	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()
		defer mgr.logger.Debug("task terminated", "name", name)

		fn()
	}()
}

// Stop cancels the shared context and waits for all tasks to terminate.
func (mgr *taskManager) Stop() {
	mgr.cancel()
	mgr.wg.Wait()
}
