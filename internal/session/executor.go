// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "sync"

// executor runs functions one at a time on a single goroutine. Every
// mutation of a session's conversation happens inside it.
type executor struct {
	inbox   chan func()
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newExecutor() *executor {
	e := &executor{
		inbox:   make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the executor and waits for it. It returns false if the
// executor stopped first. Calling do from inside the executor deadlocks.
func (e *executor) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case e.inbox <- func() { fn(); close(done) }:
	case <-e.quit:
		return false
	}
	select {
	case <-done:
		return true
	case <-e.stopped:
		return false
	}
}

// post queues fn without waiting for it to run.
func (e *executor) post(fn func()) {
	go func() {
		select {
		case e.inbox <- fn:
		case <-e.quit:
		}
	}()
}

// stop ends the loop and waits for the running function to return.
func (e *executor) stop() {
	e.once.Do(func() { close(e.quit) })
	<-e.stopped
}
