// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sort"
	"sync"
)

// Handler is invoked for every message received on a subscribed channel.
// It runs on the receive loop goroutine; while it runs no other message is
// dispatched.
type Handler func(channel string, payload []byte)

// handlerRegistry maps channels to their handlers.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// newHandlerRegistry creates an empty registry.
func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[string]Handler),
	}
}

// get returns the handler for channel.
func (r *handlerRegistry) get(channel string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[channel]
	return h, ok
}

// set registers h and returns the handler it replaced, if any.
func (r *handlerRegistry) set(channel string, h Handler) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.handlers[channel]
	r.handlers[channel] = h
	return prev, ok
}

// remove deletes the handler for channel.
func (r *handlerRegistry) remove(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, channel)
}

// len returns the number of registered channels.
func (r *handlerRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// channels returns a sorted snapshot of the registered channels.
func (r *handlerRegistry) channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	return channels
}

// clear removes every handler and returns the removed channels.
func (r *handlerRegistry) clear() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		channels = append(channels, ch)
	}
	r.handlers = make(map[string]Handler)

	return channels
}
