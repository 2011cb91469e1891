// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// Observer receives lifecycle and traffic events. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	Connected(addr string)
	Disconnected(addr string)
	ConnectionLost(addr string, err error)
	Subscribed(channel string)
	Unsubscribed(channel string)
	Published(channel string, size int, receivers int64, latency time.Duration, err error)
	Delivered(channel string, size int, duration time.Duration)
	Dropped(channel string)
	HandlerPanicked(channel string)
}

type noopObserver struct{}

func (noopObserver) Connected(string) {}
func (noopObserver) Disconnected(string) {}
func (noopObserver) ConnectionLost(string, error) {}
func (noopObserver) Subscribed(string) {}
func (noopObserver) Unsubscribed(string) {}
func (noopObserver) Published(string, int, int64, time.Duration, error) {}
func (noopObserver) Delivered(string, int, time.Duration) {}
func (noopObserver) Dropped(string) {}
func (noopObserver) HandlerPanicked(string) {}
