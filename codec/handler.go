// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"unicode/utf8"

	"github.com/absmach/redpub/client"
)

// ErrorFunc receives payloads a wrapped handler could not decode.
// A nil ErrorFunc drops them silently.
type ErrorFunc func(channel string, err error)

// Text adapts a string handler. Payloads that are not valid UTF-8 are
// reported to onErr and never reach fn.
func Text(fn func(channel, message string), onErr ErrorFunc) client.Handler {
	return func(channel string, payload []byte) {
		if !utf8.Valid(payload) {
			report(onErr, channel, ErrInvalidUTF8)
			return
		}
		fn(channel, string(payload))
	}
}

// Decoding adapts h so that it receives payloads decoded by c.
func Decoding(c Codec, h client.Handler, onErr ErrorFunc) client.Handler {
	return func(channel string, payload []byte) {
		decoded, err := c.Decode(payload)
		if err != nil {
			report(onErr, channel, err)
			return
		}
		h(channel, decoded)
	}
}

func report(onErr ErrorFunc, channel string, err error) {
	if onErr != nil {
		onErr(channel, err)
	}
}
