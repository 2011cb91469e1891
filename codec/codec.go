// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec turns raw channel payloads into application values. It sits
// above the client core, which only ever sees opaque bytes.
package codec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec names.
const (
	NameRaw  = "raw"
	NameS2   = "s2"
	NameZstd = "zstd"
)

var (
	// ErrUnknownCodec is returned by ByName for unsupported names.
	ErrUnknownCodec = errors.New("unknown codec")

	// ErrInvalidUTF8 is reported by Text for payloads that are not UTF-8.
	ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")
)

// Codec encodes payloads before publishing and decodes them on delivery.
type Codec interface {
	Name() string
	Encode(payload []byte) ([]byte, error)
	Decode(payload []byte) ([]byte, error)
}

// ByName returns the codec registered under name. An empty name is raw.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", NameRaw:
		return Raw{}, nil
	case NameS2:
		return S2{}, nil
	case NameZstd:
		return NewZstd()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Raw passes payloads through unchanged.
type Raw struct{}

func (Raw) Name() string { return NameRaw }
func (Raw) Encode(payload []byte) ([]byte, error) { return payload, nil }
func (Raw) Decode(payload []byte) ([]byte, error) { return payload, nil }

// S2 is Snappy-compatible block compression. Decode also accepts legacy
// Snappy blocks.
type S2 struct{}

func (S2) Name() string { return NameS2 }

func (S2) Encode(payload []byte) ([]byte, error) {
	return s2.Encode(nil, payload), nil
}

func (S2) Decode(payload []byte) ([]byte, error) {
	out, err := s2.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("s2 decode: %w", err)
	}
	return out, nil
}

// Zstd trades speed for a better compression ratio.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a Zstd codec. It is safe for concurrent use.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return NameZstd }

func (z *Zstd) Encode(payload []byte) ([]byte, error) {
	return z.enc.EncodeAll(payload, nil), nil
}

func (z *Zstd) Decode(payload []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Close releases the encoder and decoder.
func (z *Zstd) Close() error {
	z.dec.Close()
	return z.enc.Close()
}

// Publisher is the publishing half of a client.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

// Publish encodes payload with c and publishes it on channel.
func Publish(ctx context.Context, p Publisher, c Codec, channel string, payload []byte) (int64, error) {
	encoded, err := c.Encode(payload)
	if err != nil {
		return 0, fmt.Errorf("%s encode: %w", c.Name(), err)
	}
	return p.Publish(ctx, channel, encoded)
}
