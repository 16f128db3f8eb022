package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/ib-77/ropseq/pkg/rop"
	"github.com/ib-77/ropseq/pkg/rop/solo"
)

// RunConfig describes one sequence: a first stage and, optionally, a second
// stage that receives the first stage's value.
type RunConfig struct {
	First      Descriptor
	Second     *Descriptor
	Method     Method
	DataFormat DataFormat
	Encryption *Encryption
}

type RunOption func(*RunConfig)

func WithMethod(m Method) RunOption {
	return func(c *RunConfig) { c.Method = m }
}

func WithDataFormat(f DataFormat) RunOption {
	return func(c *RunConfig) { c.DataFormat = f }
}

func WithEncryption(e *Encryption) RunOption {
	return func(c *RunConfig) { c.Encryption = e.clone() }
}

// NewRemoteRead is a single-stage GET of address.
func NewRemoteRead(address string, opts ...RunOption) RunConfig {
	return NewSingle(NewRemote(address, nil), opts...)
}

func NewSingle(first Descriptor, opts ...RunOption) RunConfig {
	c := RunConfig{First: first, Method: Get, DataFormat: JSON}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewSequence is a two-stage run, typically fetch then store.
func NewSequence(first, second Descriptor, opts ...RunOption) RunConfig {
	c := NewSingle(first, opts...)
	c.Second = &second
	return c
}

// SecondMethod is the method the second stage runs with: a plain read turns
// into a write of what was read, anything else is kept.
func (c RunConfig) SecondMethod() Method {
	if c.Method == Get {
		return Put
	}
	return c.Method
}

// Seeds returns the side channels the two stages start from. Each call
// returns fresh copies.
func (c RunConfig) Seeds() (first, second StageContext) {
	first = StageContext{
		Method:     c.Method,
		DataFormat: c.DataFormat,
		Encryption: c.Encryption.clone(),
	}
	second = StageContext{
		Method:     c.SecondMethod(),
		DataFormat: c.DataFormat,
		Encryption: c.Encryption.clone(),
	}
	return first, second
}

// Stages returns the descriptors of the run with their seeds applied. second
// is nil for a single-stage run.
func (c RunConfig) Stages() (first Descriptor, second *Descriptor) {
	fs, ss := c.Seeds()
	first = c.First.WithContext(fs)
	if c.Second != nil {
		s := c.Second.WithContext(ss)
		second = &s
	}
	return first, second
}

// Validate reports every problem with c at once.
func (c RunConfig) Validate() error {
	check := func(f func(RunConfig) error) func(context.Context, rop.Result[RunConfig]) rop.Result[RunConfig] {
		return func(ctx context.Context, in rop.Result[RunConfig]) rop.Result[RunConfig] {
			if err := f(in.Result()); err != nil {
				return rop.Fail[RunConfig](err)
			}
			return in
		}
	}

	res := solo.ValidateAll(context.Background(), rop.Success(c), false,
		check(func(c RunConfig) error {
			if err := c.First.Validate(); err != nil {
				return fmt.Errorf("first stage: %w", err)
			}
			return nil
		}),
		check(func(c RunConfig) error {
			if c.Second == nil {
				return nil
			}
			if err := c.Second.Validate(); err != nil {
				return fmt.Errorf("second stage: %w", err)
			}
			return nil
		}),
		check(func(c RunConfig) error {
			if !c.Method.Valid() {
				return fmt.Errorf("invalid method %v", c.Method)
			}
			return nil
		}),
		check(func(c RunConfig) error {
			if !c.DataFormat.Valid() {
				return fmt.Errorf("invalid data format %v", c.DataFormat)
			}
			return nil
		}),
		check(func(c RunConfig) error {
			if c.Encryption == nil || c.Encryption.Verification == nil {
				return nil
			}
			v := c.Encryption.Verification
			if v.SignatureKey == "" || v.PayloadKey == "" {
				return errors.New("verification needs a signature key and a payload key")
			}
			if v.PublicKeyPEM == "" {
				return errors.New("verification needs a public key")
			}
			return nil
		}),
	)
	return res.Err()
}
