// Copyright 2024 The vemu Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package emulator wires the Engine Adapter, Memory Manager, Heap,
// Dispatcher-resolved arch/os/loader/register components, and syscall
// table into one bootable Instance (§5, §6).
package emulator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/vemu/vemu/pkg/archos"
	"github.com/vemu/vemu/pkg/dispatch"
	"github.com/vemu/vemu/pkg/engine"
	"github.com/vemu/vemu/pkg/heap"
	"github.com/vemu/vemu/pkg/memory"
	"github.com/vemu/vemu/pkg/sniff"
	"github.com/vemu/vemu/pkg/vmerror"
)

// Default layout constants for the heap window carved out of the guest
// address space at boot. Real images typically relocate this via an
// Option; these defaults suit a small 64-bit Linux ELF.
const (
	DefaultHeapStart = 0x40000000
	DefaultHeapEnd   = 0x50000000
)

// Instance is a fully wired emulator: the product of resolving and
// constructing every component the dispatcher knows about, against one
// guest image.
type Instance struct {
	Arch     archos.Arch
	OS       archos.OS
	ArchBits int
	Entry    uint64

	Engine    engine.Adapter
	Memory    *memory.Manager
	Heap      *heap.Heap
	ArchCore  dispatch.ArchComponent
	OSCore    dispatch.OSComponent
	Loader    dispatch.LoaderComponent
	Registers dispatch.RegisterFile
	Syscalls  map[uint64]string

	log *logrus.Entry
}

// Option customizes New's boot sequence.
type Option func(*bootConfig)

type bootConfig struct {
	arch      archos.Arch
	os        archos.OS
	overrides *dispatch.Overrides
	heapStart uint64
	heapEnd   uint64
	log       *logrus.Entry
}

// WithArchOS skips sniffing and forces the given architecture and OS.
func WithArchOS(arch archos.Arch, os archos.OS) Option {
	return func(c *bootConfig) { c.arch, c.os = arch, os }
}

// WithOverrides installs dispatcher overrides for this boot.
func WithOverrides(o *dispatch.Overrides) Option {
	return func(c *bootConfig) { c.overrides = o }
}

// WithHeap overrides the default heap window.
func WithHeap(start, end uint64) Option {
	return func(c *bootConfig) { c.heapStart, c.heapEnd = start, end }
}

// WithLogger installs the logrus entry the emulator and its Heap log
// through, via .WithField("component", ...). The Memory Manager, the
// dispatcher and the OS personalities log through entries of their own
// derived from the standard logger, not through this one.
func WithLogger(log *logrus.Entry) Option {
	return func(c *bootConfig) { c.log = log }
}

// New boots an Instance from image. If WithArchOS was not given, image
// is classified with sniff.Sniff first (§4.5).
func New(image io.ReaderAt, opts ...Option) (*Instance, error) {
	cfg := bootConfig{heapStart: DefaultHeapStart, heapEnd: DefaultHeapEnd}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logrus.NewEntry(logrus.StandardLogger())
	}
	log := cfg.log.WithField("component", "emulator")

	if cfg.arch == archos.ArchInvalid || cfg.os == archos.OSInvalid {
		res, err := sniff.Sniff(image)
		if err != nil {
			return nil, fmt.Errorf("sniff image: %w", err)
		}
		cfg.arch, cfg.os = res.Arch, res.OS
		log.WithFields(logrus.Fields{"arch": archos.ArchString(res.Arch), "os": archos.OSString(res.OS)}).Info("classified image")
	}

	bits, err := archos.Bits(cfg.arch)
	if err != nil {
		return nil, err
	}

	eng := engine.NewSimulated()
	engCtx := dispatch.EngineContext{Arch: cfg.arch, OS: cfg.os, ArchBits: bits, Engine: eng}

	mem, err := dispatch.SetupMemory(engCtx)
	if err != nil {
		return nil, fmt.Errorf("setup memory: %w", err)
	}

	regs, err := dispatch.SetupRegister(engCtx)
	if err != nil {
		return nil, fmt.Errorf("setup register: %w", err)
	}

	buildCtx := dispatch.BuildContext{EngineContext: engCtx, Memory: mem}

	archCore, err := dispatch.SetupArch(buildCtx, cfg.overrides)
	if err != nil {
		return nil, fmt.Errorf("setup arch: %w", err)
	}

	osCore, err := dispatch.SetupOS(buildCtx, cfg.overrides)
	if err != nil {
		return nil, fmt.Errorf("setup os: %w", err)
	}
	mem.SetContainerLookup(osCore.FindContainingImage)

	loader, err := dispatch.SetupLoader(buildCtx, cfg.overrides)
	if err != nil {
		return nil, fmt.Errorf("setup loader: %w", err)
	}

	entry, err := loader.Load(mem, image, 0)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}

	syscalls, err := dispatch.SetupSyscallTable(cfg.arch, cfg.os)
	if err != nil {
		log.WithError(err).Debug("no syscall table registered for this (arch, os)")
		syscalls = map[uint64]string{}
	}

	h := heap.New(mem, cfg.heapStart, cfg.heapEnd, log)

	return &Instance{
		Arch:      cfg.arch,
		OS:        cfg.os,
		ArchBits:  bits,
		Entry:     entry,
		Engine:    eng,
		Memory:    mem,
		Heap:      h,
		ArchCore:  archCore,
		OSCore:    osCore,
		Loader:    loader,
		Registers: regs,
		Syscalls:  syscalls,
		log:       log,
	}, nil
}

// Run invokes fn, wrapping it the way the original framework's
// catch_KeyboardInterrupt decorator wraps a run: a panic inside fn, a
// context cancellation, or an os.Interrupt delivered to this process are
// all treated as an abnormal termination — reported to the OS
// personality and returned as an error — rather than left to crash the
// host process. No memory state is rolled back (§5): whatever fn wrote
// before stopping stays written.
func (in *Instance) Run(ctx context.Context, fn func(*Instance) error) (err error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: panic: %v", vmerror.ErrAbnormalTermination, r)
				return
			}
		}()
		done <- fn(in)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", vmerror.ErrAbnormalTermination, ctx.Err())
	case <-sigCh:
		err = fmt.Errorf("%w: interrupted", vmerror.ErrAbnormalTermination)
	}

	if err != nil {
		in.OSCore.AbnormalTermination(err)
	}
	return err
}
