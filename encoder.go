package halcore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore/internal/track"
)

// EncoderState is the lifecycle state of a CommandEncoder.
type EncoderState uint8

const (
	// EncoderInitial is the state before BeginEncoding.
	EncoderInitial EncoderState = iota
	// EncoderRecording accepts transfer commands and render passes.
	EncoderRecording
	// EncoderRenderPassActive accepts only render pass commands.
	EncoderRenderPassActive
	// EncoderEnded is terminal: the encoder produced a command buffer or
	// was discarded.
	EncoderEnded
)

// String returns the state name.
func (s EncoderState) String() string {
	switch s {
	case EncoderInitial:
		return "Initial"
	case EncoderRecording:
		return "Recording"
	case EncoderRenderPassActive:
		return "RenderPassActive"
	case EncoderEnded:
		return "Ended"
	default:
		return fmt.Sprintf("EncoderState(%d)", uint8(s))
	}
}

// resourceRef is the owner of a tracked key.
type resourceRef struct {
	buffer  *Buffer
	texture *Texture
}

// command is one recorded operation together with the barriers that
// must run before it.
type command struct {
	barriers []track.Barrier
	encode   func(RawCommandEncoder)
}

// CommandEncoder records commands into a CommandBuffer for one queue.
//
// Commands are validated as they are recorded and replayed into a
// backend encoder by EndEncoding, with usage transitions between them.
// A CommandEncoder is not safe for concurrent use; record on as many
// encoders in parallel as needed instead.
type CommandEncoder struct {
	device *Device
	queue  *Queue
	label  string
	state  EncoderState

	tracker   *track.Tracker
	commands  []command
	resources map[track.Key]resourceRef
	pass      *RenderPass
}

// State returns the current lifecycle state.
func (e *CommandEncoder) State() EncoderState { return e.state }

// BeginEncoding starts recording.
func (e *CommandEncoder) BeginEncoding() error {
	if e.state != EncoderInitial {
		return fmt.Errorf("%w: begin encoding %q in state %s", ErrInvalidState, e.label, e.state)
	}
	if err := e.device.check(); err != nil {
		return err
	}
	e.state = EncoderRecording
	return nil
}

// recording fails unless the encoder accepts transfer commands.
func (e *CommandEncoder) recording(op string) error {
	if e.state != EncoderRecording {
		return fmt.Errorf("%w: %s on encoder %q in state %s", ErrInvalidState, op, e.label, e.state)
	}
	return nil
}

func (e *CommandEncoder) useBuffer(b *Buffer) error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidUsage)
	}
	if b.device != e.device {
		return fmt.Errorf("%w: buffer %q belongs to another device", ErrInvalidUsage, b.label)
	}
	if !b.alive() {
		return fmt.Errorf("buffer %q: %w", b.label, ErrResourceDestroyed)
	}
	return nil
}

func (e *CommandEncoder) commit(scope *track.Scope, refs []resourceRef, encode func(RawCommandEncoder)) {
	for _, r := range refs {
		if r.buffer != nil {
			e.resources[r.buffer.key()] = r
		} else {
			e.resources[r.texture.key()] = r
		}
	}
	e.commands = append(e.commands, command{barriers: e.tracker.Merge(scope), encode: encode})
}

func hazard(err error) error {
	if errors.Is(err, track.ErrHazard) {
		return fmt.Errorf("%w: %w", ErrResourceHazard, err)
	}
	return err
}

// ClearBuffer zeroes [offset, offset+size). A size of 0 clears to the end
// of the buffer. Offset and size must be multiples of 4.
func (e *CommandEncoder) ClearBuffer(b *Buffer, offset, size uint64) error {
	if err := e.recording("clear buffer"); err != nil {
		return err
	}
	if err := e.useBuffer(b); err != nil {
		return err
	}
	if !b.usage.Contains(gputypes.BufferUsageCopyDst) {
		return fmt.Errorf("%w: clear buffer %q without CopyDst usage", ErrInvalidUsage, b.label)
	}
	if size == 0 && offset <= b.size {
		size = b.size - offset
	}
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: clear buffer %q range [%d, %d) not 4-byte aligned", ErrInvalidUsage, b.label, offset, offset+size)
	}
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("%w: clear buffer %q range [%d, %d) exceeds size %d", ErrInvalidUsage, b.label, offset, offset+size, b.size)
	}

	scope := track.NewScope()
	if err := scope.Use(b.key(), track.BufferRegion(offset, size), track.UsageCopyDst); err != nil {
		return hazard(err)
	}
	raw := b.raw
	e.commit(scope, []resourceRef{{buffer: b}}, func(enc RawCommandEncoder) {
		enc.ClearBuffer(raw, offset, size)
	})
	return nil
}

// CopyBufferToBuffer copies size bytes from src to dst. Offsets and size
// must be multiples of 4. Copying a buffer onto an overlapping range of
// itself fails with ErrResourceHazard.
func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset uint64, size uint64) error {
	if err := e.recording("copy buffer"); err != nil {
		return err
	}
	if err := e.useBuffer(src); err != nil {
		return err
	}
	if err := e.useBuffer(dst); err != nil {
		return err
	}
	if !src.usage.Contains(gputypes.BufferUsageCopySrc) {
		return fmt.Errorf("%w: copy source %q without CopySrc usage", ErrInvalidUsage, src.label)
	}
	if !dst.usage.Contains(gputypes.BufferUsageCopyDst) {
		return fmt.Errorf("%w: copy destination %q without CopyDst usage", ErrInvalidUsage, dst.label)
	}
	if srcOffset%4 != 0 || dstOffset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: copy %q -> %q: offsets and size must be multiples of 4", ErrInvalidUsage, src.label, dst.label)
	}
	if srcOffset > src.size || size > src.size-srcOffset {
		return fmt.Errorf("%w: copy source range [%d, %d) exceeds %q size %d", ErrInvalidUsage, srcOffset, srcOffset+size, src.label, src.size)
	}
	if dstOffset > dst.size || size > dst.size-dstOffset {
		return fmt.Errorf("%w: copy destination range [%d, %d) exceeds %q size %d", ErrInvalidUsage, dstOffset, dstOffset+size, dst.label, dst.size)
	}

	scope := track.NewScope()
	if err := scope.Use(src.key(), track.BufferRegion(srcOffset, size), track.UsageCopySrc); err != nil {
		return hazard(err)
	}
	if err := scope.Use(dst.key(), track.BufferRegion(dstOffset, size), track.UsageCopyDst); err != nil {
		return hazard(err)
	}
	if size == 0 {
		return nil
	}

	rawSrc, rawDst := src.raw, dst.raw
	region := BufferCopy{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}
	e.commit(scope, []resourceRef{{buffer: src}, {buffer: dst}}, func(enc RawCommandEncoder) {
		enc.CopyBufferToBuffer(rawSrc, rawDst, region)
	})
	return nil
}

// EndEncoding finishes recording and returns the command buffer.
// Every resource the commands reference must still be alive.
func (e *CommandEncoder) EndEncoding() (*CommandBuffer, error) {
	if err := e.recording("end encoding"); err != nil {
		return nil, err
	}
	d := e.device
	if err := d.check(); err != nil {
		return nil, err
	}
	for _, r := range e.resources {
		if r.buffer != nil && !r.buffer.alive() {
			return nil, fmt.Errorf("end encoding %q: buffer %q: %w", e.label, r.buffer.label, ErrResourceDestroyed)
		}
		if r.texture != nil && !r.texture.alive() {
			return nil, fmt.Errorf("end encoding %q: texture %q: %w", e.label, r.texture.desc.Label, ErrResourceDestroyed)
		}
	}

	raw, err := e.replay()
	e.finish()
	if err != nil {
		d.noteErr(err)
		return nil, fmt.Errorf("end encoding %q: %w", e.label, err)
	}
	return &CommandBuffer{
		device:    d,
		queue:     e.queue,
		label:     e.label,
		raw:       raw,
		usages:    e.tracker.Usages(),
		resources: e.resources,
		commands:  len(e.commands),
	}, nil
}

// replay records every command into a fresh backend encoder.
func (e *CommandEncoder) replay() (RawCommandBuffer, error) {
	enc, err := e.device.raw.CreateCommandEncoder(e.label)
	if err != nil {
		return nil, err
	}
	if err := enc.BeginEncoding(e.label); err != nil {
		enc.DiscardEncoding()
		return nil, err
	}
	for _, c := range e.commands {
		e.emitBarriers(enc, c.barriers)
		c.encode(enc)
	}
	raw, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		return nil, err
	}
	return raw, nil
}

func (e *CommandEncoder) emitBarriers(enc RawCommandEncoder, barriers []track.Barrier) {
	transition(enc, e.resources, barriers)
}

// transition records barriers for resources into enc.
func transition(enc RawCommandEncoder, resources map[track.Key]resourceRef, barriers []track.Barrier) {
	if len(barriers) == 0 {
		return
	}
	var bufs []BufferBarrier
	var texs []TextureBarrier
	for _, b := range barriers {
		r := resources[b.Key]
		switch {
		case r.buffer != nil:
			bufs = append(bufs, BufferBarrier{Buffer: r.buffer.raw, From: bufferUsage(b.From), To: bufferUsage(b.To)})
		case r.texture != nil:
			texs = append(texs, fullTextureBarrier(r.texture, textureUsage(b.From), textureUsage(b.To)))
		}
	}
	if len(bufs) > 0 {
		enc.TransitionBuffers(bufs)
	}
	if len(texs) > 0 {
		enc.TransitionTextures(texs)
	}
}

// Discard abandons the encoder without producing a command buffer.
// Discarding an ended encoder does nothing.
func (e *CommandEncoder) Discard() {
	if e.state == EncoderEnded {
		return
	}
	if e.pass != nil {
		e.pass.ended = true
		e.pass = nil
	}
	e.finish()
}

func (e *CommandEncoder) finish() {
	e.state = EncoderEnded
	e.device.encoders.Add(-1)
}

// CommandBuffer is a finished recording, submittable once to the queue
// it was recorded for.
type CommandBuffer struct {
	device    *Device
	queue     *Queue
	label     string
	raw       RawCommandBuffer
	usages    track.Usages
	resources map[track.Key]resourceRef
	commands  int
	consumed  atomic.Bool
}

// Label returns the debug label of the encoder that produced the buffer.
func (c *CommandBuffer) Label() string { return c.label }

// Commands returns the number of recorded commands.
func (c *CommandBuffer) Commands() int { return c.commands }

// Consumed reports whether the buffer has been submitted.
func (c *CommandBuffer) Consumed() bool { return c.consumed.Load() }

// Discard releases a command buffer that will not be submitted.
func (c *CommandBuffer) Discard() {
	if c.consumed.CompareAndSwap(false, true) {
		c.device.raw.FreeCommandBuffer(c.raw)
	}
}
