package main

import (
	"context"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
)

// app draws into an adopted context while the window has a surface.
// It never binds or releases the context itself; lifecycle events go
// through ctx.
type app struct {
	ctx *halcore.ExternalContext
	dev *halcore.Device

	target *halcore.Texture
	view   *halcore.TextureView
	frame  uint64
}

func newApp(ctx *halcore.ExternalContext, dev *halcore.Device, width, height uint32) (*app, error) {
	a := &app{ctx: ctx, dev: dev}
	if err := a.resize(width, height); err != nil {
		return nil, err
	}
	return a, nil
}

// resize recreates the render target.
func (a *app) resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	tex, err := a.dev.CreateTexture(gputypes.TextureDescriptor{
		Label:  "rawgl-target",
		Size:   gputypes.Extent3D{Width: width, Height: height},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Destroy()
		return fmt.Errorf("create target view: %w", err)
	}
	a.release()
	a.target, a.view = tex, view
	return nil
}

func (a *app) release() {
	if a.target != nil {
		a.target.Destroy()
		a.target, a.view = nil, nil
	}
}

// handle forwards a window lifecycle event to the context tracker.
func (a *app) handle(ev halcore.LifecycleEvent) error {
	return a.ctx.HandleLifecycle(ev)
}

// draw renders one frame if the context is current. It reports whether a
// frame was submitted.
func (a *app) draw() (bool, error) {
	if _, ok := a.ctx.State().(halcore.Current); !ok {
		return false, nil
	}
	if a.view == nil {
		return false, nil
	}

	enc, err := a.dev.CreateCommandEncoder(a.dev.Queue(), "rawgl-frame")
	if err != nil {
		return false, err
	}
	if err := enc.BeginEncoding(); err != nil {
		return false, err
	}
	pass, err := enc.BeginRenderPass(&halcore.RenderPassDescriptor{
		Label: "clear",
		ColorAttachments: []halcore.ColorAttachment{{
			View:       a.view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: pulse(a.frame),
		}},
	})
	if err != nil {
		enc.Discard()
		return false, err
	}
	if err := pass.End(); err != nil {
		enc.Discard()
		return false, err
	}
	cb, err := enc.EndEncoding()
	if err != nil {
		return false, err
	}
	if _, err := a.dev.Queue().Submit([]*halcore.CommandBuffer{cb}); err != nil {
		return false, err
	}
	if _, err := a.dev.Poll(context.Background(), halcore.PollPoll); err != nil {
		return false, err
	}
	a.frame++
	return true, nil
}

// pulse is the clear color of a frame: a slow red-blue cycle.
func pulse(frame uint64) gputypes.Color {
	t := float64(frame%120) / 120
	s := 0.5 + 0.5*math.Sin(2*math.Pi*t)
	return gputypes.Color{R: s, G: 0.1, B: 1 - s, A: 1}
}

// iconifyEvent maps a window iconify notification to a lifecycle event.
func iconifyEvent(iconified bool, surface, window any) halcore.LifecycleEvent {
	if iconified {
		return halcore.LifecycleEvent{Kind: halcore.Suspended}
	}
	return halcore.LifecycleEvent{Kind: halcore.Resumed, Surface: surface, Window: window}
}
