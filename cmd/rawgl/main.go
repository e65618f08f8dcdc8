//go:build glfw

// Command rawgl renders through halcore into an OpenGL context that the
// application creates and owns with GLFW.
//
// Build with -tags glfw. Minimizing the window suspends rendering and
// restoring it resumes on the same window.
package main

import (
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
	"github.com/gogpu/halcore/backend/soft"
)

func init() {
	// GLFW and GL contexts are bound to the main thread.
	runtime.LockOSThread()
}

// glfwBinder makes the window's context current on the calling thread.
type glfwBinder struct{}

func (glfwBinder) MakeCurrent(_, window any) error {
	w, ok := window.(*glfw.Window)
	if !ok {
		return errors.New("rawgl: window is not a *glfw.Window")
	}
	w.MakeContextCurrent()
	return nil
}

func (glfwBinder) ReleaseCurrent() error {
	glfw.DetachCurrentContext()
	return nil
}

func main() {
	var (
		gles   = flag.Bool("gles", false, "request an OpenGL ES 3.0 context")
		frames = flag.Int("frames", 0, "exit after this many frames (0 runs until closed)")
		debug  = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	halcore.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := glfw.Init(); err != nil {
		log.Fatalf("rawgl: init GLFW: %v", err)
	}
	defer glfw.Terminate()

	opts := halcore.ExternalOptions{GLBackend: gputypes.GLBackendGL}
	if *gles {
		glfw.WindowHint(glfw.ClientAPI, glfw.OpenGLESAPI)
		glfw.WindowHint(glfw.ContextVersionMajor, 3)
		glfw.WindowHint(glfw.ContextVersionMinor, 0)
		opts.GLBackend = gputypes.GLBackendGLES
	} else {
		glfw.WindowHint(glfw.ContextVersionMajor, 3)
		glfw.WindowHint(glfw.ContextVersionMinor, 3)
		glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	}
	win, err := glfw.CreateWindow(640, 480, "halcore rawgl", nil, nil)
	if err != nil {
		log.Fatalf("rawgl: create window: %v", err)
	}
	defer win.Destroy()

	ctx := halcore.NewExternalContext(glfwBinder{})
	if err := ctx.HandleLifecycle(iconifyEvent(false, win, win)); err != nil {
		log.Fatalf("rawgl: %v", err)
	}

	adapter, err := halcore.NewExternalAdapter(soft.New(), glfw.GetProcAddress, opts)
	if err != nil {
		log.Fatalf("rawgl: %v", err)
	}
	dev, err := adapter.Open(0, gputypes.Limits{})
	if err != nil {
		log.Fatalf("rawgl: open device: %v", err)
	}
	defer dev.Destroy()

	w, h := win.GetFramebufferSize()
	a, err := newApp(ctx, dev, uint32(w), uint32(h))
	if err != nil {
		log.Fatalf("rawgl: %v", err)
	}
	defer a.release()

	win.SetIconifyCallback(func(win *glfw.Window, iconified bool) {
		if err := a.handle(iconifyEvent(iconified, win, win)); err != nil {
			halcore.Logger().Warn("rawgl: lifecycle", "err", err)
		}
	})
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		if err := a.resize(uint32(width), uint32(height)); err != nil {
			halcore.Logger().Warn("rawgl: resize", "err", err)
		}
	})

	for !win.ShouldClose() {
		glfw.PollEvents()
		drawn, err := a.draw()
		if err != nil {
			log.Fatalf("rawgl: frame %d: %v", a.frame, err)
		}
		if !drawn {
			glfw.WaitEvents()
			continue
		}
		win.SwapBuffers()
		if *frames > 0 && a.frame >= uint64(*frames) {
			win.SetShouldClose(true)
		}
	}
	halcore.Logger().Info("rawgl: done", "frames", a.frame)
}
