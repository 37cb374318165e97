package keyboard

import (
	"context"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

// StatusFunc returns the one-line status shown in the window.
type StatusFunc func() string

// Window is the ebiten game that owns the input window. It renders no camera
// imagery; it only keeps the window focused for keyboard input.
type Window struct {
	ctx      context.Context
	keyboard *Keyboard
	status   StatusFunc
	width    int
	height   int
}

// NewWindow creates a window that feeds kb until ctx is cancelled.
func NewWindow(ctx context.Context, kb *Keyboard, width, height int, status StatusFunc) *Window {
	return &Window{ctx: ctx, keyboard: kb, status: status, width: width, height: height}
}

// Update implements ebiten.Game.
func (w *Window) Update() error {
	select {
	case <-w.ctx.Done():
		return ebiten.Termination
	default:
	}
	w.keyboard.Collect()
	return nil
}

// Draw implements ebiten.Game.
func (w *Window) Draw(screen *ebiten.Image) {
	screen.Fill(color.Black)
	if w.status != nil {
		ebitenutil.DebugPrint(screen, w.status())
	}
}

// Layout implements ebiten.Game.
func (w *Window) Layout(_, _ int) (int, int) {
	return w.width, w.height
}

// Run opens the window and blocks until it is closed or ctx is cancelled.
// Must be called from the main goroutine.
func (w *Window) Run(title string) error {
	ebiten.SetWindowSize(w.width, w.height)
	ebiten.SetWindowTitle(title)
	ebiten.SetTPS(60)
	return ebiten.RunGame(w)
}
