// Package tui implements the interactive repository browser shown by
// `pgsave info --interactive`.
package tui

import (
	"context"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var (
	abortContextMu sync.RWMutex
	abortContext   context.Context
)

// SetAbortContext registers a process-wide context used to stop a running
// browser when the context is canceled (e.g. Ctrl+C or SIGTERM), so the
// terminal is restored on the same teardown path every other operation
// uses.
func SetAbortContext(ctx context.Context) {
	abortContextMu.Lock()
	abortContext = ctx
	abortContextMu.Unlock()
}

func getAbortContext() context.Context {
	abortContextMu.RLock()
	ctx := abortContext
	abortContextMu.RUnlock()
	return ctx
}

// App wraps tview.Application with pgsave-specific configuration
type App struct {
	*tview.Application
	stopHook func()
}

// NewApp creates a new TUI application with the Postgres theme
func NewApp() *App {
	app := &App{
		Application: tview.NewApplication(),
	}

	// Enable mouse support for easier navigation/clicks.
	app.EnableMouse(true)

	// Set global theme colors
	tview.Styles.PrimitiveBackgroundColor = tcell.ColorBlack
	tview.Styles.ContrastBackgroundColor = tcell.ColorBlack
	tview.Styles.MoreContrastBackgroundColor = tcell.ColorDarkSlateGray
	tview.Styles.BorderColor = PostgresBlue
	tview.Styles.TitleColor = PostgresBlue
	tview.Styles.GraphicsColor = PostgresBlue
	tview.Styles.PrimaryTextColor = tcell.ColorWhite
	tview.Styles.SecondaryTextColor = tcell.ColorLightGray
	tview.Styles.TertiaryTextColor = tcell.ColorGray
	tview.Styles.InverseTextColor = tcell.ColorBlack
	tview.Styles.ContrastSecondaryTextColor = tcell.ColorWhite

	if ctx := getAbortContext(); ctx != nil {
		go func() {
			<-ctx.Done()
			app.Stop()
		}()
	}
	return app
}

func (a *App) Stop() {
	if a == nil {
		return
	}
	if a.stopHook != nil {
		a.stopHook()
		return
	}
	if a.Application != nil {
		a.Application.Stop()
	}
}
