package tui

import (
	"github.com/gdamore/tcell/v2"
)

// Postgres color palette
var (
	// Primary Postgres color
	PostgresBlue = tcell.NewRGBColor(51, 103, 145) // #336791

	// Neutral colors
	SlateDark  = tcell.NewRGBColor(40, 44, 52)    // #282C34
	SlateGray  = tcell.NewRGBColor(128, 128, 128) // #808080
	SlateLight = tcell.NewRGBColor(200, 200, 200) // #C8C8C8

	// Status colors
	SuccessGreen  = tcell.NewRGBColor(34, 197, 94)  // #22C55E
	ErrorRed      = tcell.NewRGBColor(239, 68, 68)  // #EF4444
	WarningYellow = tcell.NewRGBColor(234, 179, 8)  // #EAB308
	InfoBlue      = tcell.NewRGBColor(59, 130, 246) // #3B82F6

	// Additional UI colors
	White     = tcell.ColorWhite
	Black     = tcell.ColorBlack
	LightGray = tcell.ColorLightGray
	DarkGray  = tcell.ColorDarkGray
)

// Symbols and icons
const (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolWarning  = "⚠"
	SymbolSelected = "▸"
	SymbolBullet   = "•"
)

// StatusColor returns the appropriate color for a status
func StatusColor(status string) tcell.Color {
	switch status {
	case "success", "ok", "consistent":
		return SuccessGreen
	case "error", "failed", "inconsistent":
		return ErrorRed
	case "warning", "warn":
		return WarningYellow
	case "info", "pending", "running":
		return InfoBlue
	default:
		return LightGray
	}
}

// StatusSymbol returns the appropriate symbol for a status
func StatusSymbol(status string) string {
	switch status {
	case "success", "ok", "consistent":
		return SymbolSuccess
	case "error", "failed", "inconsistent":
		return SymbolError
	case "warning", "warn":
		return SymbolWarning
	default:
		return SymbolBullet
	}
}
