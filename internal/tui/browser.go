package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/pgsave/internal/storage"
	"github.com/tis24dev/pgsave/pkg/utils"
)

var browserHeader = []string{"LABEL", "TYPE", "TIMESTAMP", "SIZE", "WAL START", "WAL STOP", "STATE"}

// Browser is the interactive backup inventory viewer: a selectable table of
// snapshots with a detail pane for the highlighted one.
type Browser struct {
	app     *App
	stanza  string
	backups []*storage.Manifest

	table  *tview.Table
	detail *tview.TextView
}

// NewBrowser builds the browser over an already-loaded inventory, oldest
// first as ListBackups returns it.
func NewBrowser(stanza string, backups []*storage.Manifest) *Browser {
	b := &Browser{
		app:     NewApp(),
		stanza:  stanza,
		backups: backups,
	}
	b.build()
	return b
}

// Run blocks until the user quits the browser.
func (b *Browser) Run() error {
	return b.app.Run()
}

func (b *Browser) build() {
	b.table = tview.NewTable().
		SetFixed(1, 0).
		SetSelectable(true, false)
	b.table.SetBorder(true).
		SetTitle(fmt.Sprintf(" Backups: %s ", b.stanza)).
		SetTitleColor(PostgresBlue).
		SetBorderColor(PostgresBlue)

	for col, h := range browserHeader {
		b.table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(PostgresBlue).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false).
			SetExpansion(1))
	}
	for row, cells := range browserRows(b.backups) {
		state := cells[len(cells)-1]
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetTextColor(White)
			if col == len(cells)-1 {
				cell.SetTextColor(StatusColor(state))
			}
			b.table.SetCell(row+1, col, cell)
		}
	}

	b.detail = tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(true)
	b.detail.SetBorder(true).
		SetTitle(" Detail ").
		SetTitleColor(PostgresBlue).
		SetBorderColor(PostgresBlue)

	b.table.SetSelectionChangedFunc(func(row, col int) {
		b.showDetail(row - 1)
	})
	b.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape,
			event.Rune() == 'q':
			b.app.Stop()
			return nil
		}
		return event
	})

	if len(b.backups) > 0 {
		// Land on the newest snapshot.
		b.table.Select(len(b.backups), 0)
		b.showDetail(len(b.backups) - 1)
	}

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(b.table, 0, 3, true).
		AddItem(b.detail, 0, 2, false).
		AddItem(tview.NewTextView().
			SetText(" ↑/↓ select   q/Esc quit ").
			SetTextColor(DarkGray), 1, 0, false)

	b.app.SetRoot(layout, true)
}

func (b *Browser) showDetail(idx int) {
	if idx < 0 || idx >= len(b.backups) {
		return
	}
	b.detail.SetText(detailText(b.backups[idx]))
}

// browserRows renders the inventory into table cells, one row per snapshot.
func browserRows(backups []*storage.Manifest) [][]string {
	rows := make([][]string, 0, len(backups))
	for _, m := range backups {
		state := "consistent"
		if !m.Consistent {
			state = "inconsistent"
		}
		rows = append(rows, []string{
			m.Label,
			strings.ToUpper(m.Type.String()),
			m.Timestamp.Format("2006-01-02 15:04:05"),
			utils.FormatBytes(m.TotalBytes()),
			m.WALStart,
			m.WALStop,
			StatusSymbol(state) + " " + state,
		})
	}
	return rows
}

// detailText renders the detail pane for one snapshot.
func detailText(m *storage.Manifest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Label:      %s\n", m.Label)
	fmt.Fprintf(&sb, "Type:       %s\n", m.Type)
	if m.Prior != "" {
		fmt.Fprintf(&sb, "Prior:      %s\n", m.Prior)
	}
	fmt.Fprintf(&sb, "Taken:      %s\n", m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Files:      %d (%s)\n", len(m.Files), utils.FormatBytes(m.TotalBytes()))
	if m.WALStart != "" {
		fmt.Fprintf(&sb, "WAL:        %s .. %s\n", m.WALStart, m.WALStop)
	}

	var policy []string
	if m.Compress {
		policy = append(policy, "compress")
	}
	if m.Hardlink {
		policy = append(policy, "hardlink")
	}
	if m.Checksum {
		policy = append(policy, "checksum")
	}
	if len(policy) > 0 {
		fmt.Fprintf(&sb, "Policy:     %s\n", strings.Join(policy, ", "))
	}
	if !m.Consistent {
		fmt.Fprintf(&sb, "\n%s taken without start/stop bracket; restore requires manual WAL replay\n", SymbolWarning)
	}
	return sb.String()
}
