package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tsusu/internal/ipc"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

var stateCaser = cases.Title(language.Und)

func renderProcessTable(rows []ipc.ProcessInfo, now time.Time) string {
	body := make([][]string, 0, len(rows))
	for _, row := range rows {
		pid := "-"
		if row.PID > 0 {
			pid = strconv.Itoa(row.PID)
		}
		uptime := "-"
		if !row.Since.IsZero() {
			uptime = formatUptime(now.Sub(row.Since))
		}
		body = append(body, []string{row.Name, pid, formatState(row.State), uptime})
	}
	return renderTable(
		[]string{"Name", "PID", "State", "Uptime"},
		body,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight},
	)
}

func formatState(state string) string {
	state = strings.TrimSpace(state)
	if state == "" {
		return "Unknown"
	}
	return stateCaser.String(strings.ToLower(strings.ReplaceAll(state, "_", " ")))
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	hours := int(d / time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)
	seconds := int(d%time.Minute) / int(time.Second)
	switch {
	case hours >= 24:
		return fmt.Sprintf("%dd%dh", hours/24, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
