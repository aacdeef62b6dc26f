package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"velu/internal/domain"
)

func renderEventsTable(table *tview.Table, events []map[string]any) {
	table.Clear()
	headers := []string{"Time", "Event", "Task", "OK", "ms", "Run"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, ev := range events {
		row := i + 1
		cells := eventRow(ev)
		for col, text := range cells {
			cell := tview.NewTableCell(text)
			if col == 3 && text == "no" {
				cell.SetTextColor(tcell.ColorRed)
			}
			table.SetCell(row, col, cell)
		}
	}
}

func eventRow(ev map[string]any) []string {
	name := str(ev["event"])
	subject := str(ev["task"])
	if subject == "" && name == "pipeline" {
		subject = "job " + str(ev["job_id"])
	}
	ok := "no"
	if b, _ := ev["ok"].(bool); b {
		ok = "yes"
	}
	return []string{
		formatTS(ev["ts"]),
		name,
		subject,
		ok,
		str(ev["duration_ms"]),
		shortID(str(ev["run_id"])),
	}
}

func renderJobsTable(table *tview.Table, jobs []domain.Job, selected int64) {
	table.Clear()
	headers := []string{"Job", "Task", "Status", "Updated", "Error"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, j := range jobs {
		row := i + 1
		status := tview.NewTableCell(string(j.Status))
		switch j.Status {
		case domain.JobStatusError:
			status.SetTextColor(tcell.ColorRed)
		case domain.JobStatusDone:
			status.SetTextColor(tcell.ColorGreen)
		}
		table.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf("%d", j.ID)))
		table.SetCell(row, 1, tview.NewTableCell(j.Task))
		table.SetCell(row, 2, status)
		table.SetCell(row, 3, tview.NewTableCell(j.UpdatedAt.Local().Format("15:04:05")))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(j.LastError, 64)))
		if j.ID == selected {
			table.Select(row, 0)
		}
	}
}

func renderJobDetail(job domain.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %d  task=%s  status=%s  attempts=%d\n", job.ID, job.Task, job.Status, job.Attempts)
	fmt.Fprintf(&b, "created %s  updated %s\n",
		job.CreatedAt.Local().Format(time.DateTime), job.UpdatedAt.Local().Format(time.DateTime))
	if job.LastError != "" {
		b.WriteString("error: " + job.LastError + "\n")
	}
	if len(job.Payload) > 0 {
		b.WriteString("\npayload:\n" + indentJSON(job.Payload) + "\n")
	}
	if len(job.Result) == 0 {
		b.WriteString("\nno result yet\n")
		return b.String()
	}
	b.WriteString("\nresult:\n" + indentJSON(job.Result) + "\n")
	return b.String()
}

// indentJSON pretty-prints raw without reordering keys.
func indentJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// parsePrompt splits "name {json}" into a task name and payload. The payload
// part is optional.
func parsePrompt(input string) (string, map[string]any, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil, errors.New("empty prompt")
	}
	name, rest, _ := strings.Cut(input, " ")
	payload := map[string]any{}
	if rest = strings.TrimSpace(rest); rest != "" {
		if err := json.Unmarshal([]byte(rest), &payload); err != nil {
			return "", nil, fmt.Errorf("invalid JSON payload: %w", err)
		}
	}
	return name, payload, nil
}

func summarizeResult(name string, res map[string]any) string {
	if ok, _ := res["ok"].(bool); ok {
		return fmt.Sprintf("[green]%s ok[-]", name)
	}
	return fmt.Sprintf("[red]%s failed:[-] %s", name, trimLine(str(res["error"]), 120))
}

func formatTS(v any) string {
	f, ok := v.(float64)
	if !ok || f <= 0 {
		return "-"
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).Local().Format("15:04:05")
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

func trimLine(s string, limit int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
