package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nightshift/backend/internal/domain"
)

func (rt *runtime) printJSON(v interface{}) error {
	enc := json.NewEncoder(rt.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (rt *runtime) printTask(t *domain.Task) error {
	if rt.json {
		return rt.printJSON(t)
	}
	_, err := fmt.Fprintf(rt.out, "%s\t%s\t%s\n", t.ID, t.Status, oneLine(t.Description, 60))
	return err
}

func (rt *runtime) printTasks(tasks []domain.Task) error {
	if rt.json {
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return rt.printJSON(tasks)
	}
	w := tabwriter.NewWriter(rt.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.CreatedAt.Local().Format(time.DateTime), oneLine(t.Description, 50))
	}
	return w.Flush()
}

func (rt *runtime) printDetail(t *domain.Task) error {
	if rt.json {
		return rt.printJSON(t)
	}
	w := tabwriter.NewWriter(rt.out, 0, 0, 2, ' ', 0)
	row := func(k string, v interface{}) { fmt.Fprintf(w, "%s:\t%v\n", k, v) }

	row("ID", t.ID)
	row("Status", t.Status)
	row("Description", t.Description)
	if t.Prompt != "" {
		row("Prompt", oneLine(t.Prompt, 100))
	}
	row("Capabilities", strings.Join(t.Capabilities, ", "))
	row("Writable", strings.Join(t.WritablePaths, ", "))
	if t.WorkDir != "" {
		row("Work dir", t.WorkDir)
	}
	row("Needs VCS", t.NeedsVCS)
	row("Created", t.CreatedAt.Local().Format(time.DateTime))
	if t.StartedAt != nil {
		row("Started", t.StartedAt.Local().Format(time.DateTime))
	}
	if t.FinishedAt != nil {
		row("Finished", t.FinishedAt.Local().Format(time.DateTime))
	}
	if t.PID != nil {
		row("PID", *t.PID)
	}
	if t.Error != nil {
		row("Error", *t.Error)
	}
	if r := t.Result; r != nil {
		row("Exit code", r.ExitCode)
		row("Duration", r.Duration.Round(time.Millisecond))
		row("Tokens", r.Usage.TotalTokens())
		row("Sandboxed", r.Sandboxed)
		if !r.Effects.Empty() {
			row("Created files", strings.Join(r.Effects.Created, ", "))
			row("Modified files", strings.Join(r.Effects.Modified, ", "))
			row("Deleted files", strings.Join(r.Effects.Deleted, ", "))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if t.Result != nil && t.Result.Text != "" {
		_, err := fmt.Fprintf(rt.out, "\n%s\n", t.Result.Text)
		return err
	}
	return nil
}

func (rt *runtime) printLog(l domain.TaskLog) error {
	if rt.json {
		return json.NewEncoder(rt.out).Encode(l)
	}
	_, err := fmt.Fprintf(rt.out, "%s %-5s %s\n", l.CreatedAt.Local().Format(time.TimeOnly), l.Level, l.Message)
	return err
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
