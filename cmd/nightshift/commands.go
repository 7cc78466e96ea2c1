package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/plan"
)

// toPlan resolves the flags to a plan document; a plan file wins over
// inline flags.
func (f PlanFlags) toPlan(description string) (*plan.Document, error) {
	if f.Plan != "" {
		doc, err := plan.Load(f.Plan)
		if err != nil {
			return nil, err
		}
		if description != "" {
			doc.Description = description
		}
		return doc, nil
	}
	doc := &plan.Document{
		Description:   description,
		Prompt:        f.Prompt,
		Capabilities:  f.Capability,
		WritablePaths: f.Write,
		WorkDir:       f.WorkDir,
		NeedsVCS:      f.VCS,
	}
	return doc, nil
}

func (f PlanFlags) empty() bool {
	return f.Plan == "" && f.Prompt == "" && len(f.Capability) == 0 && len(f.Write) == 0 && f.WorkDir == "" && !f.VCS
}

func (c *SubmitCmd) Run(rt *runtime) error {
	ctx := context.Background()
	cfg := rt.app.Config

	var doc *plan.Document
	var err error
	switch {
	case c.Planner:
		if strings.TrimSpace(c.Description) == "" {
			return domain.NewValidationError("a description is required for the planner")
		}
		doc, err = plan.RunPlanner(ctx, cfg.Agent.Planner, c.Description, cfg.Scheduler.PlanningTimeout)
	default:
		doc, err = c.PlanFlags.toPlan(c.Description)
	}
	if err != nil {
		return err
	}

	in := doc.NewTask()
	if c.PlanFlags.empty() && !c.Planner {
		in.Plan = nil
	}
	task, err := rt.app.Tasks.Submit(ctx, in)
	if err != nil {
		return err
	}
	if c.Approve {
		approved, err := rt.app.Tasks.Approve(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("staged %s but could not approve: %w", task.ID, err)
		}
		task = approved
	}
	return rt.printTask(task)
}

func (c *ReviseCmd) Run(rt *runtime) error {
	if c.PlanFlags.empty() {
		return domain.NewValidationError("nothing to revise: pass --plan or plan flags")
	}
	doc, err := c.PlanFlags.toPlan("")
	if err != nil {
		return err
	}
	task, err := rt.app.Tasks.Revise(context.Background(), c.ID, doc.Plan())
	if err != nil {
		return err
	}
	return rt.printTask(task)
}

func (c *ApproveCmd) Run(rt *runtime) error {
	return rt.act(c.ID, rt.app.Tasks.Approve)
}

func (c *CancelCmd) Run(rt *runtime) error {
	return rt.act(c.ID, rt.app.Tasks.Cancel)
}

func (c *PauseCmd) Run(rt *runtime) error {
	return rt.act(c.ID, rt.app.Control.Pause)
}

func (c *ResumeCmd) Run(rt *runtime) error {
	return rt.act(c.ID, rt.app.Control.Resume)
}

func (c *KillCmd) Run(rt *runtime) error {
	return rt.act(c.ID, rt.app.Control.Kill)
}

func (rt *runtime) act(id string, fn func(context.Context, string) (*domain.Task, error)) error {
	task, err := fn(context.Background(), id)
	if err != nil {
		return err
	}
	return rt.printTask(task)
}

func (c *ListCmd) Run(rt *runtime) error {
	var filter *domain.TaskStatus
	if c.Status != "" {
		st, err := domain.ParseStatus(c.Status)
		if err != nil {
			return err
		}
		filter = &st
	}
	tasks, err := rt.app.Tasks.List(context.Background(), filter)
	if err != nil {
		return err
	}
	return rt.printTasks(tasks)
}

func (c *ShowCmd) Run(rt *runtime) error {
	task, err := rt.app.Tasks.Get(context.Background(), c.ID)
	if err != nil {
		return err
	}
	if c.YAML {
		out, err := plan.Render(task)
		if err != nil {
			return err
		}
		_, err = rt.out.Write(out)
		return err
	}
	return rt.printDetail(task)
}

func (c *LogsCmd) Run(rt *runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cursor uint
	for {
		task, err := rt.app.Tasks.Get(ctx, c.ID)
		if err != nil {
			return err
		}
		logs, err := rt.app.Tasks.Logs(ctx, c.ID, cursor)
		if err != nil {
			return err
		}
		for _, l := range logs {
			if err := rt.printLog(l); err != nil {
				return err
			}
			cursor = l.ID
		}
		if !c.Follow || task.Status.IsTerminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (c *DeleteCmd) Run(rt *runtime) error {
	if err := rt.app.Tasks.Delete(context.Background(), c.ID); err != nil {
		return err
	}
	if rt.json {
		return rt.printJSON(map[string]string{"deleted": c.ID})
	}
	_, err := fmt.Fprintf(rt.out, "deleted %s\n", c.ID)
	return err
}

func (c *ClearCmd) Run(rt *runtime) error {
	if !c.Yes {
		return errors.New("clear deletes every finished and queued task; pass --yes to confirm")
	}
	n, err := rt.app.Tasks.ClearAll(context.Background())
	if err != nil {
		return err
	}
	if rt.json {
		return rt.printJSON(map[string]int64{"removed": n})
	}
	_, err = fmt.Fprintf(rt.out, "removed %d tasks\n", n)
	return err
}

func (c *RunCmd) Run(rt *runtime) error {
	if c.Workers > 0 {
		rt.app.Config.Scheduler.Workers = c.Workers
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := rt.app.Scheduler()
	if err := sched.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(rt.out, "scheduler running with %d workers; Ctrl-C to stop\n", rt.app.Config.Scheduler.Workers)
	<-ctx.Done()
	sched.Stop()

	st := sched.Stats()
	fmt.Fprintf(rt.out, "stopped: %d completed, %d failed, %d cancelled\n", st.Completed, st.Failed, st.Cancelled)
	return nil
}
