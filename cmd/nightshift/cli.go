// Package main is the nightshift command-line client. It works on the task
// store directly, so it needs no running daemon except for execution.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config  string           `help:"Config file path" env:"NIGHTSHIFT_CONFIG" type:"path"`
	JSON    bool             `help:"Print JSON instead of text"`
	Version kong.VersionFlag `short:"V" help:"Show version information"`

	Submit  SubmitCmd  `cmd:"" help:"Stage a new task"`
	Revise  ReviseCmd  `cmd:"" help:"Replace the plan of a staged task"`
	Approve ApproveCmd `cmd:"" help:"Commit a staged task for execution"`
	Cancel  CancelCmd  `cmd:"" help:"Cancel a task"`
	List    ListCmd    `cmd:"" help:"List tasks, newest first"`
	Show    ShowCmd    `cmd:"" help:"Show one task"`
	Logs    LogsCmd    `cmd:"" help:"Print a task's log"`
	Pause   PauseCmd   `cmd:"" help:"Suspend a running task"`
	Resume  ResumeCmd  `cmd:"" help:"Continue a paused task"`
	Kill    KillCmd    `cmd:"" help:"Terminate a running task"`
	Delete  DeleteCmd  `cmd:"" help:"Delete one task that is not running"`
	Clear   ClearCmd   `cmd:"" help:"Delete every task that is not running"`
	Run     RunCmd     `cmd:"" help:"Run the scheduler in the foreground"`
}

// PlanFlags describe a plan inline when no plan file is given.
type PlanFlags struct {
	Plan       string   `short:"p" type:"existingfile" help:"YAML plan file"`
	Prompt     string   `help:"Prompt for the agent (defaults to the description)"`
	Capability []string `short:"c" help:"Capability the agent may use (repeatable)"`
	Write      []string `short:"w" help:"Absolute path the agent may write (repeatable)"`
	WorkDir    string   `help:"Directory to run in (defaults to the first --write path)"`
	VCS        bool     `name:"vcs" help:"Task needs version-control credentials"`
}

// SubmitCmd stages a task.
type SubmitCmd struct {
	Description string `arg:"" optional:"" help:"What the task should do"`
	PlanFlags   `embed:""`
	Planner     bool `help:"Ask the configured planner for the plan"`
	Approve     bool `short:"y" help:"Approve immediately"`
}

type ReviseCmd struct {
	ID        string `arg:"" help:"Task id"`
	PlanFlags `embed:""`
}

type ApproveCmd struct {
	ID string `arg:"" help:"Task id"`
}

type CancelCmd struct {
	ID string `arg:"" help:"Task id"`
}

type ListCmd struct {
	Status string `short:"s" help:"Only tasks in this status"`
}

type ShowCmd struct {
	ID   string `arg:"" help:"Task id"`
	YAML bool   `name:"yaml" help:"Print the plan as an editable plan file"`
}

type LogsCmd struct {
	ID     string `arg:"" help:"Task id"`
	Follow bool   `short:"f" help:"Keep printing until the task finishes"`
}

type PauseCmd struct {
	ID string `arg:"" help:"Task id"`
}

type ResumeCmd struct {
	ID string `arg:"" help:"Task id"`
}

type KillCmd struct {
	ID string `arg:"" help:"Task id"`
}

type DeleteCmd struct {
	ID string `arg:"" help:"Task id"`
}

type ClearCmd struct {
	Yes bool `short:"y" help:"Confirm deletion"`
}

// RunCmd runs the worker pool until interrupted.
type RunCmd struct {
	Workers int `help:"Override scheduler.workers"`
}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version + " (" + commit + ")",
	}
}
