// Package sysaction is the only place in the daemon that shells out: it
// wraps mounting the FunctionFS gadget mountpoint and starting or
// stopping the MTP responder service.
package sysaction

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner performs the daemon's external system actions.
type Runner interface {
	MountFunctionFS(ctx context.Context) error
	SetMTPService(ctx context.Context, running bool) error
}

// ExecRunner is the real Runner, invoking mount(8) and systemctl --user.
type ExecRunner struct {
	FunctionFSPath string
	MTPUnit        string
}

// NewExecRunner returns a Runner using the given FunctionFS mountpoint and
// systemd user unit name for the MTP responder.
func NewExecRunner(functionFSPath, mtpUnit string) *ExecRunner {
	if mtpUnit == "" {
		mtpUnit = "buteo-mtp.service"
	}
	return &ExecRunner{FunctionFSPath: functionFSPath, MTPUnit: mtpUnit}
}

func (r *ExecRunner) MountFunctionFS(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "mount", "-t", "functionfs", "mtp", r.FunctionFSPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sysaction: mount functionfs at %s: %w: %s", r.FunctionFSPath, err, out)
	}
	return nil
}

func (r *ExecRunner) SetMTPService(ctx context.Context, running bool) error {
	action := "stop"
	if running {
		action = "start"
	}
	cmd := exec.CommandContext(ctx, "systemctl", "--user", action, r.MTPUnit)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sysaction: systemctl --user %s %s: %w: %s", action, r.MTPUnit, err, out)
	}
	return nil
}

// FakeRunner is the test double used by backend tests; it records
// invocations instead of touching the host.
type FakeRunner struct {
	Mounted   bool
	MTPCalls  []bool
	FailMount bool
	FailMTP   bool
}

func (f *FakeRunner) MountFunctionFS(ctx context.Context) error {
	if f.FailMount {
		return fmt.Errorf("sysaction: fake mount failure")
	}
	f.Mounted = true
	return nil
}

func (f *FakeRunner) SetMTPService(ctx context.Context, running bool) error {
	if f.FailMTP {
		return fmt.Errorf("sysaction: fake mtp service failure")
	}
	f.MTPCalls = append(f.MTPCalls, running)
	return nil
}
