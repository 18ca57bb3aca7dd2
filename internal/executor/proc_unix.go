//go:build unix

package executor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the script in its own process group so that a
// timeout or a cancellation also kills the processes it spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}

// killProcessGroup removes whatever a failed, timed out or cancelled script
// left behind. The leader is already reaped here and the group id stays
// reserved only while a member is alive, so clean exits are left alone.
func killProcessGroup(cmd *exec.Cmd, runErr error) {
	if !leftoverGroup(cmd, runErr) {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func leftoverGroup(cmd *exec.Cmd, runErr error) bool {
	if cmd.Process == nil {
		return false
	}
	return runErr != nil || cmd.ProcessState == nil || !cmd.ProcessState.Success()
}
