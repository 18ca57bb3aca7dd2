//go:build !unix

package executor

import "os/exec"

// Process groups are not available, CommandContext kills the script only.
func configureProcessGroup(*exec.Cmd) {}

func killProcessGroup(*exec.Cmd, error) {}
