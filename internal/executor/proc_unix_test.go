//go:build unix

package executor

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeftoverGroup(t *testing.T) {
	tests := []struct {
		name    string
		command string
		run     bool
		want    bool
	}{
		{"not started", "true", false, false},
		{"clean exit", "true", true, false},
		{"failed exit", "false", true, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cmd := exec.Command(test.command)
			configureProcessGroup(cmd)
			var runErr error
			if test.run {
				runErr = cmd.Run()
			}
			assert.Equal(t, test.want, leftoverGroup(cmd, runErr))
		})
	}
}
