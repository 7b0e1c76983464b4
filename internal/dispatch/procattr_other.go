//go:build !unix

package dispatch

import "os/exec"

func setProcessGroup(_ *exec.Cmd) {}
