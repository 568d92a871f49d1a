//go:build !unix

package convert

import "os/exec"

// killProcessGroup keeps the default cancellation, which kills only the
// direct child. WaitDelay still bounds the wait for inherited pipes.
func killProcessGroup(*exec.Cmd) {}
