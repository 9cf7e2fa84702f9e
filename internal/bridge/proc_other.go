//go:build !unix

package bridge

import "os/exec"

// configureProcessGroup keeps exec's default Cancel, which kills only the
// worker process itself.
func configureProcessGroup(cmd *exec.Cmd) {}
