//go:build !windows

package os

func shellCommand(command string) (string, []string) {
	return "sh", []string{"-c", command}
}
