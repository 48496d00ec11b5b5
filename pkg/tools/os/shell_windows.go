//go:build windows

package os

func shellCommand(command string) (string, []string) {
	return "cmd", []string{"/C", command}
}
