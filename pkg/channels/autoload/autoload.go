// Package autoload registers every built-in channel factory.
package autoload

import (
	_ "toolagent/pkg/channels/telegram"
	_ "toolagent/pkg/channels/web"
)
