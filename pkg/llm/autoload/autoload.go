// Package autoload registers every built-in LLM provider.
package autoload

import (
	_ "toolagent/pkg/llm/claude"
	_ "toolagent/pkg/llm/compat"
	_ "toolagent/pkg/llm/gemini"
	_ "toolagent/pkg/llm/ollama"
	_ "toolagent/pkg/llm/openailm"
)
