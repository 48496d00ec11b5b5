package tools

import (
	"log/slog"
)

// BuiltinOptions selects the optional built-in tools.
type BuiltinOptions struct {
	// EnableShell registers the shell tool.
	EnableShell bool
	// FileRoot resolves relative read_file paths.
	FileRoot string
}

// RegisterBuiltins registers current_time, read_file, the flight tools,
// shell (when enabled) and help, in that order.
func RegisterBuiltins(r *ToolRegistry, opts BuiltinOptions) {
	r.Register(NewCurrentTimeTool(nil))
	r.Register(NewReadFileTool(opts.FileRoot))
	RegisterFlightTools(r)
	if opts.EnableShell {
		r.Register(NewShellTool(nil))
	}
	r.Register(NewHelpTool(r))

	slog.Info("Built-in tools registered", "count", r.Len())
}

// RegisterFlightTools registers get_flight_number and get_ticket_price.
func RegisterFlightTools(r *ToolRegistry) {
	r.Register(&FlightNumberTool{})
	r.Register(&TicketPriceTool{})
}
