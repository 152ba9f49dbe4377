package main

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	Service    string
	LogLevel   string
}

// overrides maps explicitly set flags onto config keys.
func (g GlobalFlags) overrides() map[string]any {
	o := map[string]any{}
	if g.Service != "" {
		o["service"] = g.Service
	}
	if g.LogLevel != "" {
		o["log.slog.level"] = g.LogLevel
	}
	return o
}

type RestartFlags struct {
	JSON bool
}

type StatusFlags struct {
	JSON bool
}
