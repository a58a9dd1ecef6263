package version

// AppName and Version show up in startup logs and the status command.
var (
	AppName = "maestro"
	Version = "dev" // overridden at build time via -ldflags
)
