package domain

// CommandDef describes a slash command available to the user.
type CommandDef struct {
	Name        string
	Usage       string
	Description string
	Group       string // display group for /help
}

// CommandDefs is the single source of truth for all slash commands.
var CommandDefs = []CommandDef{
	// Session
	{Name: "/session", Usage: "/session new [title]", Description: "start a new session", Group: "session"},
	{Name: "/session", Usage: "/session list [n]", Description: "list recent sessions", Group: "session"},
	{Name: "/session", Usage: "/session name <title>", Description: "rename current session", Group: "session"},
	{Name: "/session", Usage: "/session resume <id-or-name>", Description: "switch to another session", Group: "session"},
	{Name: "/session", Usage: "/session fork", Description: "fork the current session", Group: "session"},
	// Checkpoints
	{Name: "/checkpoint", Usage: "/checkpoint list [n]", Description: "list recent checkpoints", Group: "checkpoint"},
	{Name: "/checkpoint", Usage: "/checkpoint rewind <id>", Description: "restore files tracked by a checkpoint", Group: "checkpoint"},
	{Name: "/rewind", Usage: "/rewind <id>", Description: "shorthand for /checkpoint rewind", Group: "checkpoint"},
	// Voice
	{Name: "/voice", Usage: "/voice start [source] [flags]", Description: "start voice ingress (microphone or loopback)", Group: "voice"},
	{Name: "/voice", Usage: "/voice status", Description: "show voice session status", Group: "voice"},
	{Name: "/voice", Usage: "/voice devices", Description: "list capture devices", Group: "voice"},
	{Name: "/voice", Usage: "/voice events [n]", Description: "show recent transcription events", Group: "voice"},
	{Name: "/voice", Usage: "/voice stop", Description: "stop voice ingress", Group: "voice"},
	// General
	{Name: "/help", Usage: "/help", Description: "show this help", Group: "general"},
}

// CommandGroups defines the display order and labels for help groups.
var CommandGroups = []struct {
	Key   string
	Label string
}{
	{"session", "Sessions"},
	{"checkpoint", "Checkpoints"},
	{"voice", "Voice"},
	{"general", "General"},
}
