package conversation

// Command steers what context a conversation turn draws on.
type Command string

const (
	CommandDefault Command = "default"
	CommandGeneral Command = "general"
	CommandNotes   Command = "notes"
	CommandOnline  Command = "online"
	CommandWebpage Command = "webpage"
)

// HasCommand reports whether cmd is present in commands.
func HasCommand(commands []Command, cmd Command) bool {
	for _, c := range commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// OnlyCommand reports whether commands is exactly [cmd].
func OnlyCommand(commands []Command, cmd Command) bool {
	return len(commands) == 1 && commands[0] == cmd
}
