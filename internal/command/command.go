package command

import (
	"github.com/bwmarrin/discordgo"

	"maestro/internal/coordinator"
	"maestro/internal/storage"
)

// Command is one user-facing command. Concrete commands also implement
// SlashProvider so the bot can register their definitions.
type Command interface {
	Name() string
	Description() string
	Group() string
	Category() string
	Run(ctx interface{}) error
}

// SlashProvider supplies the slash-command definition to register.
type SlashProvider interface {
	SlashDefinition() *discordgo.ApplicationCommand
}

// VoiceHost is what commands need from the bot: the coordinator that drives
// the workers, and channel resolution for the invoking user.
type VoiceHost interface {
	Coordinator() *coordinator.Coordinator
	ResolveTargetChannel(guildID, userID string) (string, error)
}

// SlashContext is passed to Run for slash interactions.
type SlashContext struct {
	Session *discordgo.Session
	Event   *discordgo.InteractionCreate
	Storage *storage.Storage
	Host    VoiceHost
}
