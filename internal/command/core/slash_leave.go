package core

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"maestro/internal/command"
)

// LeaveCommand disconnects every worker from the guild's voice channel.
type LeaveCommand struct {
	Host command.VoiceHost
}

func (c *LeaveCommand) Name() string        { return "leave" }
func (c *LeaveCommand) Description() string { return "Disconnect all voice workers" }
func (c *LeaveCommand) Group() string       { return "core" }
func (c *LeaveCommand) Category() string    { return "⚙️ Core" }

func (c *LeaveCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
	}
}

func (c *LeaveCommand) Run(ctx interface{}) error {
	sc, ok := ctx.(*command.SlashContext)
	if !ok {
		return nil
	}
	r := c.Host.Coordinator().DisconnectAll(context.Background(), sc.Event.GuildID)
	return command.RespondResult(sc.Session, sc.Event, r)
}
