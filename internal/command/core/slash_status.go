package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"maestro/internal/command"
	"maestro/internal/version"
)

// StatusCommand reports worker health, circuit state and connections.
type StatusCommand struct {
	Host command.VoiceHost
}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Show voice worker status" }
func (c *StatusCommand) Group() string       { return "core" }
func (c *StatusCommand) Category() string    { return "⚙️ Core" }

func (c *StatusCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
	}
}

func (c *StatusCommand) Run(ctx interface{}) error {
	sc, ok := ctx.(*command.SlashContext)
	if !ok {
		return nil
	}
	s, e := sc.Session, sc.Event

	statuses := c.Host.Coordinator().GetAllWorkerStatus(context.Background(), e.GuildID)

	var b strings.Builder
	for _, ws := range statuses {
		if !ws.Configured {
			fmt.Fprintf(&b, "**%s** — not configured\n", ws.BotType)
			continue
		}
		health := "✅ healthy"
		if !ws.Health.Ready {
			health = fmt.Sprintf("❌ unhealthy (%s)", ws.Health.LastError)
		}
		circuit := "closed"
		if ws.Circuit.Open {
			circuit = fmt.Sprintf("open until %s", ws.Circuit.OpenedUntil.Format("15:04:05"))
		}
		conn := "not connected"
		if ws.Connection != nil && ws.Connection.Connected {
			conn = fmt.Sprintf("connected to <#%s>", ws.Connection.ChannelID)
		}
		fmt.Fprintf(&b, "**%s** — %s · circuit %s · %s\n", ws.BotType, health, circuit, conn)
	}

	return command.RespondEmbedEphemeral(s, e, &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s", version.AppName, version.Version),
		Description: b.String(),
	})
}
