package voice

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"maestro/internal/command"
	"maestro/internal/worker"
)

// SfxCommand plays a sound effect through the soundboard worker.
type SfxCommand struct {
	Host command.VoiceHost
}

func (c *SfxCommand) Name() string        { return "sfx" }
func (c *SfxCommand) Description() string { return "Play a soundboard effect" }
func (c *SfxCommand) Group() string       { return "voice" }
func (c *SfxCommand) Category() string    { return "🗣️ Voice" }

func (c *SfxCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "sound",
				Description: "Sound effect ID",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "volume",
				Description: "Volume 0-100",
			},
		},
	}
}

func (c *SfxCommand) Run(ctx interface{}) error {
	sc, ok := ctx.(*command.SlashContext)
	if !ok {
		return nil
	}
	s, e := sc.Session, sc.Event

	var sfxID string
	volume := 0.0
	for _, opt := range e.ApplicationCommandData().Options {
		switch opt.Name {
		case "sound":
			sfxID = opt.StringValue()
		case "volume":
			volume = float64(opt.IntValue()) / 100
		}
	}

	userID := command.InvokingUserID(e)
	channelID, err := c.Host.ResolveTargetChannel(e.GuildID, userID)
	if err != nil {
		return command.RespondEmbedEphemeral(s, e, &discordgo.MessageEmbed{
			Description: fmt.Sprintf("Can't find a voice channel for you: %v", err),
		})
	}

	rctx := context.Background()
	coord := c.Host.Coordinator()
	if r := coord.EnsureConnected(rctx, worker.Soundboard, e.GuildID, channelID); !r.Success {
		return command.RespondResult(s, e, r)
	}
	return command.RespondResult(s, e, coord.PlaySoundboard(rctx, e.GuildID, userID, sfxID, volume))
}
