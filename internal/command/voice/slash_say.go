package voice

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"maestro/internal/command"
)

// SayCommand voices text through the TTS worker.
type SayCommand struct {
	Host command.VoiceHost
}

func (c *SayCommand) Name() string        { return "say" }
func (c *SayCommand) Description() string { return "Speak text in your voice channel" }
func (c *SayCommand) Group() string       { return "voice" }
func (c *SayCommand) Category() string    { return "🗣️ Voice" }

func (c *SayCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "text",
				Description: "What to say",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "voice",
				Description: "Voice to use",
			},
		},
	}
}

func (c *SayCommand) Run(ctx interface{}) error {
	sc, ok := ctx.(*command.SlashContext)
	if !ok {
		return nil
	}
	s, e := sc.Session, sc.Event

	var text, voiceName string
	for _, opt := range e.ApplicationCommandData().Options {
		switch opt.Name {
		case "text":
			text = opt.StringValue()
		case "voice":
			voiceName = opt.StringValue()
		}
	}
	if voiceName == "" && sc.Storage != nil {
		voiceName, _ = sc.Storage.GetPreferredTTSVoice(e.GuildID)
	}

	userID := command.InvokingUserID(e)
	channelID, err := c.Host.ResolveTargetChannel(e.GuildID, userID)
	if err != nil {
		return command.RespondEmbedEphemeral(s, e, &discordgo.MessageEmbed{
			Description: fmt.Sprintf("Can't find a voice channel for you: %v", err),
		})
	}

	r := c.Host.Coordinator().SpeakTTS(context.Background(), e.GuildID, channelID, userID, text, voiceName)
	return command.RespondResult(s, e, r)
}
