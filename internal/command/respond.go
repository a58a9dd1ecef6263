package command

import (
	"github.com/bwmarrin/discordgo"

	"maestro/internal/coordinator"
)

// EmbedColor is the accent color of all bot embeds.
const EmbedColor = 0x4e8cbe

// RespondEmbed sends a public embed response to an interaction.
func RespondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	embed.Color = EmbedColor
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	})
}

// RespondEmbedEphemeral sends an embed only the invoking user sees.
func RespondEmbedEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	embed.Color = EmbedColor
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:  discordgo.MessageFlagsEphemeral,
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

// RespondResult renders a coordinator result uniformly: public on success,
// ephemeral on failure.
func RespondResult(s *discordgo.Session, i *discordgo.InteractionCreate, r coordinator.Result) error {
	if r.Success {
		return RespondEmbed(s, i, &discordgo.MessageEmbed{Description: r.Message})
	}
	return RespondEmbedEphemeral(s, i, &discordgo.MessageEmbed{Description: r.Message})
}

// InvokingUserID extracts the acting user from an interaction.
func InvokingUserID(e *discordgo.InteractionCreate) string {
	if e.Member != nil && e.Member.User != nil {
		return e.Member.User.ID
	}
	if e.User != nil {
		return e.User.ID
	}
	return ""
}
