package command

import (
	"log"

	"github.com/bwmarrin/discordgo"
)

type Middleware func(Command) Command

// WrappedCommand decorates a command while still exposing its slash
// definition through the wrapper.
type WrappedCommand struct {
	Command
	Wrap func(ctx interface{}) error
}

func (w *WrappedCommand) Run(ctx interface{}) error {
	if w.Wrap != nil {
		return w.Wrap(ctx)
	}
	return w.Command.Run(ctx)
}

func (w *WrappedCommand) SlashDefinition() *discordgo.ApplicationCommand {
	if sp, ok := w.Command.(SlashProvider); ok {
		return sp.SlashDefinition()
	}
	return nil
}

// WithGuildOnly rejects invocations outside a guild.
func WithGuildOnly() Middleware {
	return func(next Command) Command {
		return &WrappedCommand{Command: next, Wrap: func(ctx interface{}) error {
			sc, ok := ctx.(*SlashContext)
			if ok && sc.Event.GuildID == "" {
				return respondEphemeral(sc, "This command only works inside a server.")
			}
			return next.Run(ctx)
		}}
	}
}

// WithCommandLogger records each execution to the local command history.
func WithCommandLogger() Middleware {
	return func(next Command) Command {
		return &WrappedCommand{Command: next, Wrap: func(ctx interface{}) error {
			if sc, ok := ctx.(*SlashContext); ok && sc.Storage != nil && sc.Event.GuildID != "" {
				logCommand(sc, next.Name())
			}
			return next.Run(ctx)
		}}
	}
}

func logCommand(sc *SlashContext, commandName string) {
	s, e := sc.Session, sc.Event

	channelName := ""
	if channel, err := s.State.Channel(e.ChannelID); err == nil {
		channelName = channel.Name
	}
	guildName := ""
	if guild, err := s.State.Guild(e.GuildID); err == nil {
		guildName = guild.Name
	}

	userID, username := "", ""
	if e.Member != nil && e.Member.User != nil {
		userID = e.Member.User.ID
		username = e.Member.User.Username
	}

	if err := sc.Storage.SetCommand(e.GuildID, e.ChannelID, channelName, guildName, userID, username, commandName); err != nil {
		log.Println("[WARN] Failed to log command:", err)
	}
}

func respondEphemeral(sc *SlashContext, content string) error {
	return sc.Session.InteractionRespond(sc.Event.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
