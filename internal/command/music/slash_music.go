package music

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"maestro/internal/command"
	"maestro/internal/worker"
)

// MusicCommand drives the music worker through the coordinator.
type MusicCommand struct {
	Host command.VoiceHost
}

func (c *MusicCommand) Name() string        { return "music" }
func (c *MusicCommand) Description() string { return "Control music playback" }
func (c *MusicCommand) Group() string       { return "music" }
func (c *MusicCommand) Category() string    { return "🎵 Music" }

func (c *MusicCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Queue a track by link or search query",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "input",
						Description: "Link or search query",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "skip",
				Description: "Skip the current track",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "count",
						Description: "How many tracks to skip",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "pause",
				Description: "Pause or resume playback",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop playback",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Clear the queue",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "queue",
				Description: "Show the queue",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "volume",
				Description: "Set playback volume",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "level",
						Description: "Volume 0-100",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "autoplay",
				Description: "Toggle autoplay",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "replay",
				Description: "Restart the current track",
			},
		},
	}
}

func (c *MusicCommand) Run(ctx interface{}) error {
	sc, ok := ctx.(*command.SlashContext)
	if !ok {
		return nil
	}

	s, e := sc.Session, sc.Event
	if len(e.ApplicationCommandData().Options) == 0 {
		return command.RespondEmbedEphemeral(s, e, &discordgo.MessageEmbed{
			Description: "Missing subcommand.",
		})
	}

	rctx := context.Background()
	guildID := e.GuildID
	userID := command.InvokingUserID(e)
	coord := c.Host.Coordinator()
	sub := e.ApplicationCommandData().Options[0]

	switch sub.Name {
	case "play":
		input := sub.Options[0].StringValue()
		channelID, err := c.Host.ResolveTargetChannel(guildID, userID)
		if err != nil {
			return command.RespondEmbedEphemeral(s, e, &discordgo.MessageEmbed{
				Description: fmt.Sprintf("Can't find a voice channel for you: %v", err),
			})
		}
		if r := coord.EnsureConnected(rctx, worker.Music, guildID, channelID); !r.Success {
			return command.RespondResult(s, e, r)
		}
		track := trackFromInput(input)
		return command.RespondResult(s, e, coord.EnqueueTrack(rctx, guildID, userID, []worker.Track{track}))

	case "skip":
		count := 1
		if len(sub.Options) > 0 {
			count = int(sub.Options[0].IntValue())
		}
		return command.RespondResult(s, e, coord.Skip(rctx, guildID, count))

	case "pause":
		return command.RespondResult(s, e, coord.TogglePause(rctx, guildID))

	case "stop":
		return command.RespondResult(s, e, coord.Stop(rctx, guildID))

	case "clear":
		return command.RespondResult(s, e, coord.ClearQueue(rctx, guildID))

	case "queue":
		r := coord.GetQueue(rctx, guildID)
		if !r.Success {
			return command.RespondResult(s, e, r)
		}
		return command.RespondEmbed(s, e, queueEmbed(r.NowPlaying, r.Queue))

	case "volume":
		level := sub.Options[0].IntValue()
		if level < 0 || level > 100 {
			return command.RespondEmbedEphemeral(s, e, &discordgo.MessageEmbed{
				Description: "Volume must be between 0 and 100.",
			})
		}
		return command.RespondResult(s, e, coord.SetVolume(rctx, worker.Music, guildID, float64(level)/100))

	case "autoplay":
		return command.RespondResult(s, e, coord.ToggleAutoplay(rctx, guildID))

	case "replay":
		return command.RespondResult(s, e, coord.Replay(rctx, guildID))

	default:
		return command.RespondEmbedEphemeral(s, e, &discordgo.MessageEmbed{
			Description: fmt.Sprintf("Unknown subcommand: %s", sub.Name),
		})
	}
}

// trackFromInput builds a minimal track; the music worker resolves metadata.
func trackFromInput(input string) worker.Track {
	t := worker.Track{Title: input}
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		t.URL = input
		t.Source = "url"
	} else {
		t.Source = "search"
	}
	return t
}

func queueEmbed(nowPlaying *worker.Track, queue []worker.Track) *discordgo.MessageEmbed {
	var b strings.Builder
	if nowPlaying != nil {
		fmt.Fprintf(&b, "▶️ **%s**\n\n", nowPlaying.Title)
	}
	if len(queue) == 0 {
		b.WriteString("The queue is empty.")
	}
	for i, t := range queue {
		if i >= 10 {
			fmt.Fprintf(&b, "… and %d more", len(queue)-i)
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, t.Title)
	}
	return &discordgo.MessageEmbed{Title: "Queue", Description: b.String()}
}
