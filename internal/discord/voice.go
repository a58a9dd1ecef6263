package discord

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
)

// FindUserVoiceState finds the live voice channel of a user, if any.
func (b *Bot) FindUserVoiceState(guildID, userID string) (string, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("error retrieving guild: %w", err)
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", fmt.Errorf("user not in any voice channel")
}

// ResolveTargetChannel picks the voice channel a command should act on: the
// user's live voice state first, then the tracked current channel, then the
// sticky last-known channel so users can resume without rejoining voice.
func (b *Bot) ResolveTargetChannel(guildID, userID string) (string, error) {
	if channelID, err := b.FindUserVoiceState(guildID, userID); err == nil && channelID != "" {
		return channelID, nil
	}

	ctx := context.Background()
	if channelID, err := b.sessions.GetCurrentChannel(ctx, guildID, userID); err == nil && channelID != "" {
		return channelID, nil
	}
	if channelID, err := b.sessions.GetLastChannel(ctx, guildID, userID); err == nil && channelID != "" {
		return channelID, nil
	}
	return "", fmt.Errorf("no voice channel found for user")
}

// onVoiceStateUpdate mirrors user voice movement into the session store. The
// current-channel key is cleared on leave; the last-channel key is sticky.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.Member != nil && e.Member.User != nil && e.Member.User.Bot {
		return
	}

	ctx := context.Background()
	if e.ChannelID == "" {
		if err := b.sessions.ClearCurrentChannel(ctx, e.GuildID, e.UserID); err != nil {
			log.Println("[WARN] Failed to clear current channel:", err)
		}
		return
	}
	if err := b.sessions.SetCurrentChannel(ctx, e.GuildID, e.UserID, e.ChannelID); err != nil {
		log.Println("[WARN] Failed to store current channel:", err)
	}
	if err := b.sessions.SetLastChannel(ctx, e.GuildID, e.UserID, e.ChannelID); err != nil {
		log.Println("[WARN] Failed to store last channel:", err)
	}
}

// --- platform lookups for snapshot restore ---

// GuildAvailable reports whether the guild is still resolvable.
func (b *Bot) GuildAvailable(guildID string) bool {
	if _, err := b.dg.State.Guild(guildID); err == nil {
		return true
	}
	_, err := b.dg.Guild(guildID)
	return err == nil
}

// ChannelAvailable reports whether the channel still exists in the guild.
func (b *Bot) ChannelAvailable(guildID, channelID string) bool {
	channel, err := b.dg.State.Channel(channelID)
	if err != nil {
		channel, err = b.dg.Channel(channelID)
		if err != nil {
			return false
		}
	}
	return channel.GuildID == guildID
}

// HumansInChannel counts the non-bot members currently in a voice channel.
func (b *Bot) HumansInChannel(guildID, channelID string) (int, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return 0, fmt.Errorf("error retrieving guild: %w", err)
	}

	humans := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		member, err := b.dg.State.Member(guildID, vs.UserID)
		if err != nil {
			member, err = b.dg.GuildMember(guildID, vs.UserID)
			if err != nil {
				continue
			}
		}
		if member.User != nil && !member.User.Bot {
			humans++
		}
	}
	return humans, nil
}
