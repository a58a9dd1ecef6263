// Package storage keeps per-guild local records: command execution history
// and small guild preferences. It sits on the JSON datastore, not on the
// shared session stores, because none of this needs to survive across
// orchestrator replicas.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"maestro/datastore"
)

const commandHistoryLimit = 20

// CommandHistoryRecord is one logged command execution.
type CommandHistoryRecord struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	GuildName   string    `json:"guild_name"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Command     string    `json:"command"`
	Datetime    time.Time `json:"datetime"`
}

// Record is everything stored per guild.
type Record struct {
	CommandsHistoryList []CommandHistoryRecord `json:"cmd_history"`
	PreferredTTSVoice   string                 `json:"preferred_tts_voice,omitempty"`
}

type Storage struct {
	ds *datastore.DataStore
}

func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

func (s *Storage) getOrCreateGuildRecord(guildID string) (*Record, error) {
	data, exists := s.ds.Get(guildID)
	if !exists {
		newRecord := &Record{}
		s.ds.Add(guildID, newRecord)
		return newRecord, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error marshalling data: %w", err)
	}
	var record Record
	if err := json.Unmarshal(jsonData, &record); err != nil {
		return nil, fmt.Errorf("error unmarshalling data: %w", err)
	}
	return &record, nil
}

// SetCommand appends a command execution to the guild's history, trimming to
// the newest commandHistoryLimit entries.
func (s *Storage) SetCommand(guildID, channelID, channelName, guildName, userID, username, commandName string) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}

	record.CommandsHistoryList = append(record.CommandsHistoryList, CommandHistoryRecord{
		ChannelID:   channelID,
		ChannelName: channelName,
		GuildName:   guildName,
		UserID:      userID,
		Username:    username,
		Command:     commandName,
		Datetime:    time.Now(),
	})
	if len(record.CommandsHistoryList) > commandHistoryLimit {
		record.CommandsHistoryList = record.CommandsHistoryList[len(record.CommandsHistoryList)-commandHistoryLimit:]
	}

	s.ds.Add(guildID, record)
	return nil
}

// GetCommandHistory returns the guild's logged commands, newest last.
func (s *Storage) GetCommandHistory(guildID string) ([]CommandHistoryRecord, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return nil, err
	}
	return record.CommandsHistoryList, nil
}

// SetPreferredTTSVoice stores the guild's default TTS voice.
func (s *Storage) SetPreferredTTSVoice(guildID, voice string) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}
	record.PreferredTTSVoice = voice
	s.ds.Add(guildID, record)
	return nil
}

// GetPreferredTTSVoice returns the guild's default TTS voice, "" when unset.
func (s *Storage) GetPreferredTTSVoice(guildID string) (string, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return "", err
	}
	return record.PreferredTTSVoice, nil
}
