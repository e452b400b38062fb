// Package repository persists bot settings: which chats are watched, which
// platforms are enabled, canned responses and misc key-value flags.
package repository

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blockedby/videorelay/internal/matcher"
	"github.com/blockedby/videorelay/internal/telegram"
)

// SelectedChat is a chat the bot watches for video links.
type SelectedChat struct {
	ChatID  int64  `gorm:"primaryKey" json:"chat_id"`
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	AddedAt time.Time
}

// PlatformFlag stores the enabled toggle for one platform.
type PlatformFlag struct {
	Platform string `gorm:"primaryKey" json:"platform"`
	Enabled  bool   `json:"enabled"`
}

// Response is a canned reply the operator can post from the UI.
type Response struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Text string `json:"text"`
}

// Setting is a misc key-value flag.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// Participant caches chat membership for the UI.
type Participant struct {
	ChatID    int64  `gorm:"primaryKey" json:"chat_id"`
	UserID    int64  `gorm:"primaryKey" json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

const settingOnlySelf = "only_self"

// Repository wraps all settings tables.
type Repository struct {
	db *gorm.DB
}

// New migrates the schema and returns a repository.
func New(db *gorm.DB) (*Repository, error) {
	err := db.AutoMigrate(&SelectedChat{}, &PlatformFlag{}, &Response{}, &Setting{}, &Participant{})
	if err != nil {
		return nil, fmt.Errorf("migrate settings schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// SelectedChats returns all watched chats.
func (r *Repository) SelectedChats() ([]SelectedChat, error) {
	var chats []SelectedChat
	if err := r.db.Order("title").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list selected chats: %w", err)
	}
	return chats, nil
}

// AddSelectedChat adds or updates a watched chat.
func (r *Repository) AddSelectedChat(chat telegram.Chat) error {
	row := SelectedChat{
		ChatID:  chat.ID,
		Title:   chat.Title,
		Kind:    string(chat.Kind),
		AddedAt: time.Now(),
	}
	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("add selected chat %d: %w", chat.ID, err)
	}
	return nil
}

// RemoveSelectedChat stops watching a chat.
func (r *Repository) RemoveSelectedChat(chatID int64) error {
	if err := r.db.Delete(&SelectedChat{}, "chat_id = ?", chatID).Error; err != nil {
		return fmt.Errorf("remove selected chat %d: %w", chatID, err)
	}
	return nil
}

// IsSelected reports whether a chat is watched.
func (r *Repository) IsSelected(chatID int64) (bool, error) {
	var count int64
	err := r.db.Model(&SelectedChat{}).Where("chat_id = ?", chatID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check selected chat %d: %w", chatID, err)
	}
	return count > 0, nil
}

// PlatformFlags returns the enabled state per platform. Platforms with no
// stored row default to disabled, matching a fresh install.
func (r *Repository) PlatformFlags() (map[matcher.Platform]bool, error) {
	var rows []PlatformFlag
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list platform flags: %w", err)
	}
	flags := make(map[matcher.Platform]bool, len(matcher.Order))
	for _, p := range matcher.Order {
		flags[p] = false
	}
	for _, row := range rows {
		flags[matcher.Platform(row.Platform)] = row.Enabled
	}
	return flags, nil
}

// SetPlatformFlag toggles a platform.
func (r *Repository) SetPlatformFlag(platform matcher.Platform, enabled bool) error {
	row := PlatformFlag{Platform: string(platform), Enabled: enabled}
	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set platform flag %s: %w", platform, err)
	}
	return nil
}

// Responses returns all canned responses.
func (r *Repository) Responses() ([]Response, error) {
	var rows []Response
	if err := r.db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return rows, nil
}

// AddResponse stores a canned response and returns its id.
func (r *Repository) AddResponse(text string) (uint, error) {
	row := Response{Text: text}
	if err := r.db.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("add response: %w", err)
	}
	return row.ID, nil
}

// DeleteResponse removes a canned response.
func (r *Repository) DeleteResponse(id uint) error {
	if err := r.db.Delete(&Response{}, id).Error; err != nil {
		return fmt.Errorf("delete response %d: %w", id, err)
	}
	return nil
}

// OnlySelf reports whether the bot processes only its own messages.
func (r *Repository) OnlySelf() (bool, error) {
	v, err := r.getSetting(settingOnlySelf)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetOnlySelf toggles only-self mode.
func (r *Repository) SetOnlySelf(enabled bool) error {
	return r.setSetting(settingOnlySelf, boolValue(enabled))
}

// ReplaceParticipants swaps the cached participant list of a chat.
func (r *Repository) ReplaceParticipants(chatID int64, participants []Participant) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Participant{}, "chat_id = ?", chatID).Error; err != nil {
			return fmt.Errorf("clear participants of %d: %w", chatID, err)
		}
		for i := range participants {
			participants[i].ChatID = chatID
		}
		if len(participants) == 0 {
			return nil
		}
		if err := tx.Create(&participants).Error; err != nil {
			return fmt.Errorf("store participants of %d: %w", chatID, err)
		}
		return nil
	})
}

// Participants returns the cached participant list of a chat.
func (r *Repository) Participants(chatID int64) ([]Participant, error) {
	var rows []Participant
	err := r.db.Where("chat_id = ?", chatID).Order("user_id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list participants of %d: %w", chatID, err)
	}
	return rows, nil
}

func (r *Repository) getSetting(key string) (string, error) {
	var row Setting
	err := r.db.First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return row.Value, nil
}

func (r *Repository) setSetting(key, value string) error {
	row := Setting{Key: key, Value: value}
	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func boolValue(b bool) string {
	return strconv.Itoa(boolInt(b))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
