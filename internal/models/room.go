package models

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

const (
	AudioModeOriginal   = "original"
	AudioModeTranslated = "translated"
)

// Room 会议室模型，保存会议的语言策略
type Room struct {
	UIDModel
	Name             string     `json:"name" gorm:"size:200;not null"`
	Description      string     `json:"description" gorm:"type:text"`
	CreatorID        string     `json:"creator_id" gorm:"size:36;not null;index"`
	AllowedLanguages StringList `json:"allowed_languages" gorm:"type:json;not null"`
	DefaultAudioMode string     `json:"default_audio_mode" gorm:"size:20;not null;default:original"`
	AllowModeSwitch  bool       `json:"allow_mode_switch" gorm:"not null;default:true"`
	IsPrivate        bool       `json:"is_private" gorm:"not null;default:false"`
	IsActive         bool       `json:"is_active" gorm:"not null;default:true"`
}

// CreateRoom validates the language policy against the enabled set and
// persists the room.
func CreateRoom(db *gorm.DB, creatorID, name, description string, allowedLanguages []string,
	defaultAudioMode string, allowModeSwitch, isPrivate bool) (*Room, error) {

	if name == "" {
		return nil, errors.New("room name is required")
	}
	if len(allowedLanguages) < 2 {
		return nil, errors.New("a room needs at least two allowed languages")
	}

	enabled, err := GetEnabledLanguages(db)
	if err != nil {
		return nil, err
	}
	enabledSet := make(map[string]struct{}, len(enabled))
	for _, l := range enabled {
		enabledSet[l] = struct{}{}
	}
	for _, l := range allowedLanguages {
		if _, ok := enabledSet[l]; !ok {
			return nil, fmt.Errorf("language not enabled: %s", l)
		}
	}

	if defaultAudioMode != AudioModeOriginal && defaultAudioMode != AudioModeTranslated {
		defaultAudioMode = AudioModeOriginal
	}

	room := &Room{
		Name:             name,
		Description:      description,
		CreatorID:        creatorID,
		AllowedLanguages: allowedLanguages,
		DefaultAudioMode: defaultAudioMode,
		AllowModeSwitch:  allowModeSwitch,
		IsPrivate:        isPrivate,
		IsActive:         true,
	}
	if err := db.Create(room).Error; err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// GetRoomByID returns the room regardless of visibility; the handler
// enforces the private-room rule.
func GetRoomByID(db *gorm.DB, id string) (*Room, error) {
	var room Room
	err := db.Where("id = ?", id).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ListVisibleRooms returns active rooms the viewer may see: every public
// room plus the private ones they created.
func ListVisibleRooms(db *gorm.DB, viewerID string) ([]Room, error) {
	var rooms []Room
	err := db.Where("is_active = ?", true).
		Where("is_private = ? OR creator_id = ?", false, viewerID).
		Order("created_at DESC").
		Find(&rooms).Error
	return rooms, err
}

// VisibleTo reports whether the viewer may see room details.
func (r *Room) VisibleTo(viewerID string) bool {
	return !r.IsPrivate || r.CreatorID == viewerID
}
