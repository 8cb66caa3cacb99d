package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MeetingSession marks one contiguous meeting inside a room. A room has
// at most one active session; subtitles created while it is open carry
// its id.
type MeetingSession struct {
	UIDModel
	RoomID    string     `json:"room_id" gorm:"size:36;not null;index"`
	StartedAt time.Time  `json:"started_at" gorm:"not null"`
	EndedAt   *time.Time `json:"ended_at"`
	IsActive  bool       `json:"is_active" gorm:"not null;default:true;index"`
}

// GetActiveSession returns the open session for the room, if any.
func GetActiveSession(db *gorm.DB, roomID string) (*MeetingSession, error) {
	var session MeetingSession
	err := db.Where("room_id = ? AND is_active = ?", roomID, true).
		Order("started_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// GetOrCreateActiveSession opens a session on first use. Callers must
// serialize invocations per room — the pipeline does this by going
// through room.State.OpenSession, which holds the room's session lock
// across the whole check-then-create.
func GetOrCreateActiveSession(db *gorm.DB, roomID string) (*MeetingSession, error) {
	if session, err := GetActiveSession(db, roomID); err == nil {
		return session, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	session := &MeetingSession{
		RoomID:    roomID,
		StartedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("create meeting session: %w", err)
	}
	return session, nil
}

// EndActiveSession closes the open session for the room. Ending a room
// with no open session is a no-op; the caller cannot know whether any
// utterance ever opened one.
func EndActiveSession(db *gorm.DB, roomID string) error {
	now := time.Now().UTC()
	return db.Model(&MeetingSession{}).
		Where("room_id = ? AND is_active = ?", roomID, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"ended_at":  now,
		}).Error
}
