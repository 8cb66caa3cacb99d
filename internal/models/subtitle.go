package models

import (
	"sync"
	"time"

	"gorm.io/gorm"
)

// Subtitle is the durable transcript row for one utterance. Translations
// fill in lazily as listeners request languages; the JSON map keeps the
// row schema stable while languages come and go.
type Subtitle struct {
	UIDModel
	RoomID           string    `json:"room_id" gorm:"size:36;not null;index"`
	SpeakerID        string    `json:"speaker_id" gorm:"size:36;not null"`
	SessionID        *string   `json:"session_id" gorm:"size:36;index"`
	OriginalText     string    `json:"original_text" gorm:"type:text;not null"`
	OriginalLanguage string    `json:"original_language" gorm:"size:10;not null"`
	Translations     StringMap `json:"translations" gorm:"type:json;not null"`
	Timestamp        time.Time `json:"timestamp" gorm:"not null;index"`
}

// SaveSubtitle persists an utterance with whatever translations exist at
// fan-out time.
func SaveSubtitle(db *gorm.DB, sub *Subtitle) error {
	if sub.Timestamp.IsZero() {
		sub.Timestamp = time.Now().UTC()
	}
	if sub.Translations == nil {
		sub.Translations = StringMap{}
	}
	return db.Create(sub).Error
}

// translationMu serializes fill merges. The whole JSON map is rewritten
// on each merge, so unserialized writers would drop each other's
// languages. Rows are owned by a single process, which makes one lock
// enough; fills are rare so contention does not matter.
var translationMu sync.Mutex

// AddTranslation merges one background fill into the stored row. An
// existing entry for the language is kept untouched.
func AddTranslation(db *gorm.DB, subtitleID, lang, text string) error {
	translationMu.Lock()
	defer translationMu.Unlock()

	var sub Subtitle
	if err := db.Where("id = ?", subtitleID).First(&sub).Error; err != nil {
		return err
	}
	if sub.Translations == nil {
		sub.Translations = StringMap{}
	}
	if existing, ok := sub.Translations[lang]; ok && existing != "" {
		return nil
	}
	sub.Translations[lang] = text
	return db.Model(&Subtitle{}).Where("id = ?", subtitleID).
		Update("translations", sub.Translations).Error
}

// TranscriptEntry is one line of the transcript view.
type TranscriptEntry struct {
	ID               string    `json:"id"`
	SpeakerID        string    `json:"speaker_id"`
	SpeakerName      string    `json:"speaker_name"`
	SessionID        *string   `json:"session_id"`
	OriginalText     string    `json:"original_text"`
	OriginalLanguage string    `json:"original_language"`
	Text             string    `json:"text"`
	Language         string    `json:"language"`
	Timestamp        time.Time `json:"timestamp"`
}

// GetTranscript returns the room's subtitles in time order. When lang is
// set, each entry's Text carries the stored translation for that
// language; rows without one fall back to the original text.
func GetTranscript(db *gorm.DB, roomID, lang string) ([]TranscriptEntry, error) {
	var subs []Subtitle
	err := db.Where("room_id = ?", roomID).
		Order("timestamp ASC, created_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}

	speakerIDs := make([]string, 0, len(subs))
	seen := map[string]struct{}{}
	for _, s := range subs {
		if _, ok := seen[s.SpeakerID]; !ok {
			seen[s.SpeakerID] = struct{}{}
			speakerIDs = append(speakerIDs, s.SpeakerID)
		}
	}

	names := map[string]string{}
	if len(speakerIDs) > 0 {
		var users []User
		if err := db.Where("id IN ?", speakerIDs).Find(&users).Error; err == nil {
			for _, u := range users {
				names[u.ID] = u.DisplayName
			}
		}
	}

	entries := make([]TranscriptEntry, 0, len(subs))
	for _, s := range subs {
		e := TranscriptEntry{
			ID:               s.ID,
			SpeakerID:        s.SpeakerID,
			SpeakerName:      names[s.SpeakerID],
			SessionID:        s.SessionID,
			OriginalText:     s.OriginalText,
			OriginalLanguage: s.OriginalLanguage,
			Text:             s.OriginalText,
			Language:         s.OriginalLanguage,
			Timestamp:        s.Timestamp,
		}
		if lang != "" && lang != s.OriginalLanguage {
			if t, ok := s.Translations[lang]; ok && t != "" {
				e.Text = t
				e.Language = lang
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
