package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const ConfigKeyEnabledLanguages = "enabled_languages"

// defaultEnabledLanguages applies until an admin writes the setting.
var defaultEnabledLanguages = []string{"ja", "en", "zh", "vi", "ko"}

// SystemConfig is a small key/value table for runtime settings.
type SystemConfig struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Key       string    `json:"key" gorm:"size:50;uniqueIndex;not null"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
	UpdatedBy string    `json:"updated_by" gorm:"size:36"`
}

// GetEnabledLanguages returns the platform-wide language allowlist.
func GetEnabledLanguages(db *gorm.DB) ([]string, error) {
	var cfg SystemConfig
	err := db.Where("`key` = ?", ConfigKeyEnabledLanguages).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return append([]string(nil), defaultEnabledLanguages...), nil
		}
		return nil, err
	}

	var langs []string
	if err := json.Unmarshal([]byte(cfg.Value), &langs); err != nil {
		return append([]string(nil), defaultEnabledLanguages...), nil
	}
	return langs, nil
}

// SetEnabledLanguages replaces the allowlist. At least two languages are
// required; a conferencing platform with one language cannot translate.
func SetEnabledLanguages(db *gorm.DB, langs []string, updatedBy string) error {
	if len(langs) < 2 {
		return errors.New("at least two languages must stay enabled")
	}
	data, err := json.Marshal(langs)
	if err != nil {
		return fmt.Errorf("encode languages: %w", err)
	}

	var cfg SystemConfig
	err = db.Where("`key` = ?", ConfigKeyEnabledLanguages).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(&SystemConfig{
			Key:       ConfigKeyEnabledLanguages,
			Value:     string(data),
			UpdatedBy: updatedBy,
		}).Error
	}
	if err != nil {
		return err
	}
	return db.Model(&cfg).Updates(map[string]interface{}{
		"value":      string(data),
		"updated_by": updatedBy,
	}).Error
}
