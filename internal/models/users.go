package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User 用户模型，保存登录凭证和母语设置
type User struct {
	UIDModel
	Email          string `json:"email" gorm:"size:255;uniqueIndex;not null"`
	Password       string `json:"-" gorm:"size:255;not null;comment:Hashed password"`
	DisplayName    string `json:"display_name" gorm:"size:100;not null"`
	NativeLanguage string `json:"native_language" gorm:"size:10;not null;default:ja"`
	Role           string `json:"role" gorm:"size:20;not null;default:user"`
	IsActive       bool   `json:"is_active" gorm:"not null;default:true"`
}

// PasswordResetToken is a one-shot token for the reset flow.
type PasswordResetToken struct {
	UIDModel
	UserID    string    `json:"user_id" gorm:"size:36;not null;index"`
	Token     string    `json:"token" gorm:"size:64;uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	Used      bool      `json:"used" gorm:"not null;default:false"`
}

// HashPassword hashes with a stable sha256$ prefix so already-hashed
// input passes through unchanged.
func HashPassword(password string) string {
	if strings.HasPrefix(password, "sha256$") {
		return password
	}
	hashVal := sha256.Sum256([]byte(password))
	return fmt.Sprintf("sha256$%x", hashVal)
}

// CheckPassword verifies a plain password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return u.Password == HashPassword(password)
}

// CreateUser registers a new account. Email uniqueness is checked first
// so the caller gets a stable error message instead of a driver error.
func CreateUser(db *gorm.DB, email, password, displayName, nativeLanguage string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	var count int64
	db.Model(&User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		return nil, errors.New("email has exists")
	}

	if nativeLanguage == "" {
		nativeLanguage = "ja"
	}
	user := &User{
		Email:          email,
		Password:       HashPassword(password),
		DisplayName:    displayName,
		NativeLanguage: nativeLanguage,
		Role:           RoleUser,
		IsActive:       true,
	}
	if err := db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUserByEmail finds an active account by email.
func GetUserByEmail(db *gorm.DB, email string) (*User, error) {
	var user User
	err := db.Where("email = ? AND is_active = ?", strings.ToLower(strings.TrimSpace(email)), true).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds an active account by id.
func GetUserByID(db *gorm.DB, id string) (*User, error) {
	var user User
	err := db.Where("id = ? AND is_active = ?", id, true).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreatePasswordResetToken issues a one-shot reset token valid for an
// hour. Older unused tokens for the same account are invalidated so only
// the latest email link works.
func CreatePasswordResetToken(db *gorm.DB, email string) (*PasswordResetToken, error) {
	user, err := GetUserByEmail(db, email)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}

	db.Model(&PasswordResetToken{}).
		Where("user_id = ? AND used = ?", user.ID, false).
		Update("used", true)

	prt := &PasswordResetToken{
		UserID:    user.ID,
		Token:     hex.EncodeToString(raw),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := db.Create(prt).Error; err != nil {
		return nil, fmt.Errorf("create reset token: %w", err)
	}
	return prt, nil
}

// ResetPassword consumes a reset token and sets the new password.
func ResetPassword(db *gorm.DB, tokenValue, newPassword string) error {
	if newPassword == "" {
		return errors.New("new password is required")
	}

	var prt PasswordResetToken
	err := db.Where("token = ? AND used = ?", tokenValue, false).First(&prt).Error
	if err != nil {
		return errors.New("invalid reset token")
	}
	if time.Now().UTC().After(prt.ExpiresAt) {
		return errors.New("reset token expired")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&User{}).Where("id = ?", prt.UserID).
			Update("password", HashPassword(newPassword)).Error; err != nil {
			return err
		}
		return tx.Model(&prt).Update("used", true).Error
	})
}

// Authenticate checks credentials and returns the account.
func Authenticate(db *gorm.DB, email, password string) (*User, error) {
	user, err := GetUserByEmail(db, email)
	if err != nil {
		return nil, errors.New("invalid credentials")
	}
	if !user.CheckPassword(password) {
		return nil, errors.New("invalid credentials")
	}
	return user, nil
}
