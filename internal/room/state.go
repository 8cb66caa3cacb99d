// Package room tracks the in-process runtime state of live rooms:
// who is connected, their listening preferences, the subtitle sequence
// and the active meeting session. All mutation of one room funnels
// through its own mutex, which is what lets the pipeline hand out
// subtitle sequence numbers without a database round-trip.
package room

import (
	"fmt"
	"sync"
	"time"
)

// Participant is one connected member's runtime state.
type Participant struct {
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name"`
	NativeLanguage  string    `json:"native_language"`
	TargetLanguage  string    `json:"target_language"` // listening language; empty falls back to native
	AudioMode       string    `json:"audio_mode"`      // original or translated
	SubtitleEnabled bool      `json:"subtitle_enabled"`
	MicOn           bool      `json:"mic_on"`
	IsSpeaking      bool      `json:"is_speaking"`
	JoinedAt        time.Time `json:"joined_at"`
}

// ListeningLanguage resolves the effective subtitle/audio language.
func (p Participant) ListeningLanguage() string {
	if p.TargetLanguage != "" {
		return p.TargetLanguage
	}
	return p.NativeLanguage
}

// Policy mirrors the room row's language rules; the state validates
// preference changes against it without touching the database.
type Policy struct {
	AllowedLanguages []string
	DefaultAudioMode string
	AllowModeSwitch  bool
}

func (p Policy) allows(lang string) bool {
	for _, l := range p.AllowedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// State is one live room. Zero participants means the state is about to
// be disposed; a fresh join after that starts from a clean sequence.
type State struct {
	mu            sync.Mutex
	roomID        string
	policy        Policy
	participants  map[string]*Participant
	activeSpeaker string
	subtitleSeq   uint64
	lastUtterance map[string]string // speaker id -> last accepted text

	// sessionMu serializes opening the meeting session. The main mutex
	// cannot be held across a database write, so session opening gets
	// its own lock.
	sessionMu sync.Mutex
	sessionID string
}

func newState(roomID string, policy Policy) *State {
	return &State{
		roomID:        roomID,
		policy:        policy,
		participants:  make(map[string]*Participant),
		lastUtterance: make(map[string]string),
	}
}

// Join adds a participant with the room's default audio mode. A target
// language outside the room policy falls back to the first allowed one.
func (s *State) Join(userID, displayName, nativeLanguage string) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.policy.AllowedLanguages) == 0 {
		return nil, fmt.Errorf("room has no allowed languages")
	}
	target := nativeLanguage
	if !s.policy.allows(target) {
		target = s.policy.AllowedLanguages[0]
	}

	p := &Participant{
		UserID:          userID,
		DisplayName:     displayName,
		NativeLanguage:  nativeLanguage,
		TargetLanguage:  target,
		AudioMode:       s.policy.DefaultAudioMode,
		SubtitleEnabled: true,
		MicOn:           true,
		JoinedAt:        time.Now().UTC(),
	}
	s.participants[userID] = p
	clone := *p
	return &clone, nil
}

// Leave removes a participant and returns how many remain.
func (s *State) Leave(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, userID)
	if s.activeSpeaker == userID {
		s.activeSpeaker = ""
	}
	delete(s.lastUtterance, userID)
	return len(s.participants)
}

// SetPreference validates and applies a preference change. Nil fields
// keep their current value.
func (s *State) SetPreference(userID string, targetLang, audioMode *string, subtitleEnabled *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return fmt.Errorf("participant not in room")
	}
	if targetLang != nil && *targetLang != "" {
		if !s.policy.allows(*targetLang) {
			return fmt.Errorf("language not allowed in this room: %s", *targetLang)
		}
		p.TargetLanguage = *targetLang
	}
	if audioMode != nil && *audioMode != "" && *audioMode != p.AudioMode {
		if !s.policy.AllowModeSwitch {
			return fmt.Errorf("audio mode switching is disabled in this room")
		}
		if *audioMode != "original" && *audioMode != "translated" {
			return fmt.Errorf("unknown audio mode: %s", *audioMode)
		}
		p.AudioMode = *audioMode
	}
	if subtitleEnabled != nil {
		p.SubtitleEnabled = *subtitleEnabled
	}
	return nil
}

// SetMic flips the mic flag and reports whether the participant exists.
func (s *State) SetMic(userID string, on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return false
	}
	p.MicOn = on
	return true
}

// SetSpeaking marks the active speaker. Only one member holds the flag;
// a later speaker displaces the previous one.
func (s *State) SetSpeaking(userID string, speaking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return
	}
	p.IsSpeaking = speaking
	if speaking {
		if prev, ok := s.participants[s.activeSpeaker]; ok && s.activeSpeaker != userID {
			prev.IsSpeaking = false
		}
		s.activeSpeaker = userID
	} else if s.activeSpeaker == userID {
		s.activeSpeaker = ""
	}
}

// NextSeq hands out the next room-scoped subtitle sequence number.
// 每个房间单调递增
func (s *State) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subtitleSeq++
	return s.subtitleSeq
}

// AcceptUtterance dedups consecutive identical recognitions from the
// same speaker. The recognizer often returns the same text for
// overlapping audio windows; emitting it twice doubles every subtitle.
func (s *State) AcceptUtterance(speakerID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUtterance[speakerID] == text {
		return false
	}
	s.lastUtterance[speakerID] = text
	return true
}

// Get returns a copy of one participant.
func (s *State) Get(userID string) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Snapshot returns a copy of all participants for room_state messages.
func (s *State) Snapshot() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

// Size returns the participant count.
func (s *State) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// SessionID returns the cached active meeting session id.
func (s *State) SessionID() string {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.sessionID
}

// OpenSession returns the cached session id, invoking open under the
// room's session lock when none is cached. Two speakers racing their
// first utterance resolve to one open call; the loser reuses the
// winner's id.
func (s *State) OpenSession(open func() (string, error)) string {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.sessionID != "" {
		return s.sessionID
	}
	id, err := open()
	if err != nil || id == "" {
		return ""
	}
	s.sessionID = id
	return id
}

// Policy returns the room policy the state was built with.
func (s *State) Policy() Policy {
	return s.policy
}

// RoomID returns the owning room id.
func (s *State) RoomID() string {
	return s.roomID
}
