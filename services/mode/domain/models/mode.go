package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	modedomain "github.com/ghuser/entitlements/services/mode/domain"
)

// Mode is the cluster-wide operating state.
type Mode string

const (
	ModeNormal  Mode = "NORMAL"
	ModeSuspend Mode = "SUSPEND"
)

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", modedomain.ErrInvalidMode, s)
	}
	return m, nil
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeNormal || m == ModeSuspend
}

func (m Mode) String() string { return string(m) }

// ModeRecord is one append-only entry in the mode history. The current mode
// is the record with the latest ChangeTime.
type ModeRecord struct {
	ID         uuid.UUID `json:"id"`
	Mode       Mode      `json:"mode"`
	Reason     string    `json:"reason"`
	ChangeTime time.Time `json:"changeTime"`
}

// NewModeRecord validates mode and stamps the record with at.
func NewModeRecord(mode Mode, reason string, at time.Time) (ModeRecord, error) {
	if !mode.Valid() {
		return ModeRecord{}, fmt.Errorf("%w: %q", modedomain.ErrInvalidMode, mode)
	}
	return ModeRecord{
		ID:         uuid.New(),
		Mode:       mode,
		Reason:     strings.TrimSpace(reason),
		ChangeTime: at.UTC(),
	}, nil
}

// DefaultRecord is the effective record when the store holds none.
func DefaultRecord() ModeRecord {
	return ModeRecord{Mode: ModeNormal}
}

// IsDefault reports whether r stands in for an empty history.
func (r ModeRecord) IsDefault() bool {
	return r.ID == uuid.Nil
}
