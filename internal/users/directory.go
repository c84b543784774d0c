package users

import (
	"sync"
	"time"

	"github.com/example/campusride/internal/advisory"
	"github.com/example/campusride/internal/models"
)

// Directory holds user verification state. An approved user stays approved:
// later negative verdicts only update the recorded reason.
type Directory struct {
	mu    sync.RWMutex
	users map[string]models.UserProfile
	now   func() time.Time
}

func NewDirectory() *Directory {
	return &Directory{users: make(map[string]models.UserProfile), now: time.Now}
}

func (d *Directory) Get(userID string) models.UserProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.users[userID]; ok {
		return p
	}
	return models.UserProfile{ID: userID, VerificationStatus: models.VerificationNone}
}

// RecordVerdict applies a document verdict to the user's profile.
func (d *Directory) RecordVerdict(userID string, v advisory.Verdict) models.UserProfile {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.users[userID]
	if !ok {
		p = models.UserProfile{ID: userID}
	}
	switch {
	case v.Approved:
		p.IsVerified = true
		p.VerificationStatus = models.VerificationOK
	case !p.IsVerified:
		p.VerificationStatus = models.VerificationPending
	}
	p.Confidence = v.Confidence
	p.Reason = v.Reason
	p.UpdatedAt = d.now()
	d.users[userID] = p
	return p
}
