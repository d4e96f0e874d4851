package bridge

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/deskwire/internal/protocol"
)

// PendingChallenge tracks one MFA challenge awaiting a client response.
type PendingChallenge struct {
	ChallengeID   string
	Session       string
	Type          protocol.MFAType
	IssuedAt      time.Time
	Deadline      time.Time
	Attempts      int
	LastAttemptAt time.Time
	LastError     string
}

// ChallengeBox stores pending challenges by stable challenge id. It holds
// no session handles and records no metrics; callers own both.
type ChallengeBox struct {
	mu    sync.RWMutex
	items map[string]PendingChallenge
}

func NewChallengeBox() *ChallengeBox {
	return &ChallengeBox{
		items: make(map[string]PendingChallenge),
	}
}

func (b *ChallengeBox) Issue(item PendingChallenge) {
	key := strings.TrimSpace(item.ChallengeID)
	if key == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = item
}

func (b *ChallengeBox) MarkAttempt(challengeID string, at time.Time, lastErr string) (PendingChallenge, bool) {
	key := strings.TrimSpace(challengeID)
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[key]
	if !ok {
		return PendingChallenge{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	b.items[key] = item
	return item, true
}

func (b *ChallengeBox) Remove(challengeID string) {
	key := strings.TrimSpace(challengeID)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, key)
}

func (b *ChallengeBox) Get(challengeID string) (PendingChallenge, bool) {
	key := strings.TrimSpace(challengeID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	item, ok := b.items[key]
	return item, ok
}

func (b *ChallengeBox) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

func (b *ChallengeBox) List() []PendingChallenge {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PendingChallenge, 0, len(b.items))
	for _, item := range b.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChallengeID < out[j].ChallengeID
	})
	return out
}

// Expire removes every challenge whose deadline has passed and returns
// the removed set, sorted by challenge id. Challenges without a deadline
// never expire.
func (b *ChallengeBox) Expire(now time.Time) []PendingChallenge {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []PendingChallenge
	for key, item := range b.items {
		if item.Deadline.IsZero() || now.Before(item.Deadline) {
			continue
		}
		delete(b.items, key)
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChallengeID < out[j].ChallengeID
	})
	return out
}
