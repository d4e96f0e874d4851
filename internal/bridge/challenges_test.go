package bridge

import (
	"testing"
	"time"

	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/testutil/testlog"
)

func TestChallengeBoxLifecycle(t *testing.T) {
	testlog.Start(t)

	box := NewChallengeBox()
	now := time.Now()

	box.Issue(PendingChallenge{ChallengeID: "chal.b", Session: "sess.1", Type: protocol.MFATypeWebAuthn, IssuedAt: now, Deadline: now.Add(time.Minute)})
	box.Issue(PendingChallenge{ChallengeID: "chal.a", Session: "sess.2", Type: protocol.MFATypeU2F, IssuedAt: now, Deadline: now.Add(time.Minute)})
	box.Issue(PendingChallenge{ChallengeID: "   ", Session: "sess.3"})

	if got := box.Len(); got != 2 {
		t.Fatalf("Len got=%d want=2", got)
	}
	list := box.List()
	if list[0].ChallengeID != "chal.a" || list[1].ChallengeID != "chal.b" {
		t.Fatalf("List order got=[%s %s] want=[chal.a chal.b]", list[0].ChallengeID, list[1].ChallengeID)
	}

	item, ok := box.MarkAttempt("chal.a", now.Add(time.Second), " bad signature ")
	if !ok || item.Attempts != 1 || item.LastError != "bad signature" {
		t.Fatalf("MarkAttempt got=%+v ok=%v", item, ok)
	}
	if _, ok := box.MarkAttempt("chal.missing", now, ""); ok {
		t.Fatalf("MarkAttempt on missing id should report false")
	}

	box.Remove("chal.a")
	if _, ok := box.Get("chal.a"); ok {
		t.Fatalf("Get after Remove should miss")
	}
	if _, ok := box.Get("chal.b"); !ok {
		t.Fatalf("chal.b should remain")
	}
}

func TestChallengeBoxExpire(t *testing.T) {
	testlog.Start(t)

	box := NewChallengeBox()
	now := time.Now()
	box.Issue(PendingChallenge{ChallengeID: "chal.live", Session: "sess.1", Deadline: now.Add(time.Minute)})
	box.Issue(PendingChallenge{ChallengeID: "chal.old", Session: "sess.2", Deadline: now.Add(-time.Second)})
	box.Issue(PendingChallenge{ChallengeID: "chal.eternal", Session: "sess.3"})

	expired := box.Expire(now)
	if len(expired) != 1 || expired[0].ChallengeID != "chal.old" {
		t.Fatalf("Expire removed wrong set: %+v", expired)
	}
	if got := box.Len(); got != 2 {
		t.Fatalf("Len after expire got=%d want=2", got)
	}
	if _, ok := box.Get("chal.eternal"); !ok {
		t.Fatalf("zero-deadline challenge must never expire")
	}
}
