package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/nfrund/orgchat/internal/domain"
	"github.com/stretchr/testify/assert"
)

type testPeer struct {
	id, user string
	mu       sync.Mutex
	frames   [][]byte
	full     bool
}

func (p *testPeer) ConnID() string { return p.id }
func (p *testPeer) UserID() string { return p.user }
func (p *testPeer) Deliver(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}
func (p *testPeer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.frames))
	for i, f := range p.frames {
		out[i] = string(f)
	}
	return out
}

var (
	acme   = domain.RoomKey{OrgID: "acme", GroupID: "general"}
	globex = domain.RoomKey{OrgID: "globex", GroupID: "general"}
)

func TestRouter_BroadcastWithExclusion(t *testing.T) {
	r := NewRouter()
	a := &testPeer{id: "c1", user: "alice"}
	b := &testPeer{id: "c2", user: "bob"}

	assert.True(t, r.Admit(acme, a))
	assert.False(t, r.Admit(acme, a), "double admit")
	r.Admit(acme, b)

	assert.Equal(t, 2, r.Broadcast(acme, []byte("all"), ""))
	assert.Equal(t, 1, r.Broadcast(acme, []byte("not-alice"), "c1"))

	assert.Equal(t, []string{"all"}, a.received())
	assert.Equal(t, []string{"all", "not-alice"}, b.received())
}

func TestRouter_TenantIsolation(t *testing.T) {
	r := NewRouter()
	a := &testPeer{id: "c1", user: "alice"}
	m := &testPeer{id: "c2", user: "mallory"}
	r.Admit(acme, a)
	r.Admit(globex, m)

	r.Broadcast(globex, []byte("secret"), "")
	assert.Empty(t, a.received())
	assert.Equal(t, []string{"secret"}, m.received())
}

func TestRouter_Dismiss(t *testing.T) {
	r := NewRouter()
	a := &testPeer{id: "c1", user: "alice"}

	assert.False(t, r.Dismiss(acme, a), "dismissing a stranger is a no-op")
	r.Admit(acme, a)
	assert.True(t, r.IsAdmitted(acme, "c1"))
	assert.True(t, r.Dismiss(acme, a))
	assert.False(t, r.IsAdmitted(acme, "c1"))
	assert.Equal(t, 0, r.Size(acme))
	assert.Equal(t, 0, r.Broadcast(acme, []byte("x"), ""))
}

func TestRouter_SlowPeerDoesNotAffectOthers(t *testing.T) {
	r := NewRouter()
	slow := &testPeer{id: "c1", user: "alice", full: true}
	fast := &testPeer{id: "c2", user: "bob"}
	r.Admit(acme, slow)
	r.Admit(acme, fast)

	var dropped []string
	r.OnDrop = func(_ domain.RoomKey, p Peer) { dropped = append(dropped, p.ConnID()) }

	assert.Equal(t, 1, r.Broadcast(acme, []byte("x"), ""))
	assert.Equal(t, []string{"x"}, fast.received())
	assert.Equal(t, []string{"c1"}, dropped)
	assert.True(t, r.IsAdmitted(acme, "c1"), "a dropped frame does not evict the peer")
}

func TestRouter_PeersOfUser(t *testing.T) {
	r := NewRouter()
	r.Admit(acme, &testPeer{id: "c1", user: "alice"})
	r.Admit(acme, &testPeer{id: "c2", user: "alice"})
	r.Admit(acme, &testPeer{id: "c3", user: "bob"})

	assert.Len(t, r.PeersOfUser(acme, "alice"), 2)
	assert.Len(t, r.PeersOfUser(globex, "alice"), 0)
}

func TestRouter_ConcurrentAdmitBroadcast(t *testing.T) {
	r := NewRouter()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &testPeer{id: fmt.Sprint(i), user: "u"}
			for j := 0; j < 100; j++ {
				r.Admit(acme, p)
				r.Broadcast(acme, []byte("x"), "")
				r.Dismiss(acme, p)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Size(acme))
}
