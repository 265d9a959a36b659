package discovery

import (
	"sort"
	"sync"
	"time"

	"query_gateway/internal/model"
)

type peerState struct {
	url       string
	lastSeen  time.Time // origin timestamp of the newest applied message
	updatedAt time.Time // local receipt time
	local     bool

	failed    bool // reported by the proxy, cleared by a newer announcement
	suspect   bool // origin silent past the liveness timeout
	withdrawn bool
}

func (p *peerState) healthy() bool {
	return !p.failed && !p.suspect && !p.withdrawn
}

// newer is the conflict rule between two messages for the same
// (deployment, peer): the most recent origin timestamp wins. Ties keep the
// current state, which makes re-delivery a no-op.
func newer(cur *peerState, ts time.Time) bool {
	return cur == nil || ts.After(cur.lastSeen)
}

// record holds every known endpoint for one deployment. Writers lock only
// this record; readers take the read lock.
type record struct {
	mu    sync.RWMutex
	peers map[string]*peerState
}

func newRecord() *record {
	return &record{peers: make(map[string]*peerState)}
}

func (r *record) apply(peerID, url string, ts, now time.Time, local bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !newer(r.peers[peerID], ts) {
		return false
	}
	r.peers[peerID] = &peerState{url: url, lastSeen: ts, updatedAt: now, local: local}
	return true
}

// withdraw leaves a tombstone so a delayed older announcement cannot bring
// the entry back.
func (r *record) withdraw(peerID string, ts, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.peers[peerID]
	if !newer(cur, ts) {
		return false
	}
	tomb := &peerState{lastSeen: ts, updatedAt: now, withdrawn: true}
	if cur != nil {
		tomb.url = cur.url
		tomb.local = cur.local
	}
	r.peers[peerID] = tomb
	return true
}

// applied reports whether a message from peerID at ts is already reflected.
func (r *record) applied(peerID string, ts time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur := r.peers[peerID]
	return cur != nil && !ts.After(cur.lastSeen)
}

func (r *record) markFailed(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.peers[peerID]
	if !ok || cur.failed {
		return false
	}
	cur.failed = true
	return true
}

// candidates returns healthy endpoints, most recently seen first, the local
// node first among equals, then by peer id.
func (r *record) candidates() []model.Endpoint {
	r.mu.RLock()
	type cand struct {
		id string
		*peerState
	}
	list := make([]cand, 0, len(r.peers))
	for id, p := range r.peers {
		if p.healthy() {
			list = append(list, cand{id, p})
		}
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.lastSeen.Equal(b.lastSeen) {
			return a.lastSeen.After(b.lastSeen)
		}
		if a.local != b.local {
			return a.local
		}
		return a.id < b.id
	})

	out := make([]model.Endpoint, len(list))
	for i, c := range list {
		out[i] = model.Endpoint{PeerID: c.id, URL: c.url}
	}
	return out
}

type sweepResult struct {
	suspected []string
	evicted   []string
}

// sweep flags remote entries whose origin has been silent longer than
// liveness and drops those silent longer than stale. heard returns the last
// local receipt time of any message from a peer.
func (r *record) sweep(now time.Time, liveness, stale time.Duration, heard func(string) time.Time) sweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res sweepResult
	for id, p := range r.peers {
		if p.local {
			if p.withdrawn && now.Sub(p.updatedAt) > stale {
				delete(r.peers, id)
			}
			continue
		}
		last := p.updatedAt
		if h := heard(id); h.After(last) {
			last = h
		}
		silent := now.Sub(last)
		switch {
		case silent > stale:
			delete(r.peers, id)
			res.evicted = append(res.evicted, id)
		case silent > liveness:
			if !p.suspect {
				p.suspect = true
				res.suspected = append(res.suspected, id)
			}
		default:
			p.suspect = false
		}
	}
	return res
}

func (r *record) snapshot() []model.PeerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PeerEntry, 0, len(r.peers))
	for id, p := range r.peers {
		if p.withdrawn {
			continue
		}
		out = append(out, model.PeerEntry{
			Endpoint:  model.Endpoint{PeerID: id, URL: p.url},
			LastSeen:  p.lastSeen,
			UpdatedAt: p.updatedAt,
			Healthy:   p.healthy(),
			Local:     p.local,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint.PeerID < out[j].Endpoint.PeerID })
	return out
}
