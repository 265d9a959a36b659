package projects

import (
	"context"
	"errors"
	"sync"
	"testing"

	"query_gateway/internal/model"
)

type fakeSource struct {
	mu       sync.Mutex
	projects []model.Project
	err      error
}

func (s *fakeSource) set(p ...model.Project) {
	s.mu.Lock()
	s.projects = p
	s.mu.Unlock()
}

func (s *fakeSource) List(context.Context) ([]model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Project(nil), s.projects...), s.err
}

type fakeOverlay struct {
	mu        sync.Mutex
	announced map[string]string
	withdrawn []string
	calls     int
}

func (o *fakeOverlay) Announce(_ context.Context, id, endpoint string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if endpoint == "bad" {
		return model.ErrMalformedInput
	}
	o.announced[id] = endpoint
	return nil
}

func (o *fakeOverlay) Withdraw(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.announced, id)
	o.withdrawn = append(o.withdrawn, id)
	return nil
}

func proj(id, endpoint string) model.Project {
	return model.Project{DeploymentID: id, Endpoint: endpoint, Enabled: true}
}

func TestSyncAnnouncesChangesAndWithdrawsRemoved(t *testing.T) {
	src := &fakeSource{}
	ov := &fakeOverlay{announced: map[string]string{}}
	a := NewAnnouncer(src, ov, 0)

	src.set(proj("Qm1", "http://a"), proj("Qm2", "http://b"), proj("Qm3", "bad"))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(ov.announced) != 2 || ov.announced["Qm1"] != "http://a" || ov.announced["Qm2"] != "http://b" {
		t.Fatalf("announced %v", ov.announced)
	}

	calls := ov.calls
	if err := a.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	// Qm3 keeps failing, the others are unchanged.
	if ov.calls != calls+1 {
		t.Fatalf("resync announced %d times, want 1", ov.calls-calls)
	}

	src.set(proj("Qm1", "http://a2"))
	if err := a.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if ov.announced["Qm1"] != "http://a2" {
		t.Fatalf("endpoint change not announced: %v", ov.announced)
	}
	if len(ov.withdrawn) != 1 || ov.withdrawn[0] != "Qm2" {
		t.Fatalf("withdrawn %v", ov.withdrawn)
	}

	a.Stop()
	if len(ov.announced) != 0 {
		t.Fatalf("still announced after stop: %v", ov.announced)
	}
}

func TestStartFailsWhenSourceFails(t *testing.T) {
	src := &fakeSource{err: errors.New("mongo down")}
	a := NewAnnouncer(src, &fakeOverlay{announced: map[string]string{}}, 0)
	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("start succeeded with failing source")
	}
}
