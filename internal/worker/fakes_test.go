package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/network"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

type memStore struct {
	mu        sync.Mutex
	artifacts map[scrape.Key]scrape.Artifact
	// failWrites makes the next N writes fail.
	failWrites int
	writes     int
}

func newMemStore() *memStore {
	return &memStore{artifacts: map[scrape.Key]scrape.Artifact{}}
}

func (s *memStore) Exists(_ context.Context, key scrape.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.artifacts[key]
	return ok, nil
}

func (s *memStore) Write(_ context.Context, key scrape.Key, artifact scrape.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrites > 0 {
		s.failWrites--
		return errors.Join(scrape.ErrFilesystem, errors.New("disk full"))
	}
	s.artifacts[key] = artifact
	return nil
}

func (s *memStore) Path(key scrape.Key) string {
	return "output/" + key.String() + ".json"
}

func (s *memStore) get(key scrape.Key) (scrape.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[key]
	return a, ok
}

// scriptedAgent replays outcomes in order, repeating the last one.
type scriptedAgent struct {
	mu       sync.Mutex
	outcomes []scrape.Outcome
	panics   bool
	calls    []scrape.Invocation
	onRun    func()
}

func (a *scriptedAgent) Run(_ context.Context, inv scrape.Invocation) scrape.Outcome {
	a.mu.Lock()
	a.calls = append(a.calls, inv)
	n := len(a.calls)
	onRun := a.onRun
	a.mu.Unlock()
	if onRun != nil {
		onRun()
	}
	if a.panics {
		panic("agent exploded")
	}
	if len(a.outcomes) == 0 {
		return scrape.NoOutput(scrape.Usage{})
	}
	if n > len(a.outcomes) {
		n = len(a.outcomes)
	}
	return a.outcomes[n-1]
}

func (a *scriptedAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type fakeSession struct {
	mu        sync.Mutex
	current   string
	urlErr    error
	navigated []string
	stopCalls int
	killCalls int
}

func (s *fakeSession) Endpoint() string { return "http://127.0.0.1:9333" }

func (s *fakeSession) CurrentURL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.urlErr
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	s.current = url
	return nil
}

func (s *fakeSession) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}

func (s *fakeSession) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killCalls++
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	session *fakeSession
	err     error
	specs   []scrape.SessionSpec
}

func (f *fakeFactory) Open(_ context.Context, spec scrape.SessionSpec) (scrape.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type recordingPrompter struct {
	mu    sync.Mutex
	first []bool
	err   error
}

func (p *recordingPrompter) Build(job scrape.Job, first bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.first = append(p.first, first)
	if p.err != nil {
		return "", p.err
	}
	return "find " + job.Product + " at " + job.EntryURL, nil
}

type staticNetwork struct{ settings network.Settings }

func (n staticNetwork) For(string) network.Settings { return n.settings }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return string(rune('a' + g.n - 1)), nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func validArtifact(name string) scrape.Artifact {
	bio := false
	price := 4.5
	return scrape.Artifact{Products: []scrape.ProductRecord{{
		Name:            name,
		SupermarketName: "Carrefour",
		Country:         "France",
		Bio:             &bio,
		PricePerKg:      &price,
	}}}
}
