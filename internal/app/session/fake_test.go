package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/dkeye/audiocast/internal/metrics"
	"github.com/stretchr/testify/require"
)

// journal records the order in which the fakes were called.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeSignal struct {
	j      *journal
	in     chan inbound
	closed chan struct{}
	once   sync.Once
	// sendErr, when set, fails every Send.
	sendErr error

	mu   sync.Mutex
	sent []domain.SignalMessage
}

func newFakeSignal(j *journal) *fakeSignal {
	return &fakeSignal{j: j, in: make(chan inbound, 16), closed: make(chan struct{})}
}

func (f *fakeSignal) Recv() (domain.SignalMessage, error) {
	select {
	case in := <-f.in:
		return in.msg, in.err
	case <-f.closed:
		return domain.SignalMessage{}, core.ErrTransportDisconnect
	}
}

func (f *fakeSignal) Send(m domain.SignalMessage) error {
	select {
	case <-f.closed:
		return core.ErrTransportDisconnect
	default:
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	f.j.add("send %s", m.Type)
	return nil
}

func (f *fakeSignal) Close() { f.once.Do(func() { close(f.closed) }) }

func (f *fakeSignal) push(m domain.SignalMessage) { f.in <- inbound{msg: m} }

func (f *fakeSignal) sentMessages() []domain.SignalMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SignalMessage(nil), f.sent...)
}

type fakeMedia struct {
	j *journal
	// answerGate, when set, holds CreateAnswer until it is closed.
	answerGate chan struct{}
	applyErr   error

	mu      sync.Mutex
	onState func(core.MediaState)
	closes  int
	cands   []domain.Candidate
}

func (f *fakeMedia) AttachTrack(core.AudioTrack) error { f.j.add("attach"); return nil }

func (f *fakeMedia) ApplyOffer(sdp string) error {
	f.j.add("offer %s", sdp)
	return f.applyErr
}

func (f *fakeMedia) CreateAnswer(ctx context.Context) (string, error) {
	if f.answerGate != nil {
		select {
		case <-f.answerGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.j.add("create answer")
	return "v=0 answer", nil
}

func (f *fakeMedia) AddICECandidate(c domain.Candidate) error {
	f.mu.Lock()
	f.cands = append(f.cands, c)
	f.mu.Unlock()
	f.j.add("candidate %s", c.Candidate)
	return nil
}

func (f *fakeMedia) OnStateChange(fn func(core.MediaState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeMedia) fire(st core.MediaState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(st)
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeMedia) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeFactory struct{ media *fakeMedia }

func (f fakeFactory) NewConnection(core.SessionID) (core.MediaConnection, error) {
	return f.media, nil
}

type fakeTrack struct {
	done     chan struct{}
	err      error
	endOnce  sync.Once
	mu       sync.Mutex
	closeCnt int
}

func (t *fakeTrack) NextFrame(ctx context.Context) (domain.Frame, error) {
	select {
	case <-t.done:
		return domain.Frame{}, t.err
	case <-ctx.Done():
		return domain.Frame{}, ctx.Err()
	}
}

func (t *fakeTrack) Done() <-chan struct{} { return t.done }

func (t *fakeTrack) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *fakeTrack) end(err error) {
	t.endOnce.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *fakeTrack) Close() {
	t.mu.Lock()
	t.closeCnt++
	t.mu.Unlock()
	t.end(core.ErrStreamEnded)
}

func (t *fakeTrack) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCnt
}

type fakeSource struct {
	err error

	mu     sync.Mutex
	tracks []*fakeTrack
}

func (s *fakeSource) Subscribe() (core.AudioTrack, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTrack{done: make(chan struct{})}
	s.tracks = append(s.tracks, t)
	return t, nil
}

func (s *fakeSource) track(t *testing.T) *fakeTrack {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.tracks, 1)
	return s.tracks[0]
}

type countingRegistry struct {
	mu       sync.Mutex
	sessions []core.StreamSession
	removed  map[core.SessionID]int
	added    chan core.StreamSession
}

func newCountingRegistry() *countingRegistry {
	return &countingRegistry{removed: map[core.SessionID]int{}, added: make(chan core.StreamSession, 1)}
}

func (r *countingRegistry) Add(s core.StreamSession) {
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	r.added <- s
}

func (r *countingRegistry) Remove(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed[sid]++
	return r.removed[sid] == 1
}

func (r *countingRegistry) removals(sid core.SessionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed[sid]
}

// harness runs one session in the background.
type harness struct {
	j      *journal
	sig    *fakeSignal
	media  *fakeMedia
	source *fakeSource
	reg    *countingRegistry
	sess   *Session
	result chan error
}

func startSession(t *testing.T, setup func(h *harness)) *harness {
	t.Helper()
	j := &journal{}
	h := &harness{
		j:      j,
		sig:    newFakeSignal(j),
		media:  &fakeMedia{j: j},
		source: &fakeSource{},
		reg:    newCountingRegistry(),
		result: make(chan error, 1),
	}
	if setup != nil {
		setup(h)
	}
	m := &Manager{
		Source:   h.source,
		Media:    fakeFactory{media: h.media},
		Registry: h.reg,
		Metrics:  metrics.New(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.result <- m.Serve(ctx, "client-1", h.sig) }()

	select {
	case s := <-h.reg.added:
		h.sess = s.(*Session)
	case <-time.After(time.Second):
		t.Fatal("session not registered")
	}
	return h
}

// wait returns the error Serve finished with.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func (h *harness) waitState(t *testing.T, want core.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sess.State() == want }, time.Second, 2*time.Millisecond,
		"state is %s, want %s", h.sess.State(), want)
}

func candidate(s string) domain.SignalMessage {
	return domain.CandidateMessage(domain.Candidate{Candidate: s})
}

var errDevice = errors.New("device unplugged")
