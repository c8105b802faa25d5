package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/giftswap/exchange-backend/internal/engine"
	"github.com/giftswap/exchange-backend/internal/ranking"
	"github.com/giftswap/exchange-backend/internal/store"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan Frame, within time.Duration) Frame {
	t.Helper()
	select {
	case frame, ok := <-ch:
		if !ok {
			t.Fatalf("observer outbox closed unexpectedly")
		}
		return frame
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return Frame{} // unreachable
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func await(t *testing.T, reply <-chan error) error {
	t.Helper()
	select {
	case err := <-reply:
		return err
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reply")
		return nil // unreachable
	}
}

func sendCmd(t *testing.T, s *Session, cmd engine.Command) error {
	t.Helper()
	reply := make(chan error, 1)
	s.Inbox() <- Do{Cmd: cmd, Reply: reply}
	return await(t, reply)
}

func sendStart(t *testing.T, s *Session) error {
	t.Helper()
	reply := make(chan error, 1)
	s.Inbox() <- Start{Reply: reply}
	return await(t, reply)
}

func sendSealed(t *testing.T, s *Session) error {
	t.Helper()
	reply := make(chan error, 1)
	s.Inbox() <- GenerateSealed{Reply: reply}
	return await(t, reply)
}

func sendReset(t *testing.T, s *Session) error {
	t.Helper()
	reply := make(chan error, 1)
	s.Inbox() <- Reset{Reply: reply}
	return await(t, reply)
}

func newTestSession(t *testing.T) (*Session, *store.Memory) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	base := time.Date(2025, 12, 1, 18, 0, 0, 0, time.UTC)
	participants := []engine.Participant{
		{ID: "A", Name: "Ana", Eligible: true},
		{ID: "B", Name: "Bruno", Eligible: true},
		{ID: "C", Name: "Carla", Eligible: true},
		{ID: "D", Name: "Dario", Eligible: false}, // no offering submitted
	}
	offerings := map[string]string{"Ga": "A", "Gb": "B", "Gc": "C"}
	results := map[string]ranking.Result{
		"A": {Correct: true, ElapsedSeconds: 5, SubmittedAt: base},
		"B": {Correct: true, ElapsedSeconds: 9, SubmittedAt: base},
		"C": {Correct: false, ElapsedSeconds: 4, SubmittedAt: base},
	}

	st := store.NewMemory()
	s := New(ctx, "TEST01", participants, offerings, results, st, zap.NewNop())
	return s, st
}

func view(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	return recvView(t, reply, time.Second)
}

func start(t *testing.T, s *Session) View {
	t.Helper()
	if err := sendStart(t, s); err != nil {
		t.Fatalf("start: %v", err)
	}
	return view(t, s)
}

func TestSession_JoinSendsSnapshot(t *testing.T) {
	s, _ := newTestSession(t)

	out := make(chan Frame, 2)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}

	first := recvFrame(t, out, time.Second)
	if first.Snapshot.Version != 0 {
		t.Fatalf("after join: want version=0, got %d", first.Snapshot.Version)
	}
	if first.Snapshot.State.Status != engine.StatusNotStarted {
		t.Fatalf("want not_started, got %s", first.Snapshot.State.Status)
	}
	if len(first.Snapshot.Participants) != 4 {
		t.Fatalf("snapshot should carry participants, got %d", len(first.Snapshot.Participants))
	}
}

func TestSession_StartRanksEligibleParticipants(t *testing.T) {
	s, _ := newTestSession(t)

	out := make(chan Frame, 4)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvFrame(t, out, time.Second)

	v := start(t, s)
	if v.Version != 1 {
		t.Fatalf("after start: want version=1, got %d", v.Version)
	}
	// Quiz order: A (correct, fast), B (correct, slow), C (incorrect).
	// D never submitted an offering and gets no turn.
	want := []string{"A", "B", "C"}
	if len(v.State.Turns) != len(want) {
		t.Fatalf("want %d turns, got %d", len(want), len(v.State.Turns))
	}
	for i, pid := range want {
		if v.State.Turns[i].ParticipantID != pid {
			t.Fatalf("turn %d: want %s, got %s", i, pid, v.State.Turns[i].ParticipantID)
		}
	}

	frame := recvFrame(t, out, time.Second)
	if !hasNotice(frame, "session_started") {
		t.Fatalf("expected session_started notice, got %+v", frame.Notices)
	}
}

func TestSession_ClaimBroadcastsNoticeAndSnapshot(t *testing.T) {
	s, _ := newTestSession(t)
	v := start(t, s)

	out := make(chan Frame, 4)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvFrame(t, out, time.Second)

	turn := v.State.Turns[0]
	err := sendCmd(t, s, engine.Command{Type: engine.CmdClaim, TurnID: turn.ID, OfferingID: "Gb", RequesterID: "A"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	frame := recvFrame(t, out, time.Second)
	if !hasNotice(frame, "gift_chosen") {
		t.Fatalf("expected gift_chosen notice, got %+v", frame.Notices)
	}
	if frame.Snapshot.Version != 2 {
		t.Fatalf("want version=2, got %d", frame.Snapshot.Version)
	}
	if frame.Snapshot.State.Reveal == nil || frame.Snapshot.State.Reveal.OfferingID != "Gb" {
		t.Fatalf("snapshot should show the open reveal, got %+v", frame.Snapshot.State.Reveal)
	}
}

func TestSession_DuplicateClaims_ExactlyOneWinner(t *testing.T) {
	s, _ := newTestSession(t)
	v := start(t, s)
	turn := v.State.Turns[0]

	cmd := engine.Command{Type: engine.CmdClaim, TurnID: turn.ID, OfferingID: "Gb", RequesterID: "A"}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := make(chan error, 1)
			s.Inbox() <- Do{Cmd: cmd, Reply: reply}
			errs <- <-reply
		}()
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		losses++
		if !errors.Is(err, engine.ErrRevealInProgress) && !errors.Is(err, engine.ErrGiftAlreadyClaimed) {
			t.Fatalf("loser got unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("want exactly one winner, got wins=%d losses=%d", wins, losses)
	}

	// Single in-flight reveal: exactly one turn claimed-but-open.
	after := view(t, s)
	open := 0
	for _, turn := range after.State.Turns {
		if turn.ChosenOfferingID != "" && turn.CompletedAt.IsZero() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("want one open claim, got %d", open)
	}
}

func TestSession_WriteThroughPersistence(t *testing.T) {
	s, st := newTestSession(t)
	v := start(t, s)
	turn := v.State.Turns[0]

	err := sendCmd(t, s, engine.Command{Type: engine.CmdClaim, TurnID: turn.ID, OfferingID: "Gc", RequesterID: "A"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	rec, err := st.Load(context.Background(), "TEST01")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Version != 2 || rec.Status != string(engine.StatusActive) {
		t.Fatalf("record out of date: %+v", rec)
	}
	var persisted engine.State
	if err := json.Unmarshal(rec.Snapshot, &persisted); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if persisted.Reveal == nil || persisted.Reveal.OfferingID != "Gc" {
		t.Fatalf("persisted state missing reveal: %+v", persisted)
	}
}

func TestSession_GenerateSealed(t *testing.T) {
	s, _ := newTestSession(t)

	if err := sendSealed(t, s); err != nil {
		t.Fatalf("generate: %v", err)
	}
	v := view(t, s)
	if v.State.Mode != engine.ModeSealed || v.State.Status != engine.StatusCompleted {
		t.Fatalf("want sealed/completed, got %+v", v.State)
	}
	if len(v.State.Assignments) != 3 { // D is not eligible
		t.Fatalf("want 3 assignments, got %d", len(v.State.Assignments))
	}

	err := sendSealed(t, s)
	if !errors.Is(err, engine.ErrAlreadyGenerated) {
		t.Fatalf("want ErrAlreadyGenerated, got %v", err)
	}
}

func TestSession_ResetReturnsToNotStarted(t *testing.T) {
	s, _ := newTestSession(t)
	v := start(t, s)
	turn := v.State.Turns[0]

	_ = sendCmd(t, s, engine.Command{Type: engine.CmdClaim, TurnID: turn.ID, OfferingID: "Gb", RequesterID: "A"})

	if err := sendReset(t, s); err != nil {
		t.Fatalf("reset: %v", err)
	}
	after := view(t, s)
	if after.State.Status != engine.StatusNotStarted || len(after.State.Turns) != 0 {
		t.Fatalf("reset left residue: %+v", after.State)
	}
	if after.Version != 3 {
		t.Fatalf("reset must bump the version, got %d", after.Version)
	}

	// The event can start again after a reset.
	if err := sendStart(t, s); err != nil {
		t.Fatalf("restart after reset: %v", err)
	}
}

func TestSession_DropSlowObserver(t *testing.T) {
	s, _ := newTestSession(t)

	out := make(chan Frame, 1)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	// The join snapshot fills the buffer; the next broadcast cannot be
	// delivered and the observer gets dropped.

	if err := sendStart(t, s); err != nil {
		t.Fatalf("start: %v", err)
	}

	v := view(t, s)
	if v.NumClients != 0 {
		t.Fatalf("expected slow observer to be dropped; NumClients=%d", v.NumClients)
	}
}

func TestSession_RestoreContinuesFromRecord(t *testing.T) {
	s, st := newTestSession(t)
	v := start(t, s)

	turn := v.State.Turns[0]
	if err := sendCmd(t, s, engine.Command{Type: engine.CmdClaim, TurnID: turn.ID, OfferingID: "Gb", RequesterID: "A"}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	rec, err := st.Load(context.Background(), "TEST01")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}

	// A second process picks the record up without the original actor.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	restored, err := Restore(ctx, rec, st, zap.NewNop())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	rv := view(t, restored)
	if rv.Version != 2 {
		t.Fatalf("restored version: want 2, got %d", rv.Version)
	}
	if rv.State.Status != engine.StatusActive {
		t.Fatalf("restored status: want active, got %s", rv.State.Status)
	}
	if rv.State.Reveal == nil || rv.State.Reveal.OfferingID != "Gb" {
		t.Fatalf("restored reveal lost: %+v", rv.State.Reveal)
	}

	// The setup survives too: the claimant can close its reveal and the
	// session keeps ranking with the original participants.
	err = sendCmd(t, restored, engine.Command{Type: engine.CmdClose, TurnID: turn.ID, RequesterID: "A"})
	if err != nil {
		t.Fatalf("close on restored session: %v", err)
	}
	rv = view(t, restored)
	if rv.Version != 3 {
		t.Fatalf("restored session should keep versions monotonic, got %d", rv.Version)
	}
	if rv.State.Cursor != 1 {
		t.Fatalf("cursor after close: want 1, got %d", rv.State.Cursor)
	}

	out := make(chan Frame, 2)
	restored.Inbox() <- Join{ClientID: "c1", Outbox: out}
	frame := recvFrame(t, out, time.Second)
	if len(frame.Snapshot.Participants) != 4 {
		t.Fatalf("restored snapshot should carry participants, got %d", len(frame.Snapshot.Participants))
	}
}

func hasNotice(frame Frame, noticeType string) bool {
	for _, n := range frame.Notices {
		if n.Type == noticeType {
			return true
		}
	}
	return false
}
