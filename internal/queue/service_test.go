package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/day"
)

// memRepo mirrors the repository contract in memory: the whole
// allocate-and-insert runs under one mutex, duplicates of an active
// (clinic, patient, day) are rejected, and a rejected insert spends no
// number.
type memRepo struct {
	mu     sync.Mutex
	seq    map[string]int
	tokens map[uuid.UUID]*VisitToken
}

func newMemRepo() *memRepo {
	return &memRepo{
		seq:    make(map[string]int),
		tokens: make(map[uuid.UUID]*VisitToken),
	}
}

func seqKey(clinicID uuid.UUID, dayKey string) string {
	return clinicID.String() + "|" + dayKey
}

func (m *memRepo) CreateToken(_ context.Context, p BookParams) (*VisitToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tokens {
		if t.ClinicID == p.ClinicID && t.PatientID == p.PatientID && t.Day == p.Day && t.Active() {
			return nil, ErrDuplicateActiveToken
		}
	}

	key := seqKey(p.ClinicID, p.Day)
	m.seq[key]++
	now := time.Now()
	t := &VisitToken{
		ID:        uuid.New(),
		ClinicID:  p.ClinicID,
		Day:       p.Day,
		Number:    m.seq[key],
		PatientID: p.PatientID,
		Origin:    p.Origin,
		Status:    StatusWaiting,
		DoctorID:  p.DoctorID,
		Reason:    p.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.tokens[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *memRepo) GetToken(_ context.Context, id uuid.UUID) (*VisitToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) UpdateTokenStatus(_ context.Context, id uuid.UUID, from, to Status) (*VisitToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.Status != from {
		return nil, ErrTokenNotFound
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (m *memRepo) ListDay(_ context.Context, clinicID uuid.UUID, dayKey string) ([]VisitToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VisitToken
	for _, t := range m.tokens {
		if t.ClinicID == clinicID && t.Day == dayKey {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *memRepo) ActiveForPatient(_ context.Context, patientID uuid.UUID, dayKey string) (*VisitToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.PatientID == patientID && t.Day == dayKey && t.Active() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (m *memRepo) CountActiveAhead(_ context.Context, clinicID uuid.UUID, dayKey string, number int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.tokens {
		if t.ClinicID == clinicID && t.Day == dayKey && t.Number < number && t.Active() {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) ListForPatient(_ context.Context, patientID uuid.UUID, limit int) ([]VisitToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VisitToken
	for _, t := range m.tokens {
		if t.PatientID == patientID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day > out[j].Day
		}
		return out[i].Number > out[j].Number
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func staffActor(role Role, clinicID uuid.UUID) Actor {
	return Actor{ID: uuid.New(), Role: role, ClinicID: &clinicID}
}

func TestBookAssignsDenseNumbersUnderConcurrency(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, 3)
	clinicID := uuid.New()

	const bookings = 50
	var wg sync.WaitGroup
	numbers := make(chan int, bookings)
	for i := 0; i < bookings; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := svc.Book(context.Background(), BookRequest{
				ClinicID:  clinicID,
				PatientID: uuid.New(),
				Origin:    OriginOffline,
			})
			if err != nil {
				t.Errorf("Book: %v", err)
				return
			}
			numbers <- tok.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for n := range numbers {
		if seen[n] {
			t.Fatalf("duplicate token number %d", n)
		}
		seen[n] = true
	}
	if len(seen) != bookings {
		t.Fatalf("got %d numbers, want %d", len(seen), bookings)
	}
	for n := 1; n <= bookings; n++ {
		if !seen[n] {
			t.Fatalf("gap: number %d was never assigned", n)
		}
	}
}

func TestBookRejectsSecondActiveToken(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, 3)
	clinicID := uuid.New()
	patientID := uuid.New()

	first, err := svc.Book(context.Background(), BookRequest{ClinicID: clinicID, PatientID: patientID, Origin: OriginOnline})
	if err != nil {
		t.Fatalf("first Book: %v", err)
	}

	if _, err := svc.Book(context.Background(), BookRequest{ClinicID: clinicID, PatientID: patientID, Origin: OriginOnline}); !errors.Is(err, ErrDuplicateActiveToken) {
		t.Fatalf("second Book err = %v, want ErrDuplicateActiveToken", err)
	}

	// Cancelling the first slot frees the patient to book again.
	if _, err := svc.Transition(context.Background(), first.ID, StatusCancelled, Actor{ID: patientID, Role: RolePatient}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	again, err := svc.Book(context.Background(), BookRequest{ClinicID: clinicID, PatientID: patientID, Origin: OriginOnline})
	if err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
	if again.Number != 2 {
		t.Fatalf("rebooked number = %d, want 2", again.Number)
	}
}

type conflictRepo struct {
	*memRepo
	failures int
	attempts int
}

func (c *conflictRepo) CreateToken(ctx context.Context, p BookParams) (*VisitToken, error) {
	c.attempts++
	if c.attempts <= c.failures {
		return nil, ErrConflict
	}
	return c.memRepo.CreateToken(ctx, p)
}

func TestBookRetriesBoundedOnConflict(t *testing.T) {
	repo := &conflictRepo{memRepo: newMemRepo(), failures: 2}
	svc := NewService(repo, 3)

	tok, err := svc.Book(context.Background(), BookRequest{ClinicID: uuid.New(), PatientID: uuid.New(), Origin: OriginOffline})
	if err != nil {
		t.Fatalf("Book should succeed on third attempt: %v", err)
	}
	if tok.Number != 1 {
		t.Fatalf("number = %d, want 1", tok.Number)
	}
	if repo.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", repo.attempts)
	}

	exhausted := &conflictRepo{memRepo: newMemRepo(), failures: 10}
	svc = NewService(exhausted, 3)
	if _, err := svc.Book(context.Background(), BookRequest{ClinicID: uuid.New(), PatientID: uuid.New(), Origin: OriginOffline}); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want wrapped ErrConflict after exhausted retries", err)
	}
	if exhausted.attempts != 3 {
		t.Fatalf("attempts = %d, want exactly 3", exhausted.attempts)
	}
}

func TestTransitionEnforcesRulesAndActors(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, 1)
	clinicID := uuid.New()
	otherClinic := uuid.New()
	patientID := uuid.New()

	book := func() *VisitToken {
		t.Helper()
		tok, err := svc.Book(context.Background(), BookRequest{ClinicID: clinicID, PatientID: patientID, Origin: OriginOffline})
		if err != nil {
			t.Fatalf("Book: %v", err)
		}
		return tok
	}

	t.Run("doctor advances and completes", func(t *testing.T) {
		tok := book()
		doctor := staffActor(RoleDoctor, clinicID)
		if _, err := svc.Transition(context.Background(), tok.ID, StatusInConsultation, doctor); err != nil {
			t.Fatalf("start consultation: %v", err)
		}
		done, err := svc.Transition(context.Background(), tok.ID, StatusCompleted, doctor)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if done.Status != StatusCompleted {
			t.Fatalf("status = %s, want completed", done.Status)
		}
	})

	t.Run("terminal states reject every transition", func(t *testing.T) {
		tok := book()
		doctor := staffActor(RoleDoctor, clinicID)
		if _, err := svc.Transition(context.Background(), tok.ID, StatusCancelled, doctor); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		for _, target := range []Status{StatusWaiting, StatusInConsultation, StatusCompleted, StatusCancelled} {
			if _, err := svc.Transition(context.Background(), tok.ID, target, doctor); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("cancelled -> %s err = %v, want ErrInvalidTransition", target, err)
			}
		}
	})

	t.Run("staff of another clinic is forbidden", func(t *testing.T) {
		tok := book()
		outsider := staffActor(RoleAttender, otherClinic)
		if _, err := svc.Transition(context.Background(), tok.ID, StatusInConsultation, outsider); !errors.Is(err, ErrForbidden) {
			t.Fatalf("err = %v, want ErrForbidden", err)
		}
		// cleanup so the patient can book in later subtests
		if _, err := svc.Transition(context.Background(), tok.ID, StatusCancelled, staffActor(RoleAttender, clinicID)); err != nil {
			t.Fatalf("cleanup cancel: %v", err)
		}
	})

	t.Run("patient may only cancel own waiting token", func(t *testing.T) {
		tok := book()
		stranger := Actor{ID: uuid.New(), Role: RolePatient}
		if _, err := svc.Transition(context.Background(), tok.ID, StatusCancelled, stranger); !errors.Is(err, ErrForbidden) {
			t.Fatalf("stranger cancel err = %v, want ErrForbidden", err)
		}
		if _, err := svc.Transition(context.Background(), tok.ID, StatusInConsultation, Actor{ID: patientID, Role: RolePatient}); !errors.Is(err, ErrForbidden) {
			t.Fatalf("patient starting consultation err = %v, want ErrForbidden", err)
		}
		if _, err := svc.Transition(context.Background(), tok.ID, StatusCancelled, Actor{ID: patientID, Role: RolePatient}); err != nil {
			t.Fatalf("owner cancel: %v", err)
		}
	})

	t.Run("unknown token id", func(t *testing.T) {
		if _, err := svc.Transition(context.Background(), uuid.New(), StatusCancelled, staffActor(RoleDoctor, clinicID)); !errors.Is(err, ErrTokenNotFound) {
			t.Fatalf("err = %v, want ErrTokenNotFound", err)
		}
	})
}

func TestSnapshotPositionsRecomputedLive(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, 1)
	clinicID := uuid.New()
	attender := staffActor(RoleAttender, clinicID)

	var toks []*VisitToken
	for i := 0; i < 4; i++ {
		tok, err := svc.Book(context.Background(), BookRequest{ClinicID: clinicID, PatientID: uuid.New(), Origin: OriginOffline})
		if err != nil {
			t.Fatalf("Book: %v", err)
		}
		toks = append(toks, tok)
	}

	today := day.Key(time.Now())
	positionOf := func(id uuid.UUID) int {
		t.Helper()
		entries, err := svc.Snapshot(context.Background(), clinicID, today)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		for _, e := range entries {
			if e.Token.ID == id {
				if e.Position == nil {
					t.Fatalf("token %s has no position", id)
				}
				return *e.Position
			}
		}
		t.Fatalf("token %s missing from snapshot", id)
		return -1
	}

	if got := positionOf(toks[2].ID); got != 2 {
		t.Fatalf("position of #3 = %d, want 2", got)
	}

	// Cancelling a later token must not move earlier ones.
	if _, err := svc.Transition(context.Background(), toks[3].ID, StatusCancelled, attender); err != nil {
		t.Fatalf("cancel #4: %v", err)
	}
	if got := positionOf(toks[2].ID); got != 2 {
		t.Fatalf("position of #3 after cancelling #4 = %d, want 2", got)
	}

	// Cancelling an earlier token moves it up by exactly one.
	if _, err := svc.Transition(context.Background(), toks[0].ID, StatusCancelled, attender); err != nil {
		t.Fatalf("cancel #1: %v", err)
	}
	if got := positionOf(toks[2].ID); got != 1 {
		t.Fatalf("position of #3 after cancelling #1 = %d, want 1", got)
	}

	// A token in consultation still occupies its slot.
	if _, err := svc.Transition(context.Background(), toks[1].ID, StatusInConsultation, attender); err != nil {
		t.Fatalf("start #2: %v", err)
	}
	if got := positionOf(toks[2].ID); got != 1 {
		t.Fatalf("position of #3 with #2 in consultation = %d, want 1", got)
	}
}

func TestActiveVisitReportsPatientsAhead(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, 1)
	clinicID := uuid.New()
	attender := staffActor(RoleAttender, clinicID)

	first, err := svc.Book(context.Background(), BookRequest{ClinicID: clinicID, PatientID: uuid.New(), Origin: OriginOffline})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	mine := uuid.New()
	if _, err := svc.Book(context.Background(), BookRequest{ClinicID: clinicID, PatientID: mine, Origin: OriginOnline}); err != nil {
		t.Fatalf("Book: %v", err)
	}

	visit, err := svc.ActiveVisit(context.Background(), mine, "")
	if err != nil {
		t.Fatalf("ActiveVisit: %v", err)
	}
	if visit.PatientsAhead != 1 {
		t.Fatalf("PatientsAhead = %d, want 1", visit.PatientsAhead)
	}

	if _, err := svc.Transition(context.Background(), first.ID, StatusCancelled, attender); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	visit, err = svc.ActiveVisit(context.Background(), mine, "")
	if err != nil {
		t.Fatalf("ActiveVisit: %v", err)
	}
	if visit.PatientsAhead != 0 {
		t.Fatalf("PatientsAhead after cancel = %d, want 0", visit.PatientsAhead)
	}

	if _, err := svc.ActiveVisit(context.Background(), uuid.New(), ""); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("ActiveVisit for idle patient err = %v, want ErrTokenNotFound", err)
	}
}
