package attendance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (n *recordingNotifier) Notify(_ context.Context, e AuditEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, e)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.entries))
	for _, e := range n.entries {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	notifier *recordingNotifier
	now      time.Time
	codes    []string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		notifier: &recordingNotifier{},
		now:      time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	opts.Notifier = f.notifier
	f.svc = NewService(f.store, opts)
	f.svc.now = func() time.Time { return f.now }
	f.svc.newCode = func(n int) (string, error) {
		if len(f.codes) == 0 {
			return GenerateCode(n)
		}
		c := f.codes[0]
		f.codes = f.codes[1:]
		return c, nil
	}
	return f
}

func (f *fixture) user(t *testing.T, name, role string) User {
	t.Helper()
	u, err := f.svc.RegisterUser(context.Background(), NewUser{
		Name:     name,
		Email:    strings.ToLower(name) + "@school.test",
		Password: "secret123",
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) class(t *testing.T, teacher User, code string, students ...User) Class {
	t.Helper()
	ctx := context.Background()
	cls, err := f.svc.CreateClass(ctx, teacher.ID, NewClass{Name: code + " lecture", Code: code})
	require.NoError(t, err)
	for _, s := range students {
		_, _, err := f.svc.Enroll(ctx, code, s.Email)
		require.NoError(t, err)
	}
	return cls
}

func TestClassroomDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{CodeTTL: 4 * time.Minute})
	teacher := f.user(t, "Turing", RoleTeacher)
	a := f.user(t, "Ada", RoleStudent)
	b := f.user(t, "Babbage", RoleStudent)
	c := f.user(t, "Curie", RoleStudent)
	cls := f.class(t, teacher, "MATH101", a, b, c)

	f.codes = []string{"Q7XK2P"}
	issued, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, "Q7XK2P", issued.Code)
	assert.Equal(t, f.now.Add(4*time.Minute), issued.ExpiresAt)
	assert.Equal(t, "MATH101 lecture", issued.ClassName)
	assert.Empty(t, issued.Superseded)

	f.now = f.now.Add(time.Minute)
	red, err := f.svc.Redeem(ctx, a.ID, " q7xk2p ", Location{Lat: 51.5, Lng: -0.12})
	require.NoError(t, err)
	assert.Equal(t, "MATH101 lecture", red.ClassName)
	assert.Equal(t, "2024-03-04", red.Record.Day)
	assert.Equal(t, "Q7XK2P", red.Record.Code)

	snap, err := f.svc.TodaySnapshot(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	require.Len(t, snap.Present, 1)
	assert.Equal(t, a.ID, snap.Present[0].ID)
	assert.Equal(t, "Ada", snap.Present[0].Name)
	assert.Equal(t, f.now, snap.Present[0].Time)
	assert.Equal(t, []AbsentStudent{
		{ID: b.ID, Name: "Babbage", Email: "babbage@school.test"},
		{ID: c.ID, Name: "Curie", Email: "curie@school.test"},
	}, snap.Absent)
	assert.Equal(t, 3, snap.TotalStudents)
	assert.Equal(t, 33, snap.AttendancePercentage)

	_, err = f.svc.Redeem(ctx, a.ID, "Q7XK2P", Location{})
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	f.now = issued.ExpiresAt
	_, err = f.svc.Redeem(ctx, b.ID, "Q7XK2P", Location{})
	assert.ErrorIs(t, err, ErrInvalidCode, "expiry is exclusive")

	assert.Equal(t, []string{AuditCodeIssued, AuditMarked}, f.notifier.kinds())
}

func TestTodaySnapshotWithoutClasses(t *testing.T) {
	f := newFixture(t, Options{})
	teacher := f.user(t, "Lonely", RoleTeacher)

	snap, err := f.svc.TodaySnapshot(context.Background(), teacher.ID, "")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Present: []PresentStudent{}, Absent: []AbsentStudent{}}, snap)
}

func TestTodaySnapshotAcrossClasses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	teacher := f.user(t, "Turing", RoleTeacher)
	a := f.user(t, "Ada", RoleStudent)
	b := f.user(t, "Babbage", RoleStudent)
	math := f.class(t, teacher, "MATH101", a)
	phys := f.class(t, teacher, "PHYS101", a, b)

	f.codes = []string{"MMMMMM", "PPPPPP"}
	_, err := f.svc.IssueCode(ctx, teacher.ID, math.ID)
	require.NoError(t, err)
	_, err = f.svc.IssueCode(ctx, teacher.ID, phys.ID)
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, a.ID, "MMMMMM", Location{})
	require.NoError(t, err)

	all, err := f.svc.TodaySnapshot(ctx, teacher.ID, "")
	require.NoError(t, err)
	assert.Len(t, all.Present, 1)
	assert.Equal(t, 3, all.TotalStudents, "roster entries are counted per class")
	assert.Equal(t, []AbsentStudent{{ID: b.ID, Name: "Babbage", Email: "babbage@school.test"}}, all.Absent,
		"a student present in any scoped class is not listed absent")
	assert.Equal(t, 33, all.AttendancePercentage)

	physSnap, err := f.svc.TodaySnapshot(ctx, teacher.ID, phys.ID)
	require.NoError(t, err)
	assert.Empty(t, physSnap.Present)
	assert.Len(t, physSnap.Absent, 2)
}

func TestTodaySnapshotIgnoresYesterday(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	teacher := f.user(t, "Turing", RoleTeacher)
	a := f.user(t, "Ada", RoleStudent)
	cls := f.class(t, teacher, "MATH101", a)

	f.codes = []string{"AAAAAA"}
	_, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, a.ID, "AAAAAA", Location{})
	require.NoError(t, err)

	f.now = f.now.Add(24 * time.Hour)
	snap, err := f.svc.TodaySnapshot(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Present)
	assert.Len(t, snap.Absent, 1)
	assert.Equal(t, 0, snap.AttendancePercentage)
}

func TestTodaySnapshotOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	owner := f.user(t, "Owner", RoleTeacher)
	other := f.user(t, "Other", RoleTeacher)
	cls := f.class(t, owner, "MATH101")

	_, err := f.svc.TodaySnapshot(ctx, other.ID, cls.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.TodaySnapshot(ctx, owner.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchByEmailLegacyMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MatchByEmail: true})
	teacher := f.user(t, "Turing", RoleTeacher)
	a := f.user(t, "Ada", RoleStudent)
	b := f.user(t, "Babbage", RoleStudent)
	cls := f.class(t, teacher, "MATH101", a, b)

	f.codes = []string{"EEEEEE"}
	_, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, b.ID, "EEEEEE", Location{})
	require.NoError(t, err)

	snap, err := f.svc.TodaySnapshot(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, []AbsentStudent{{ID: a.ID, Name: "Ada", Email: "ada@school.test"}}, snap.Absent)
	assert.Equal(t, 50, snap.AttendancePercentage)
}

func TestIssueCodeSupersedesLiveCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	teacher := f.user(t, "Turing", RoleTeacher)
	a := f.user(t, "Ada", RoleStudent)
	cls := f.class(t, teacher, "MATH101", a)

	f.codes = []string{"FIRST1", "SECND2"}
	_, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	f.now = f.now.Add(10 * time.Minute)
	second, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, "FIRST1", second.Superseded)

	_, err = f.svc.Redeem(ctx, a.ID, "FIRST1", Location{})
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = f.svc.Redeem(ctx, a.ID, "SECND2", Location{})
	assert.NoError(t, err)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.GreaterOrEqual(t, len(f.notifier.entries), 2)
	assert.Equal(t, "FIRST1", f.notifier.entries[1].Detail["superseded"])
}

func TestIssueCodeAfterExpiryIsNotASupersession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{CodeTTL: time.Minute})
	teacher := f.user(t, "Turing", RoleTeacher)
	cls := f.class(t, teacher, "MATH101")

	_, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	f.now = f.now.Add(2 * time.Minute)
	issued, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	assert.Empty(t, issued.Superseded)
}

func TestIssueCodeOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	owner := f.user(t, "Owner", RoleTeacher)
	other := f.user(t, "Other", RoleTeacher)
	cls := f.class(t, owner, "MATH101")

	_, err := f.svc.IssueCode(ctx, other.ID, cls.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.IssueCode(ctx, owner.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.ActiveGrant(ctx, owner.ID, cls.ID)
	assert.ErrorIs(t, err, ErrNoActiveCode, "state untouched by rejected issues")
}

func TestIssueCodeSkipsCodesLiveElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	teacher := f.user(t, "Turing", RoleTeacher)
	first := f.class(t, teacher, "MATH101")
	second := f.class(t, teacher, "PHYS101")

	f.codes = []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	_, err := f.svc.IssueCode(ctx, teacher.ID, first.ID)
	require.NoError(t, err)
	issued, err := f.svc.IssueCode(ctx, teacher.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", issued.Code)
}

func TestIssueCodeGivesUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	teacher := f.user(t, "Turing", RoleTeacher)
	first := f.class(t, teacher, "MATH101")
	second := f.class(t, teacher, "PHYS101")

	f.codes = []string{"AAAAAA"}
	_, err := f.svc.IssueCode(ctx, teacher.ID, first.ID)
	require.NoError(t, err)
	f.svc.newCode = func(int) (string, error) { return "AAAAAA", nil }
	_, err = f.svc.IssueCode(ctx, teacher.ID, second.ID)
	assert.Error(t, err)

	_, err = f.svc.ActiveGrant(ctx, teacher.ID, second.ID)
	assert.ErrorIs(t, err, ErrNoActiveCode)
}

type stalledNotifier struct {
	deadline bool
	err      error
}

func (n *stalledNotifier) Notify(ctx context.Context, _ AuditEntry) error {
	_, n.deadline = ctx.Deadline()
	<-ctx.Done()
	n.err = ctx.Err()
	return n.err
}

func TestStalledNotifierDoesNotBlockRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{NotifyTimeout: 20 * time.Millisecond})
	stalled := &stalledNotifier{}
	f.svc.notifier = stalled
	teacher := f.user(t, "Turing", RoleTeacher)
	ada := f.user(t, "Ada", RoleStudent)
	cls := f.class(t, teacher, "MATH101", ada)

	start := time.Now()
	issued, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, ada.ID, issued.Code, Location{Lat: 1, Lng: 2})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, stalled.deadline)
	assert.ErrorIs(t, stalled.err, context.DeadlineExceeded)
}

func TestRedeemRejectsEmptyCode(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Redeem(context.Background(), "student", "   ", Location{})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "code", verr.Fields[0].Field)
}

func TestConcurrentRedeemRecordsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	teacher := f.user(t, "Turing", RoleTeacher)
	a := f.user(t, "Ada", RoleStudent)
	cls := f.class(t, teacher, "MATH101", a)

	f.codes = []string{"RACE00"}
	_, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, dup int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Redeem(ctx, a.ID, "RACE00", Location{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateSubmission):
				dup++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
	total, err := f.store.CountRecords(ctx, a.ID, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRedeemDayFollowsLocation(t *testing.T) {
	ctx := context.Background()
	zone := time.FixedZone("UTC+2", 2*60*60)
	f := newFixture(t, Options{Location: zone})
	teacher := f.user(t, "Turing", RoleTeacher)
	a := f.user(t, "Ada", RoleStudent)
	cls := f.class(t, teacher, "MATH101", a)

	f.now = time.Date(2024, 3, 4, 22, 30, 0, 0, time.UTC)
	f.codes = []string{"LATE00"}
	_, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
	require.NoError(t, err)
	red, err := f.svc.Redeem(ctx, a.ID, "LATE00", Location{})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", red.Record.Day)
}

func TestStudentStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	teacher := f.user(t, "Turing", RoleTeacher)
	a := f.user(t, "Ada", RoleStudent)
	cls := f.class(t, teacher, "MATH101", a)

	stats, err := f.svc.StudentStats(ctx, a.ID, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	for day := 0; day < 2; day++ {
		_, err := f.svc.IssueCode(ctx, teacher.ID, cls.ID)
		require.NoError(t, err)
		g, err := f.svc.ActiveGrant(ctx, teacher.ID, cls.ID)
		require.NoError(t, err)
		_, err = f.svc.Redeem(ctx, a.ID, g.Code, Location{})
		require.NoError(t, err)
		f.now = f.now.Add(24 * time.Hour)
	}

	stats, err = f.svc.StudentStats(ctx, a.ID, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Present: 2, Absent: 0, Percentage: 100}, stats)

	history, err := f.svc.StudentHistory(ctx, a.ID, cls.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt), "newest first")
	assert.Equal(t, StatusPresent, history[0].Status)
	assert.Equal(t, "MATH101", history[0].Class.Code)
	assert.Equal(t, "Turing", history[0].Teacher.Name)
}

func TestStudentHistoryEmpty(t *testing.T) {
	f := newFixture(t, Options{})
	history, err := f.svc.StudentHistory(context.Background(), "nobody", "nothing")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		n, d, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{3, 3, 100},
		{4, 3, 100},
		{-1, 3, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.n, tt.d), "%d/%d", tt.n, tt.d)
	}
}

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.Contains(t, codeAlphabet, string(r))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)

	code, err := GenerateCode(0)
	require.NoError(t, err)
	assert.Len(t, code, 6)
}
