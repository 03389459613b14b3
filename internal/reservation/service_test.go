package reservation_test

//go:generate mockgen -source=ports.go -destination=mocks/ports.go -package=mocks Provisioner,Notifier
//go:generate mockgen -source=repository.go -destination=mocks/repository.go -package=mocks Repository

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/hackgods/teleconsult-scheduling/internal/config"
	redisclient "github.com/hackgods/teleconsult-scheduling/internal/redis"
	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
	"github.com/hackgods/teleconsult-scheduling/internal/reservation/mocks"
	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

var errUnavailable = errors.New("provisioner unavailable")

type ServiceSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	repo        *reservation.MemoryRepository
	provisioner *mocks.MockProvisioner
	notifier    *mocks.MockNotifier
	locker      *redisclient.LocalLocker
	cfg         config.Config
	svc         *reservation.Service
	now         time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.repo = reservation.NewMemoryRepository()
	s.provisioner = mocks.NewMockProvisioner(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.notifier.EXPECT().NotifyStatusChanged(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.locker = redisclient.NewLocalLocker(time.Second)
	s.cfg = config.Config{
		DefaultDurationMinutes: 30,
		ProvisioningTimeout:    200 * time.Millisecond,
	}
	s.now = time.Date(2025, 12, 18, 9, 0, 0, 0, time.UTC)
	s.svc = reservation.NewService(s.repo, s.locker, s.provisioner, s.cfg,
		reservation.WithNotifier(s.notifier),
		reservation.WithClock(func() time.Time { return s.now }),
	)
}

func (s *ServiceSuite) local(v string) tzconv.LocalDateTime {
	dt, err := tzconv.ParseLocalDateTime(v)
	s.Require().NoError(err)
	return dt
}

func (s *ServiceSuite) input(tz string, locals ...string) reservation.ProposeInput {
	in := reservation.ProposeInput{Timezone: tz}
	for i, l := range locals {
		in.Slots = append(in.Slots, reservation.LocalSlotInput{Rank: i + 1, Local: s.local(l)})
	}
	return in
}

func (s *ServiceSuite) propose() *reservation.Reservation {
	r, err := s.svc.ProposeSlots(context.Background(),
		s.input("Asia/Seoul", "2025-12-21 10:00", "2025-12-22 21:00"))
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) approved() *reservation.Reservation {
	r := s.propose()
	s.provisioner.EXPECT().CreateMeeting(gomock.Any(), gomock.Any()).Return(reservation.MeetingRef("mtg-1"), nil)
	r, err := s.svc.Approve(context.Background(), r.ID, first(r.RequestedSlots), 0)
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) eventTypes() []string {
	var out []string
	for _, ev := range s.repo.Events() {
		out = append(out, ev.EventType)
	}
	return out
}

func first(set reservation.SlotSet) time.Time {
	return set.Slots()[0].Start
}

func (s *ServiceSuite) TestProposeSlots() {
	s.Run("stores a requested reservation", func() {
		r := s.propose()
		s.Equal(reservation.StatusRequested, r.Status)
		s.Equal(2, r.RequestedSlots.Len())
		s.Require().Len(r.StatusHistory, 1)
		s.Equal(reservation.ActorPatient, r.StatusHistory[0].Actor)

		stored, err := s.svc.GetReservation(context.Background(), r.ID)
		s.Require().NoError(err)
		s.Equal(r.ID, stored.ID)
		s.Equal(int64(1), stored.Version)
	})

	s.Run("rejects a slot outside clinic hours", func() {
		_, err := s.svc.ProposeSlots(context.Background(),
			s.input("Asia/Seoul", "2025-12-21 10:00", "2025-12-20 10:00"))
		var verr *reservation.ValidationError
		s.Require().ErrorAs(err, &verr)
		s.Contains(verr.Reason, "rank 2")
	})

	s.Run("rejects the same instant from two ranks", func() {
		_, err := s.svc.ProposeSlots(context.Background(),
			s.input("America/Los_Angeles", "2025-12-20 19:00", "2025-12-20 19:00"))
		s.ErrorIs(err, reservation.ErrValidation)
	})

	s.Run("rejects an unknown timezone", func() {
		_, err := s.svc.ProposeSlots(context.Background(), s.input("Nowhere/City", "2025-12-21 10:00"))
		s.ErrorIs(err, reservation.ErrValidation)
	})

	s.Run("rejects more than three slots", func() {
		_, err := s.svc.ProposeSlots(context.Background(), s.input("Asia/Seoul",
			"2025-12-21 10:00", "2025-12-21 11:00", "2025-12-21 12:00", "2025-12-21 13:00"))
		s.ErrorIs(err, reservation.ErrValidation)
	})
}

// Tokyo and Seoul share UTC+9: Saturday morning is closed, Sunday evening is open.
func (s *ServiceSuite) TestTokyoPatientEndToEnd() {
	ctx := context.Background()

	_, err := s.svc.ProposeSlots(ctx, s.input("Asia/Tokyo", "2025-12-20 09:00"))
	s.Require().ErrorIs(err, reservation.ErrValidation)

	r, err := s.svc.ProposeSlots(ctx, s.input("Asia/Tokyo", "2025-12-21 21:00"))
	s.Require().NoError(err)
	want := time.Date(2025, 12, 21, 12, 0, 0, 0, time.UTC)
	s.True(want.Equal(first(r.RequestedSlots)))

	s.provisioner.EXPECT().
		CreateMeeting(gomock.Any(), gomock.Cond(func(req reservation.MeetingRequest) bool {
			return req.ReservationID == r.ID && req.Start.Equal(want) && req.DurationMinutes == 30
		})).
		Return(reservation.MeetingRef("mtg-tokyo"), nil)

	r, err = s.svc.Approve(ctx, r.ID, want, 0)
	s.Require().NoError(err)
	s.Equal(reservation.StatusApproved, r.Status)
	s.Equal(reservation.MeetingRef("mtg-tokyo"), r.MeetingRef)
	s.Equal(30, r.ConfirmedDurationMinutes)
	s.Contains(s.eventTypes(), reservation.EventMeetingProvisioned)
}

func (s *ServiceSuite) TestApprove() {
	s.Run("retries once after a provisioning failure", func() {
		r := s.propose()
		gomock.InOrder(
			s.provisioner.EXPECT().CreateMeeting(gomock.Any(), gomock.Any()).Return(reservation.MeetingRef(""), errUnavailable),
			s.provisioner.EXPECT().CreateMeeting(gomock.Any(), gomock.Any()).Return(reservation.MeetingRef("mtg-2"), nil),
		)

		r, err := s.svc.Approve(context.Background(), r.ID, first(r.RequestedSlots), 45)
		s.Require().NoError(err)
		s.Equal(reservation.MeetingRef("mtg-2"), r.MeetingRef)
		s.Equal(45, r.ConfirmedDurationMinutes)
	})

	s.Run("leaves the reservation untouched when provisioning keeps failing", func() {
		r := s.propose()
		s.provisioner.EXPECT().CreateMeeting(gomock.Any(), gomock.Any()).Return(reservation.MeetingRef(""), errUnavailable).Times(2)

		_, err := s.svc.Approve(context.Background(), r.ID, first(r.RequestedSlots), 0)
		s.Require().ErrorIs(err, reservation.ErrProvisioningFailed)

		stored, err := s.svc.GetReservation(context.Background(), r.ID)
		s.Require().NoError(err)
		s.Equal(reservation.StatusRequested, stored.Status)
		s.Nil(stored.ConfirmedAt)
		s.Empty(stored.MeetingRef)
		s.Len(stored.StatusHistory, 1)
		s.Equal(r.Version, stored.Version)
		s.Contains(s.eventTypes(), reservation.EventProvisioningFailed)
	})

	s.Run("times out a hanging provisioner", func() {
		r := s.propose()
		s.provisioner.EXPECT().CreateMeeting(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ reservation.MeetingRequest) (reservation.MeetingRef, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}).Times(2)

		_, err := s.svc.Approve(context.Background(), r.ID, first(r.RequestedSlots), 0)
		s.ErrorIs(err, reservation.ErrProvisioningFailed)
		s.ErrorIs(err, context.DeadlineExceeded)
	})

	s.Run("refuses a time that was never proposed", func() {
		r := s.propose()
		_, err := s.svc.Approve(context.Background(), r.ID, first(r.RequestedSlots).Add(time.Hour), 0)
		s.ErrorIs(err, reservation.ErrSlotNotProposed)
	})

	s.Run("refuses a terminal reservation", func() {
		r := s.propose()
		_, err := s.svc.Reject(context.Background(), r.ID, "OTHER", "")
		s.Require().NoError(err)

		_, err = s.svc.Approve(context.Background(), r.ID, first(r.RequestedSlots), 0)
		var terr *reservation.TransitionError
		s.Require().ErrorAs(err, &terr)
		s.Equal(reservation.StatusRejected, terr.Current)
	})

	s.Run("unknown reservation", func() {
		_, err := s.svc.Approve(context.Background(), uuid.New(), s.now, 0)
		s.ErrorIs(err, reservation.ErrReservationNotFound)
	})
}

func (s *ServiceSuite) TestUndoApproval() {
	s.Run("revokes the meeting and restores requested", func() {
		r := s.approved()
		s.provisioner.EXPECT().RevokeMeeting(gomock.Any(), reservation.MeetingRef("mtg-1")).Return(nil)

		r, err := s.svc.UndoApproval(context.Background(), r.ID)
		s.Require().NoError(err)
		s.Equal(reservation.StatusRequested, r.Status)
		s.Empty(r.MeetingRef)
		s.Nil(r.ConfirmedAt)
		s.Contains(s.eventTypes(), reservation.EventMeetingRevoked)
	})

	s.Run("stays approved when the revoke fails", func() {
		r := s.approved()
		s.provisioner.EXPECT().RevokeMeeting(gomock.Any(), gomock.Any()).Return(errUnavailable).Times(2)

		_, err := s.svc.UndoApproval(context.Background(), r.ID)
		s.Require().ErrorIs(err, reservation.ErrProvisioningFailed)

		stored, err := s.svc.GetReservation(context.Background(), r.ID)
		s.Require().NoError(err)
		s.Equal(reservation.StatusApproved, stored.Status)
		s.Equal(reservation.MeetingRef("mtg-1"), stored.MeetingRef)
		s.Require().NotNil(stored.ConfirmedAt)
		s.True(r.ConfirmedAt.Equal(*stored.ConfirmedAt))
		s.NoError(stored.CheckInvariants())

		last := stored.StatusHistory[len(stored.StatusHistory)-1]
		s.Equal(reservation.StatusRequested, last.From)
		s.Equal(reservation.StatusApproved, last.To)
		s.Equal(reservation.ActorSystem, last.Actor)
		s.Contains(s.eventTypes(), reservation.EventTransitionRolledBack)
		s.NotContains(s.eventTypes(), reservation.EventMeetingRevoked)
	})
}

func (s *ServiceSuite) TestRequestChange_FromApprovedRevokeFails() {
	r := s.approved()
	s.provisioner.EXPECT().RevokeMeeting(gomock.Any(), reservation.MeetingRef("mtg-1")).Return(errUnavailable).Times(2)

	_, err := s.svc.RequestChange(context.Background(), r.ID, s.input("Asia/Seoul", "2025-12-23 22:00"))
	s.Require().ErrorIs(err, reservation.ErrProvisioningFailed)

	stored, err := s.svc.GetReservation(context.Background(), r.ID)
	s.Require().NoError(err)
	s.Equal(reservation.StatusApproved, stored.Status)
	s.Equal(reservation.MeetingRef("mtg-1"), stored.MeetingRef)
	s.Equal(0, stored.ClinicProposedSlots.Len())
	s.NoError(stored.CheckInvariants())
	s.Contains(s.eventTypes(), reservation.EventTransitionRolledBack)
}

func (s *ServiceSuite) TestNegotiation() {
	ctx := reservation.WithActor(context.Background(), "dr.kim")
	r := s.approved()

	s.provisioner.EXPECT().RevokeMeeting(gomock.Any(), reservation.MeetingRef("mtg-1")).Return(nil)
	r, err := s.svc.RequestChange(ctx, r.ID, s.input("Asia/Seoul", "2025-12-23 22:00"))
	s.Require().NoError(err)
	s.Equal(reservation.StatusNeedsChange, r.Status)
	s.Empty(r.MeetingRef)
	s.Equal(1, r.ClinicProposedSlots.Len())
	s.Equal("dr.kim", r.StatusHistory[len(r.StatusHistory)-1].Actor)

	r, err = s.svc.Resubmit(context.Background(), r.ID, s.input("Europe/London", "2025-12-24 12:00"))
	s.Require().NoError(err)
	s.Equal(reservation.StatusRescheduled, r.Status)
	s.Equal(reservation.ActorPatient, r.StatusHistory[len(r.StatusHistory)-1].Actor)

	r, err = s.svc.RequestChange(ctx, r.ID, s.input("Asia/Seoul", "2025-12-28 09:00"))
	s.Require().NoError(err)
	s.Equal(reservation.StatusNeedsChange, r.Status)

	proposed := first(r.ClinicProposedSlots)
	s.provisioner.EXPECT().CreateMeeting(gomock.Any(), gomock.Any()).Return(reservation.MeetingRef("mtg-3"), nil)
	r, err = s.svc.AcceptProposal(context.Background(), r.ID, proposed)
	s.Require().NoError(err)
	s.Equal(reservation.StatusApproved, r.Status)
	s.Equal(reservation.StatusNeedsChange, r.PreApprovalStatus)

	r, err = s.svc.MarkCompleted(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(reservation.StatusCompleted, r.Status)
	s.Empty(r.MeetingRef)
	s.NotNil(r.ConfirmedAt)
	s.Contains(s.eventTypes(), reservation.EventMeetingReleased)

	var statuses []reservation.Status
	for _, h := range r.StatusHistory {
		statuses = append(statuses, h.To)
	}
	s.Equal([]reservation.Status{
		reservation.StatusRequested,
		reservation.StatusApproved,
		reservation.StatusNeedsChange,
		reservation.StatusRescheduled,
		reservation.StatusNeedsChange,
		reservation.StatusApproved,
		reservation.StatusCompleted,
	}, statuses)
	s.NoError(r.CheckInvariants())
}

func (s *ServiceSuite) TestRequestChange_ProposalOutsideHours() {
	r := s.propose()
	_, err := s.svc.RequestChange(context.Background(), r.ID, s.input("Asia/Seoul", "2025-12-22 10:00"))
	s.ErrorIs(err, reservation.ErrValidation)

	stored, err := s.svc.GetReservation(context.Background(), r.ID)
	s.Require().NoError(err)
	s.Equal(reservation.StatusRequested, stored.Status)
}

func (s *ServiceSuite) TestMarkNoShow() {
	r := s.approved()
	r, err := s.svc.MarkNoShow(context.Background(), r.ID)
	s.Require().NoError(err)
	s.Equal(reservation.StatusNoShow, r.Status)

	_, err = s.svc.MarkCompleted(context.Background(), r.ID)
	s.ErrorIs(err, reservation.ErrInvalidTransition)
}

func (s *ServiceSuite) TestConcurrentApprovesProvisionOnce() {
	r := s.propose()
	s.provisioner.EXPECT().CreateMeeting(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, reservation.MeetingRequest) (reservation.MeetingRef, error) {
			time.Sleep(20 * time.Millisecond)
			return "mtg-once", nil
		}).Times(1)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.Approve(context.Background(), r.ID, first(r.RequestedSlots), 0)
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, reservation.ErrInvalidTransition):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, ok)
	s.Equal(callers-1, rejected)
}

func (s *ServiceSuite) TestBusyReservation() {
	r := s.propose()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.locker.WithLock(context.Background(), "reservation:"+r.ID.String(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := s.svc.Reject(context.Background(), r.ID, "OTHER", "")
	s.ErrorIs(err, reservation.ErrReservationBusy)

	stored, err := s.svc.GetReservation(context.Background(), r.ID)
	s.Require().NoError(err)
	s.Equal(reservation.StatusRequested, stored.Status)
}

func (s *ServiceSuite) TestNotificationFailureDoesNotFailTransition() {
	ctrl := gomock.NewController(s.T())
	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().NotifyStatusChanged(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).AnyTimes()
	svc := reservation.NewService(s.repo, s.locker, s.provisioner, s.cfg, reservation.WithNotifier(notifier))

	r, err := svc.ProposeSlots(context.Background(), s.input("Asia/Seoul", "2025-12-21 10:00"))
	s.Require().NoError(err)
	r, err = svc.Reject(context.Background(), r.ID, "PATIENT_CANCELLED", "travelling")
	s.Require().NoError(err)
	s.Equal(reservation.StatusRejected, r.Status)
	s.Equal("PATIENT_CANCELLED", r.CancelReasonCode)
}

func (s *ServiceSuite) TestAvailability() {
	d, err := tzconv.ParseLocalDate("2025-12-19")
	s.Require().NoError(err)

	rng, err := s.svc.AvailabilityForDate(context.Background(), d, "America/Los_Angeles")
	s.Require().NoError(err)
	s.Require().NotNil(rng)

	pieces, err := s.svc.AvailabilityRangesForDate(context.Background(), d, "America/Los_Angeles")
	s.Require().NoError(err)
	s.NotEmpty(pieces)

	_, err = s.svc.AvailabilityForDate(context.Background(), d, "Not/AZone")
	s.ErrorIs(err, reservation.ErrValidation)
}

func (s *ServiceSuite) TestListReservations() {
	for i := 0; i < 3; i++ {
		s.now = s.now.Add(time.Minute)
		s.propose()
	}
	r := s.propose()
	_, err := s.svc.Reject(context.Background(), r.ID, "OTHER", "")
	s.Require().NoError(err)

	all, err := s.svc.ListReservations(context.Background(), reservation.ListFilter{})
	s.Require().NoError(err)
	s.Len(all, 4)

	rejected, err := s.svc.ListReservations(context.Background(), reservation.ListFilter{
		Statuses: []reservation.Status{reservation.StatusRejected},
	})
	s.Require().NoError(err)
	s.Require().Len(rejected, 1)
	s.Equal(r.ID, rejected[0].ID)

	page, err := s.svc.ListReservations(context.Background(), reservation.ListFilter{Limit: 2, Offset: 1})
	s.Require().NoError(err)
	s.Len(page, 2)
}

func TestService_CompensatesWhenCommitFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	provisioner := mocks.NewMockProvisioner(ctrl)
	cfg := config.Config{DefaultDurationMinutes: 30, ProvisioningTimeout: time.Second}
	svc := reservation.NewService(repo, redisclient.NewLocalLocker(time.Second), provisioner, cfg)

	dt, err := tzconv.ParseLocalDateTime("2025-12-21 10:00")
	if err != nil {
		t.Fatal(err)
	}
	c, err := reservation.NewSlotCandidate(1, dt, "Asia/Seoul")
	if err != nil {
		t.Fatal(err)
	}
	set, err := reservation.BuildSlotSet([]reservation.SlotCandidate{c})
	if err != nil {
		t.Fatal(err)
	}
	r, err := reservation.NewReservation(uuid.New(), set, time.Now(), reservation.ActorPatient)
	if err != nil {
		t.Fatal(err)
	}

	repo.EXPECT().Get(gomock.Any(), r.ID).Return(r.Clone(), nil)
	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	gomock.InOrder(
		provisioner.EXPECT().CreateMeeting(gomock.Any(), gomock.Any()).Return(reservation.MeetingRef("mtg-orphan"), nil),
		repo.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).Return(reservation.ErrVersionConflict),
		provisioner.EXPECT().RevokeMeeting(gomock.Any(), reservation.MeetingRef("mtg-orphan")).Return(nil),
	)

	_, err = svc.Approve(context.Background(), r.ID, c.Start, 0)
	if !errors.Is(err, reservation.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func revokeFixture(t *testing.T) *reservation.Reservation {
	t.Helper()
	dt, err := tzconv.ParseLocalDateTime("2025-12-21 10:00")
	if err != nil {
		t.Fatal(err)
	}
	c, err := reservation.NewSlotCandidate(1, dt, "Asia/Seoul")
	if err != nil {
		t.Fatal(err)
	}
	set, err := reservation.BuildSlotSet([]reservation.SlotCandidate{c})
	if err != nil {
		t.Fatal(err)
	}
	r, err := reservation.NewReservation(uuid.New(), set, time.Now(), reservation.ActorPatient)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyApprove(c.Start, 30, "mtg-live", time.Now(), reservation.ActorClinic); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestService_UndoApprovalCommitsBeforeRevoking(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	provisioner := mocks.NewMockProvisioner(ctrl)
	cfg := config.Config{DefaultDurationMinutes: 30, ProvisioningTimeout: time.Second}
	svc := reservation.NewService(repo, redisclient.NewLocalLocker(time.Second), provisioner, cfg)

	r := revokeFixture(t)
	repo.EXPECT().Get(gomock.Any(), r.ID).Return(r.Clone(), nil)
	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	// a failed save must leave the meeting alone
	repo.EXPECT().Update(gomock.Any(), gomock.Any(), r.Version).Return(errors.New("db down"))

	_, err := svc.UndoApproval(context.Background(), r.ID)
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected save error, got %v", err)
	}
}

func TestService_UndoApprovalRollsBackWhenRevokeFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	provisioner := mocks.NewMockProvisioner(ctrl)
	cfg := config.Config{DefaultDurationMinutes: 30, ProvisioningTimeout: time.Second}
	svc := reservation.NewService(repo, redisclient.NewLocalLocker(time.Second), provisioner, cfg)

	r := revokeFixture(t)
	repo.EXPECT().Get(gomock.Any(), r.ID).Return(r.Clone(), nil)

	var events []string
	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev reservation.EventLog) error {
			events = append(events, ev.EventType)
			return nil
		}).AnyTimes()

	var restored *reservation.Reservation
	gomock.InOrder(
		repo.EXPECT().Update(gomock.Any(), gomock.Any(), r.Version).
			DoAndReturn(func(_ context.Context, next *reservation.Reservation, expected int64) error {
				if next.Status != reservation.StatusRequested || next.MeetingRef != "" {
					t.Errorf("tentative write should clear the meeting, got %s %q", next.Status, next.MeetingRef)
				}
				next.Version = expected + 1
				return nil
			}),
		provisioner.EXPECT().RevokeMeeting(gomock.Any(), reservation.MeetingRef("mtg-live")).Return(errUnavailable).Times(2),
		repo.EXPECT().Update(gomock.Any(), gomock.Any(), r.Version+1).
			DoAndReturn(func(_ context.Context, back *reservation.Reservation, expected int64) error {
				restored = back.Clone()
				return nil
			}),
	)

	_, err := svc.UndoApproval(context.Background(), r.ID)
	if !errors.Is(err, reservation.ErrProvisioningFailed) {
		t.Fatalf("expected provisioning failure, got %v", err)
	}
	if restored == nil {
		t.Fatal("prior state was not written back")
	}
	if restored.Status != reservation.StatusApproved || restored.MeetingRef != "mtg-live" {
		t.Fatalf("restored %s %q", restored.Status, restored.MeetingRef)
	}
	if err := restored.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
	if got := len(restored.StatusHistory); got != len(r.StatusHistory)+2 {
		t.Fatalf("history length %d", got)
	}
	if !slices.Contains(events, reservation.EventTransitionRolledBack) {
		t.Fatalf("events %v", events)
	}
}

func TestService_RollbackFailureIsRecorded(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	provisioner := mocks.NewMockProvisioner(ctrl)
	cfg := config.Config{DefaultDurationMinutes: 30, ProvisioningTimeout: time.Second}
	svc := reservation.NewService(repo, redisclient.NewLocalLocker(time.Second), provisioner, cfg)

	r := revokeFixture(t)
	repo.EXPECT().Get(gomock.Any(), r.ID).Return(r.Clone(), nil)

	var events []string
	repo.EXPECT().InsertEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev reservation.EventLog) error {
			events = append(events, ev.EventType)
			return nil
		}).AnyTimes()

	gomock.InOrder(
		repo.EXPECT().Update(gomock.Any(), gomock.Any(), r.Version).
			DoAndReturn(func(_ context.Context, next *reservation.Reservation, expected int64) error {
				next.Version = expected + 1
				return nil
			}),
		provisioner.EXPECT().RevokeMeeting(gomock.Any(), gomock.Any()).Return(errUnavailable).Times(2),
		repo.EXPECT().Update(gomock.Any(), gomock.Any(), r.Version+1).Return(errors.New("db down")),
	)

	_, err := svc.UndoApproval(context.Background(), r.ID)
	if !errors.Is(err, reservation.ErrProvisioningFailed) {
		t.Fatalf("expected provisioning failure, got %v", err)
	}
	if !slices.Contains(events, reservation.EventRollbackFailed) {
		t.Fatalf("events %v", events)
	}
}
