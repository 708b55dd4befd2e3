package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/psds-microservice/request-service/internal/errs"
	"github.com/psds-microservice/request-service/internal/model"
	"github.com/psds-microservice/request-service/internal/refnum"
)

func TestCreateRequest(t *testing.T) {
	svc, db, producer := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)

	req, err := svc.Create(ctx, CreateRequestInput{
		ServiceType: model.ServiceStolenPhoneCheck,
		CreatedBy:   1,
		Details:     "IMEI 356938035643809",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if req.Status != model.StatusNew {
		t.Fatalf("status = %s, want new", req.Status)
	}
	if req.AssignedTo != nil {
		t.Fatalf("assigned_to = %v, want nil", *req.AssignedTo)
	}
	want := refnum.Format(time.Now().Year(), 1)
	if req.ReferenceNumber != want {
		t.Fatalf("reference = %q, want %q", req.ReferenceNumber, want)
	}
	if n := historyCount(t, db, req.ID); n != 1 {
		t.Fatalf("history count = %d, want 1", n)
	}
	if len(producer.events) != 1 || producer.events[0] != "request.created" {
		t.Fatalf("events = %v", producer.events)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	cases := []CreateRequestInput{
		{ServiceType: "teleport", CreatedBy: 1, Details: "x"},
		{ServiceType: model.ServiceOther, CreatedBy: 0, Details: "x"},
		{ServiceType: model.ServiceOther, CreatedBy: 1, Details: ""},
	}
	for i, in := range cases {
		if _, err := svc.Create(ctx, in); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("case %d: error = %v, want ErrValidation", i, err)
		}
	}
}

func TestReferenceNumbersMonotonic(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)

	year := time.Now().Year()
	for i := 1; i <= 5; i++ {
		req, err := svc.Create(ctx, CreateRequestInput{
			ServiceType: model.ServiceCallHistory,
			CreatedBy:   1,
			Details:     fmt.Sprintf("request %d", i),
		})
		if err != nil {
			t.Fatalf("Create() #%d error = %v", i, err)
		}
		if want := refnum.Format(year, i); req.ReferenceNumber != want {
			t.Fatalf("reference #%d = %q, want %q", i, req.ReferenceNumber, want)
		}
	}
}

func TestClaimSetsAssignee(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", true)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceSerialNumber, CreatedBy: 1, Details: "SN lookup"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	claimed, err := svc.Claim(ctx, req.ID, 7)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed.Status != model.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", claimed.Status)
	}
	if claimed.AssignedTo == nil || *claimed.AssignedTo != 7 {
		t.Fatalf("assigned_to = %v, want 7", claimed.AssignedTo)
	}
	if n := historyCount(t, db, req.ID); n != 2 {
		t.Fatalf("history count = %d, want 2", n)
	}
}

func TestSecondClaimRejected(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", true)
	seedUser(t, db, 9, "Nina Handler", true)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceSerialNumber, CreatedBy: 1, Details: "SN lookup"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Claim(ctx, req.ID, 7); err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	_, err = svc.Claim(ctx, req.ID, 9)
	if !errors.Is(err, errs.ErrInvalidTransition) && !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second Claim() error = %v, want rejection", err)
	}
	got := reload(t, db, req.ID)
	if got.AssignedTo == nil || *got.AssignedTo != 7 {
		t.Fatalf("assigned_to = %v, want the first claimer (7)", got.AssignedTo)
	}
}

func TestTransitionClosure(t *testing.T) {
	// Для каждой пары (статус, триггер) вне таблицы переходов — отказ
	// InvalidTransition и неизменная заявка.
	type trigger struct {
		name string
		run  func(svc *RequestService, ctx context.Context, id uint64) error
	}
	triggers := []trigger{
		{"claim", func(svc *RequestService, ctx context.Context, id uint64) error {
			_, err := svc.Claim(ctx, id, 7)
			return err
		}},
		{"complete", func(svc *RequestService, ctx context.Context, id uint64) error {
			_, err := svc.Complete(ctx, id, 7)
			return err
		}},
		{"investigate", func(svc *RequestService, ctx context.Context, id uint64) error {
			_, err := svc.Investigate(ctx, id, 7)
			return err
		}},
		{"send_back", func(svc *RequestService, ctx context.Context, id uint64) error {
			_, err := svc.SendBack(ctx, id, 7, "not enough data")
			return err
		}},
		{"unable", func(svc *RequestService, ctx context.Context, id uint64) error {
			_, err := svc.MarkUnable(ctx, id, 7)
			return err
		}},
	}
	allowed := map[model.RequestStatus]map[string]bool{
		model.StatusNew:                  {"claim": true, "unable": true},
		model.StatusInProgress:           {"complete": true, "investigate": true, "send_back": true},
		model.StatusPendingInvestigation: {"complete": true, "send_back": true},
		model.StatusUnableToHandle:       {"claim": true},
		model.StatusSentBack:             {"claim": true},
		model.StatusCompleted:            {},
	}

	for status, ok := range allowed {
		for _, tr := range triggers {
			t.Run(string(status)+"_"+tr.name, func(t *testing.T) {
				svc, db, _ := setupService(t)
				ctx := context.Background()
				seedUser(t, db, 7, "Uma Handler", true)

				req := &model.ServiceRequest{
					ReferenceNumber: "SSR-2026-001",
					ServiceType:     model.ServiceOther,
					Status:          status,
					CreatedBy:       1,
					Details:         "seeded",
				}
				if status == model.StatusInProgress || status == model.StatusPendingInvestigation {
					uid := uint64(7)
					req.AssignedTo = &uid
				}
				if err := db.Create(req).Error; err != nil {
					t.Fatalf("seed request: %v", err)
				}

				err := tr.run(svc, ctx, req.ID)
				if ok[tr.name] {
					if err != nil {
						t.Fatalf("%s from %s: error = %v, want success", tr.name, status, err)
					}
					return
				}
				if !errors.Is(err, errs.ErrInvalidTransition) {
					t.Fatalf("%s from %s: error = %v, want ErrInvalidTransition", tr.name, status, err)
				}
				got := reload(t, db, req.ID)
				if got.Status != status {
					t.Fatalf("status changed to %s after rejected trigger", got.Status)
				}
				if (got.AssignedTo == nil) != (req.AssignedTo == nil) {
					t.Fatalf("assignee changed after rejected trigger")
				}
				if n := historyCount(t, db, req.ID); n != 0 {
					t.Fatalf("history written for rejected trigger: %d", n)
				}
			})
		}
	}
}

func TestSendBackClearsAssigneeAndStoresReason(t *testing.T) {
	svc, db, producer := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", true)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceMoneyRefund, CreatedBy: 1, Details: "refund 5000"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Claim(ctx, req.ID, 7); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	sent, err := svc.SendBack(ctx, req.ID, 7, "missing transaction id")
	if err != nil {
		t.Fatalf("SendBack() error = %v", err)
	}
	if sent.Status != model.StatusSentBack {
		t.Fatalf("status = %s, want sent_back", sent.Status)
	}
	if sent.AssignedTo != nil {
		t.Fatalf("assigned_to = %v, want nil", *sent.AssignedTo)
	}
	var comment model.RequestComment
	if err := db.Where("request_id = ? AND is_send_back_reason", req.ID).First(&comment).Error; err != nil {
		t.Fatalf("load send-back reason: %v", err)
	}
	if comment.Comment != "missing transaction id" || comment.CreatedBy != 7 {
		t.Fatalf("reason comment = %+v", comment)
	}
	found := false
	for _, e := range producer.events {
		if e == "request.sent_back" {
			found = true
		}
	}
	if !found {
		t.Fatalf("events = %v, want request.sent_back", producer.events)
	}
}

func TestHistoryAppendOnly(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", true)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceUnblockMoMo, CreatedBy: 1, Details: "unblock 0788"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	steps := []func() error{
		func() error { _, err := svc.Claim(ctx, req.ID, 7); return err },
		func() error { _, err := svc.Investigate(ctx, req.ID, 7); return err },
		func() error { _, err := svc.Complete(ctx, req.ID, 7); return err },
	}
	prev := historyCount(t, db, req.ID)
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		n := historyCount(t, db, req.ID)
		if n != prev+1 {
			t.Fatalf("step %d: history count %d -> %d, want +1", i, prev, n)
		}
		prev = n
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", true)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceOther, CreatedBy: 1, Details: "misc"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Claim(ctx, req.ID, 7); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if _, err := svc.Complete(ctx, req.ID, 7); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := svc.Claim(ctx, req.ID, 7); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("Claim() on completed: error = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.SendBack(ctx, req.ID, 7, "reopen please"); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("SendBack() on completed: error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionOnMissingRequest(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 7, "Uma Handler", true)

	if _, err := svc.Complete(ctx, 12345, 7); !errors.Is(err, errs.ErrRequestNotFound) {
		t.Fatalf("Complete() error = %v, want ErrRequestNotFound", err)
	}
}

// Сценарий из жизни: создание -> назначение -> возврат -> переназначение ->
// завершение.
func TestLifecycleScenario(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", true)
	seedUser(t, db, 9, "Nina Handler", true)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceStolenPhoneCheck, CreatedBy: 1, Details: "check IMEI"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if req.Status != model.StatusNew || req.AssignedTo != nil {
		t.Fatalf("after create: %+v", req)
	}

	if _, err := svc.Assign(ctx, req.ID, 7, 2); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if _, err := svc.SendBack(ctx, req.ID, 7, "wrong IMEI format"); err != nil {
		t.Fatalf("SendBack() error = %v", err)
	}
	got := reload(t, db, req.ID)
	if got.Status != model.StatusSentBack || got.AssignedTo != nil {
		t.Fatalf("after send back: %+v", got)
	}

	if _, err := svc.Assign(ctx, req.ID, 9, 2); err != nil {
		t.Fatalf("reassign error = %v", err)
	}
	got = reload(t, db, req.ID)
	if got.Status != model.StatusInProgress || got.AssignedTo == nil || *got.AssignedTo != 9 {
		t.Fatalf("after reassign: %+v", got)
	}

	if _, err := svc.Complete(ctx, req.ID, 9); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := svc.Investigate(ctx, req.ID, 9); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("Investigate() on completed: error = %v", err)
	}
}

func TestAutoAssignOnCreate(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", true)
	seedRule(t, db, model.ServiceCallHistory, true, true, 7)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceCallHistory, CreatedBy: 1, Details: "last 30 days"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if req.Status != model.StatusInProgress {
		t.Fatalf("status = %s, want in_progress (auto-assigned)", req.Status)
	}
	if req.AssignedTo == nil || *req.AssignedTo != 7 {
		t.Fatalf("assigned_to = %v, want 7", req.AssignedTo)
	}
}

func TestAutoAssignNoHandlerLeavesNew(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", false) // inactive
	seedRule(t, db, model.ServiceCallHistory, true, true, 7)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceCallHistory, CreatedBy: 1, Details: "last 30 days"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if req.Status != model.StatusNew || req.AssignedTo != nil {
		t.Fatalf("request should stay new without handlers: %+v", req)
	}
}

func TestAddCommentAndEdit(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)

	req, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceOther, CreatedBy: 1, Details: "misc"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	comment, err := svc.AddComment(ctx, req.ID, 1, "please hurry")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if comment.IsSendBackReason {
		t.Fatalf("ordinary comment flagged as send-back reason")
	}
	if n := historyCount(t, db, req.ID); n != 2 {
		t.Fatalf("history count = %d, want 2 (created + comment_added)", n)
	}

	details := "misc, updated"
	if _, err := svc.Edit(ctx, req.ID, 1, EditRequestInput{Details: &details}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	got := reload(t, db, req.ID)
	if got.Details != details {
		t.Fatalf("details = %q", got.Details)
	}
	if got.Status != model.StatusNew || got.ReferenceNumber != req.ReferenceNumber {
		t.Fatalf("edit must not touch status or reference: %+v", got)
	}
	if n := historyCount(t, db, req.ID); n != 3 {
		t.Fatalf("history count = %d, want 3", n)
	}
}

func TestAutoReturnStale(t *testing.T) {
	svc, db, producer := setupService(t)
	ctx := context.Background()
	seedUser(t, db, 1, "Alice Submitter", true)
	seedUser(t, db, 7, "Uma Handler", true)

	stale, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceOther, CreatedBy: 1, Details: "stale"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	fresh, err := svc.Create(ctx, CreateRequestInput{ServiceType: model.ServiceOther, CreatedBy: 1, Details: "fresh"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Claim(ctx, stale.ID, 7); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if _, err := svc.Claim(ctx, fresh.ID, 7); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := db.Model(&model.ServiceRequest{}).Where("id = ?", stale.ID).
		UpdateColumn("updated_at", past).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	returned, err := svc.AutoReturnStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("AutoReturnStale() error = %v", err)
	}
	if returned != 1 {
		t.Fatalf("returned = %d, want 1", returned)
	}
	got := reload(t, db, stale.ID)
	if got.Status != model.StatusNew || got.AssignedTo != nil {
		t.Fatalf("stale request not returned: %+v", got)
	}
	gotFresh := reload(t, db, fresh.ID)
	if gotFresh.Status != model.StatusInProgress {
		t.Fatalf("fresh request touched: %+v", gotFresh)
	}
	var entry model.RequestHistoryEntry
	if err := db.Where("request_id = ? AND performed_by = ?", stale.ID, SystemActorID).
		First(&entry).Error; err != nil {
		t.Fatalf("system history entry missing: %v", err)
	}
	found := false
	for _, e := range producer.events {
		if e == "request.auto_returned" {
			found = true
		}
	}
	if !found {
		t.Fatalf("events = %v, want request.auto_returned", producer.events)
	}
}
