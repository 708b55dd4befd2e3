package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/request-service/internal/errs"
	"github.com/psds-microservice/request-service/internal/kafka"
	"github.com/psds-microservice/request-service/internal/model"
	"github.com/psds-microservice/request-service/internal/refnum"
)

// SystemActorID — «исполнитель» для системных записей аудита (автовозврат).
const SystemActorID uint64 = 0

// RequestService — жизненный цикл заявки. Все переходы статуса идут через
// transition: проверка по таблице переходов, guarded UPDATE по текущему статусу
// и запись аудита в одной транзакции. Kafka-события и логи — после коммита,
// best-effort.
type RequestService struct {
	db       *gorm.DB
	log      *zap.Logger
	producer kafka.RequestEventProducer
	selector *Selector
}

func NewRequestService(db *gorm.DB, log *zap.Logger, producer kafka.RequestEventProducer) *RequestService {
	return &RequestService{
		db:       db,
		log:      log,
		producer: producer,
		selector: NewSelector(db),
	}
}

// Selector отдаёт селектор назначения (используется хэндлерами напрямую).
func (s *RequestService) Selector() *Selector { return s.selector }

type CreateRequestInput struct {
	ServiceType  model.ServiceType
	CreatedBy    uint64
	Priority     string
	Details      string
	ContactName  string
	ContactPhone string
}

func (in *CreateRequestInput) validate() error {
	if !model.ValidServiceType(in.ServiceType) {
		return fmt.Errorf("%w: unknown service type %q", errs.ErrValidation, in.ServiceType)
	}
	if in.CreatedBy == 0 {
		return fmt.Errorf("%w: created_by is required", errs.ErrValidation)
	}
	if in.Details == "" {
		return fmt.Errorf("%w: details are required", errs.ErrValidation)
	}
	return nil
}

// Create создаёт заявку: номер SSR-<год>-<номер> (нумерация с начала каждого
// года), статус new, запись аудита created — всё в одной транзакции. Если для
// типа включён автоподбор, заявка сразу назначается; отсутствие свободного
// исполнителя не ошибка, заявка остаётся в new.
func (s *RequestService) Create(ctx context.Context, in CreateRequestInput) (*model.ServiceRequest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	req := &model.ServiceRequest{
		ServiceType:  in.ServiceType,
		Status:       model.StatusNew,
		CreatedBy:    in.CreatedBy,
		Priority:     in.Priority,
		Details:      in.Details,
		ContactName:  in.ContactName,
		ContactPhone: in.ContactPhone,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		year := time.Now().Year()
		var existing []string
		if err := tx.Model(&model.ServiceRequest{}).
			Where("reference_number LIKE ?", fmt.Sprintf("%s-%d-%%", refnum.Prefix, year)).
			Pluck("reference_number", &existing).Error; err != nil {
			return fmt.Errorf("load reference numbers: %w", err)
		}
		req.ReferenceNumber = refnum.Next(year, existing)
		if err := tx.Create(req).Error; err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		entry := &model.RequestHistoryEntry{
			RequestID:   req.ID,
			PerformedBy: in.CreatedBy,
			Action:      model.ActionCreated,
			Details:     fmt.Sprintf("request %s created", req.ReferenceNumber),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("request created",
		zap.Uint64("request_id", req.ID),
		zap.String("reference", req.ReferenceNumber),
		zap.String("service_type", string(req.ServiceType)))
	s.emit(ctx, "request.created", req)

	if err := s.autoAssign(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// autoAssign назначает новую заявку, если правило маршрутизации требует
// автоподбор. NoHandlerAvailable — не ошибка создания: заявка остаётся в new.
func (s *RequestService) autoAssign(ctx context.Context, req *model.ServiceRequest) error {
	enabled, err := s.selector.AutoAssignEnabled(ctx, req.ServiceType)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	handlerID, err := s.selector.PickHandler(ctx, req.ServiceType)
	if err != nil {
		if errors.Is(err, errs.ErrNoHandlerAvailable) {
			s.log.Warn("auto-assign: no handler available",
				zap.Uint64("request_id", req.ID),
				zap.String("service_type", string(req.ServiceType)))
			return nil
		}
		return err
	}
	updated, err := s.Claim(ctx, req.ID, handlerID)
	if err != nil {
		return fmt.Errorf("auto-assign request %d: %w", req.ID, err)
	}
	*req = *updated
	return nil
}

// Assign назначает заявку на указанного пользователя (ручной путь из
// управления очередью): селектор валидирует исполнителя, затем переход в
// in_progress.
func (s *RequestService) Assign(ctx context.Context, id, userID, actorID uint64) (*model.ServiceRequest, error) {
	req, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.selector.ValidateHandler(ctx, req.ServiceType, userID); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, actorID, model.StatusInProgress, assigneeSet(userID), "request.assigned")
}

// Claim — пользователь берёт заявку себе.
func (s *RequestService) Claim(ctx context.Context, id, userID uint64) (*model.ServiceRequest, error) {
	return s.Assign(ctx, id, userID, userID)
}

// Complete завершает заявку. Статус completed терминальный.
func (s *RequestService) Complete(ctx context.Context, id, actorID uint64) (*model.ServiceRequest, error) {
	return s.transition(ctx, id, actorID, model.StatusCompleted, assigneeKeep(), "request.completed")
}

// Investigate переводит заявку в pending_investigation.
func (s *RequestService) Investigate(ctx context.Context, id, actorID uint64) (*model.ServiceRequest, error) {
	return s.transition(ctx, id, actorID, model.StatusPendingInvestigation, assigneeKeep(), "")
}

// SendBack возвращает заявку отправителю: статус sent_back, исполнитель
// снимается, причина сохраняется комментарием с is_send_back_reason.
func (s *RequestService) SendBack(ctx context.Context, id, actorID uint64, reason string) (*model.ServiceRequest, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: send-back reason is required", errs.ErrValidation)
	}
	req, err := s.transitionTx(ctx, id, actorID, model.StatusSentBack, assigneeClear(), func(tx *gorm.DB, req *model.ServiceRequest) error {
		comment := &model.RequestComment{
			RequestID:        req.ID,
			CreatedBy:        actorID,
			Comment:          reason,
			IsSendBackReason: true,
		}
		return tx.Create(comment).Error
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "request.sent_back", req)
	return req, nil
}

// MarkUnable помечает новую заявку как необрабатываемую.
func (s *RequestService) MarkUnable(ctx context.Context, id, actorID uint64) (*model.ServiceRequest, error) {
	return s.transition(ctx, id, actorID, model.StatusUnableToHandle, assigneeKeep(), "")
}

// AddComment добавляет обычный комментарий и запись аудита comment_added.
func (s *RequestService) AddComment(ctx context.Context, id, actorID uint64, text string) (*model.RequestComment, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: comment is required", errs.ErrValidation)
	}
	comment := &model.RequestComment{RequestID: id, CreatedBy: actorID, Comment: text}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req model.ServiceRequest
		if err := tx.First(&req, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrRequestNotFound
			}
			return err
		}
		if err := tx.Create(comment).Error; err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		entry := &model.RequestHistoryEntry{
			RequestID:   id,
			PerformedBy: actorID,
			Action:      model.ActionCommentAdded,
			Details:     "comment added",
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

type EditRequestInput struct {
	Priority     *string
	Details      *string
	ContactName  *string
	ContactPhone *string
}

// Edit меняет полезную нагрузку заявки (не статус) и пишет аудит edited.
func (s *RequestService) Edit(ctx context.Context, id, actorID uint64, in EditRequestInput) (*model.ServiceRequest, error) {
	changes := make(map[string]interface{})
	if in.Priority != nil {
		changes["priority"] = *in.Priority
	}
	if in.Details != nil {
		if *in.Details == "" {
			return nil, fmt.Errorf("%w: details cannot be empty", errs.ErrValidation)
		}
		changes["details"] = *in.Details
	}
	if in.ContactName != nil {
		changes["contact_name"] = *in.ContactName
	}
	if in.ContactPhone != nil {
		changes["contact_phone"] = *in.ContactPhone
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no changes", errs.ErrValidation)
	}
	var req model.ServiceRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrRequestNotFound
			}
			return err
		}
		if err := tx.Model(&req).Updates(changes).Error; err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		entry := &model.RequestHistoryEntry{
			RequestID:   id,
			PerformedBy: actorID,
			Action:      model.ActionEdited,
			Details:     "request details edited",
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *RequestService) GetByID(ctx context.Context, id uint64) (*model.ServiceRequest, error) {
	var req model.ServiceRequest
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (s *RequestService) List(ctx context.Context, filter map[string]interface{}, limit, offset int) ([]model.ServiceRequest, int64, error) {
	var items []model.ServiceRequest
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.ServiceRequest{})
	for k, v := range filter {
		tx = tx.Where(k, v)
	}
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if err := tx.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// AutoReturnStale возвращает в очередь заявки, висящие в in_progress без
// изменений дольше threshold: статус new, исполнитель снимается, аудит
// status_change. Каждая заявка обрабатывается отдельно, ошибка одной не
// прерывает обход.
func (s *RequestService) AutoReturnStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	var stale []model.ServiceRequest
	if err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.StatusInProgress, cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("load stale requests: %w", err)
	}
	returned := 0
	for i := range stale {
		req := &stale[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.ServiceRequest{}).
				Where("id = ? AND status = ? AND updated_at < ?", req.ID, model.StatusInProgress, cutoff).
				Updates(map[string]interface{}{"status": model.StatusNew, "assigned_to": nil})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Кто-то успел изменить заявку между выборкой и UPDATE.
				return errs.ErrConflict
			}
			entry := &model.RequestHistoryEntry{
				RequestID:   req.ID,
				PerformedBy: SystemActorID,
				Action:      model.ActionStatusChange,
				Details:     fmt.Sprintf("automatically returned to queue after %s of inactivity", threshold),
			}
			return tx.Create(entry).Error
		})
		if err != nil {
			if !errors.Is(err, errs.ErrConflict) {
				s.log.Warn("auto-return failed", zap.Uint64("request_id", req.ID), zap.Error(err))
			}
			continue
		}
		returned++
		s.log.Info("request auto-returned", zap.Uint64("request_id", req.ID), zap.String("reference", req.ReferenceNumber))
		req.Status = model.StatusNew
		req.AssignedTo = nil
		s.emit(ctx, "request.auto_returned", req)
	}
	return returned, nil
}

// assigneeEffect — эффект перехода на поле assigned_to: оставить, установить
// или снять (колонка «Assignee» таблицы переходов).
type assigneeEffect struct {
	set   *uint64
	clear bool
}

func assigneeKeep() assigneeEffect  { return assigneeEffect{} }
func assigneeClear() assigneeEffect { return assigneeEffect{clear: true} }

func assigneeSet(userID uint64) assigneeEffect {
	return assigneeEffect{set: &userID}
}

func (s *RequestService) transition(ctx context.Context, id, actorID uint64, to model.RequestStatus, effect assigneeEffect, event string) (*model.ServiceRequest, error) {
	req, err := s.transitionTx(ctx, id, actorID, to, effect, nil)
	if err != nil {
		return nil, err
	}
	if event != "" {
		s.emit(ctx, event, req)
	}
	return req, nil
}

// transitionTx — единственная точка смены статуса. Загружает заявку, сверяет
// переход с таблицей, делает guarded UPDATE по прочитанному статусу (проигравший
// конкурент получает Conflict, а не молча перетирает) и в той же транзакции
// пишет запись аудита и extra-шаг (например, комментарий-причину).
func (s *RequestService) transitionTx(ctx context.Context, id, actorID uint64, to model.RequestStatus, effect assigneeEffect, extra func(tx *gorm.DB, req *model.ServiceRequest) error) (*model.ServiceRequest, error) {
	var req model.ServiceRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrRequestNotFound
			}
			return err
		}
		from := req.Status
		if !model.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, from, to)
		}
		updates := map[string]interface{}{"status": to}
		if effect.set != nil {
			updates["assigned_to"] = *effect.set
		} else if effect.clear {
			updates["assigned_to"] = nil
		}
		res := tx.Model(&model.ServiceRequest{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: request %d left status %s", errs.ErrConflict, id, from)
		}
		entry := &model.RequestHistoryEntry{
			RequestID:   id,
			PerformedBy: actorID,
			Action:      model.ActionStatusChange,
			Details:     fmt.Sprintf("%s -> %s", from, to),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if extra != nil {
			if err := extra(tx, &req); err != nil {
				return err
			}
		}
		req.Status = to
		if effect.set != nil {
			req.AssignedTo = effect.set
		} else if effect.clear {
			req.AssignedTo = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("request transition",
		zap.Uint64("request_id", id),
		zap.String("status", string(req.Status)),
		zap.Uint64("actor", actorID))
	return &req, nil
}

// emit шлёт событие в Kafka (best-effort, ошибки проглатываются продюсером).
func (s *RequestService) emit(ctx context.Context, event string, req *model.ServiceRequest) {
	if s.producer == nil {
		return
	}
	payload := map[string]interface{}{
		"request_id":       req.ID,
		"reference_number": req.ReferenceNumber,
		"service_type":     string(req.ServiceType),
		"status":           string(req.Status),
	}
	if req.AssignedTo != nil {
		payload["assigned_to"] = *req.AssignedTo
	}
	s.producer.ProduceRequestEvent(ctx, event, payload)
}
