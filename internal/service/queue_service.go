package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/psds-microservice/request-service/internal/errs"
	"github.com/psds-microservice/request-service/internal/model"
)

// RequestView — заявка с комментариями, аудитом и карточками пользователей.
type RequestView struct {
	model.ServiceRequest
	Creator  *model.UserDisplay `json:"creator,omitempty"`
	Assignee *model.UserDisplay `json:"assignee,omitempty"`
}

// QueueService — read-only витрины очередей: фильтры по статусу и исполнителю
// поверх таблицы заявок. Ничего не мутирует.
type QueueService struct {
	db *gorm.DB
}

func NewQueueService(db *gorm.DB) *QueueService {
	return &QueueService{db: db}
}

// Available — свободные заявки: status = new и без исполнителя.
func (s *QueueService) Available(ctx context.Context) ([]RequestView, error) {
	return s.views(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ? AND assigned_to IS NULL", model.StatusNew)
	})
}

// AssignedTo — заявки исполнителя, опционально суженные статусом.
func (s *QueueService) AssignedTo(ctx context.Context, userID uint64, status model.RequestStatus) ([]RequestView, error) {
	return s.views(ctx, func(tx *gorm.DB) *gorm.DB {
		tx = tx.Where("assigned_to = ?", userID)
		if status != "" {
			tx = tx.Where("status = ?", status)
		}
		return tx
	})
}

// SubmittedBy — заявки, поданные пользователем (кроме возвращённых).
func (s *QueueService) SubmittedBy(ctx context.Context, userID uint64) ([]RequestView, error) {
	return s.views(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("created_by = ? AND status <> ?", userID, model.StatusSentBack)
	})
}

// SentBackTo — заявки пользователя, возвращённые ему на доработку.
func (s *QueueService) SentBackTo(ctx context.Context, userID uint64) ([]RequestView, error) {
	return s.views(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("created_by = ? AND status = ?", userID, model.StatusSentBack)
	})
}

// ByStatus — глобальная витрина по статусу (дашборды управления очередью).
func (s *QueueService) ByStatus(ctx context.Context, status model.RequestStatus) ([]RequestView, error) {
	return s.views(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
}

// GetView — одна заявка с комментариями, аудитом и карточками пользователей.
func (s *QueueService) GetView(ctx context.Context, id uint64) (*RequestView, error) {
	views, err := s.views(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("service_requests.id = ?", id)
	})
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, errs.ErrRequestNotFound
	}
	return &views[0], nil
}

func (s *QueueService) views(ctx context.Context, scope func(tx *gorm.DB) *gorm.DB) ([]RequestView, error) {
	var items []model.ServiceRequest
	tx := s.db.WithContext(ctx).Model(&model.ServiceRequest{}).
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") })
	if err := scope(tx).Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	displays, err := s.displayUsers(ctx, items)
	if err != nil {
		return nil, err
	}
	views := make([]RequestView, 0, len(items))
	for _, req := range items {
		v := RequestView{ServiceRequest: req}
		if d, ok := displays[req.CreatedBy]; ok {
			v.Creator = &model.UserDisplay{ID: d.ID, FullName: d.FullName}
		}
		if req.AssignedTo != nil {
			if d, ok := displays[*req.AssignedTo]; ok {
				v.Assignee = &model.UserDisplay{ID: d.ID, FullName: d.FullName}
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// displayUsers резолвит created_by/assigned_to в карточки одним запросом.
func (s *QueueService) displayUsers(ctx context.Context, items []model.ServiceRequest) (map[uint64]model.User, error) {
	idSet := make(map[uint64]struct{}, len(items))
	for _, req := range items {
		idSet[req.CreatedBy] = struct{}{}
		if req.AssignedTo != nil {
			idSet[*req.AssignedTo] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return nil, nil
	}
	ids := make([]uint64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make(map[uint64]model.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
