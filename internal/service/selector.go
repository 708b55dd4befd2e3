package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/psds-microservice/request-service/internal/errs"
	"github.com/psds-microservice/request-service/internal/model"
)

// Selector подбирает исполнителя для заявки либо валидирует выбранного вручную.
// Сам ничего не назначает и не ретраит — решение отдаётся вызывающему.
type Selector struct {
	db *gorm.DB
}

func NewSelector(db *gorm.DB) *Selector {
	return &Selector{db: db}
}

// ValidateHandler проверяет ручной выбор исполнителя: пользователь существует,
// активен и, если для типа есть правило маршрутизации, входит в его список
// допущенных.
func (s *Selector) ValidateHandler(ctx context.Context, serviceType model.ServiceType, userID uint64) error {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrUserNotFound
		}
		return err
	}
	if !user.IsActive {
		return fmt.Errorf("%w: user %d is inactive", errs.ErrInvalidHandler, userID)
	}
	var rule model.RoutingRule
	err := s.db.WithContext(ctx).Where("service_type = ?", serviceType).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Правила нет — тип открыт для любого активного пользователя.
			return nil
		}
		return err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.RoutingRuleUser{}).
		Where("service_type = ? AND user_id = ?", serviceType, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: user %d is not assigned to %s", errs.ErrInvalidHandler, userID, serviceType)
	}
	return nil
}

// AutoAssignEnabled — включён ли автоподбор для типа (правило существует,
// активно и auto_assign).
func (s *Selector) AutoAssignEnabled(ctx context.Context, serviceType model.ServiceType) (bool, error) {
	var rule model.RoutingRule
	err := s.db.WithContext(ctx).Where("service_type = ?", serviceType).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return rule.IsActive && rule.AutoAssign, nil
}

// PickHandler выбирает исполнителя с наименьшим числом открытых заявок
// (статус не completed и не unable_to_handle). Ничья разрешается по меньшему
// id пользователя — выбор детерминированный при неизменных входных данных.
func (s *Selector) PickHandler(ctx context.Context, serviceType model.ServiceType) (uint64, error) {
	var eligible []uint64
	if err := s.db.WithContext(ctx).Model(&model.RoutingRuleUser{}).
		Where("service_type = ?", serviceType).
		Joins("JOIN users ON users.id = routing_rule_users.user_id AND users.is_active").
		Pluck("routing_rule_users.user_id", &eligible).Error; err != nil {
		return 0, fmt.Errorf("load eligible users: %w", err)
	}
	if len(eligible) == 0 {
		return 0, errs.ErrNoHandlerAvailable
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i] < eligible[j] })

	type loadRow struct {
		AssignedTo uint64
		N          int64
	}
	var rows []loadRow
	if err := s.db.WithContext(ctx).Model(&model.ServiceRequest{}).
		Select("assigned_to, COUNT(*) AS n").
		Where("assigned_to IN ? AND status NOT IN ?", eligible,
			[]model.RequestStatus{model.StatusCompleted, model.StatusUnableToHandle}).
		Group("assigned_to").
		Scan(&rows).Error; err != nil {
		return 0, fmt.Errorf("count open requests: %w", err)
	}
	load := make(map[uint64]int64, len(rows))
	for _, r := range rows {
		load[r.AssignedTo] = r.N
	}

	best := eligible[0]
	for _, id := range eligible[1:] {
		if load[id] < load[best] {
			best = id
		}
	}
	return best, nil
}
