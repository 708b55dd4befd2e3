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

// RoutingRuleWithUsers — правило вместе с материализованным списком допущенных
// пользователей (для административного UI).
type RoutingRuleWithUsers struct {
	model.RoutingRule
	AssignedUsers []uint64 `json:"assigned_users"`
}

// RoutingService — реестр правил маршрутизации: не более одного правила на тип
// заявки, список допущенных пользователей заменяется целиком и атомарно.
type RoutingService struct {
	db *gorm.DB
}

func NewRoutingService(db *gorm.DB) *RoutingService {
	return &RoutingService{db: db}
}

func (s *RoutingService) Get(ctx context.Context, serviceType model.ServiceType) (*RoutingRuleWithUsers, error) {
	var rule model.RoutingRule
	if err := s.db.WithContext(ctx).Where("service_type = ?", serviceType).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrRuleNotFound
		}
		return nil, err
	}
	users, err := s.assignedUsers(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	return &RoutingRuleWithUsers{RoutingRule: rule, AssignedUsers: users}, nil
}

// Upsert создаёт или целиком заменяет правило типа. Список пользователей —
// полная замена, не слияние: старые строки удаляются и новые вставляются в
// одной транзакции, чтобы конкурирующее чтение не увидело правило без
// исполнителей.
func (s *RoutingService) Upsert(ctx context.Context, serviceType model.ServiceType, isActive, autoAssign bool, userIDs []uint64) (*RoutingRuleWithUsers, error) {
	if !model.ValidServiceType(serviceType) {
		return nil, fmt.Errorf("%w: unknown service type %q", errs.ErrValidation, serviceType)
	}
	users := dedupe(userIDs)
	var rule model.RoutingRule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("service_type = ?", serviceType).First(&rule).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rule = model.RoutingRule{ServiceType: serviceType, IsActive: isActive, AutoAssign: autoAssign}
			if err := tx.Create(&rule).Error; err != nil {
				return fmt.Errorf("insert rule: %w", err)
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&rule).
				Updates(map[string]interface{}{"is_active": isActive, "auto_assign": autoAssign}).Error; err != nil {
				return fmt.Errorf("update rule: %w", err)
			}
		}
		if err := tx.Where("service_type = ?", serviceType).Delete(&model.RoutingRuleUser{}).Error; err != nil {
			return fmt.Errorf("clear assigned users: %w", err)
		}
		for _, uid := range users {
			row := model.RoutingRuleUser{ServiceType: serviceType, UserID: uid}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert assigned user %d: %w", uid, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RoutingRuleWithUsers{RoutingRule: rule, AssignedUsers: users}, nil
}

// Delete удаляет правило и все его строки допуска.
func (s *RoutingService) Delete(ctx context.Context, serviceType model.ServiceType) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("service_type = ?", serviceType).Delete(&model.RoutingRule{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrRuleNotFound
		}
		return tx.Where("service_type = ?", serviceType).Delete(&model.RoutingRuleUser{}).Error
	})
}

// ListWithAssignedUsers возвращает все правила с их списками пользователей.
func (s *RoutingService) ListWithAssignedUsers(ctx context.Context) ([]RoutingRuleWithUsers, error) {
	var rules []model.RoutingRule
	if err := s.db.WithContext(ctx).Order("service_type").Find(&rules).Error; err != nil {
		return nil, err
	}
	var rows []model.RoutingRuleUser
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	byType := make(map[model.ServiceType][]uint64)
	for _, r := range rows {
		byType[r.ServiceType] = append(byType[r.ServiceType], r.UserID)
	}
	out := make([]RoutingRuleWithUsers, 0, len(rules))
	for _, rule := range rules {
		users := byType[rule.ServiceType]
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
		out = append(out, RoutingRuleWithUsers{RoutingRule: rule, AssignedUsers: users})
	}
	return out, nil
}

func (s *RoutingService) assignedUsers(ctx context.Context, serviceType model.ServiceType) ([]uint64, error) {
	var users []uint64
	if err := s.db.WithContext(ctx).Model(&model.RoutingRuleUser{}).
		Where("service_type = ?", serviceType).
		Order("user_id").
		Pluck("user_id", &users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// dedupe убирает дубликаты, порядок значения не имеет — сортируем по id.
func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
