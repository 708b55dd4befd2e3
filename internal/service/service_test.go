package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/request-service/internal/model"
)

type recordingProducer struct {
	events []string
}

func (p *recordingProducer) ProduceRequestEvent(_ context.Context, event string, _ map[string]interface{}) {
	p.events = append(p.events, event)
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.ServiceRequest{},
		&model.RequestHistoryEntry{},
		&model.RequestComment{},
		&model.RoutingRule{},
		&model.RoutingRuleUser{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func setupService(t *testing.T) (*RequestService, *gorm.DB, *recordingProducer) {
	t.Helper()
	db := setupDB(t)
	producer := &recordingProducer{}
	return NewRequestService(db, zap.NewNop(), producer), db, producer
}

func seedUser(t *testing.T, db *gorm.DB, id uint64, name string, active bool) {
	t.Helper()
	// Вставка через map: для обычного bool-поля с тегом default:true gorm
	// подменяет нулевое значение (false) на default, и флаг теряется.
	if err := db.Model(&model.User{}).Create(map[string]interface{}{
		"id": id, "full_name": name, "is_active": active,
	}).Error; err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
}

func seedRule(t *testing.T, db *gorm.DB, serviceType model.ServiceType, active, autoAssign bool, userIDs ...uint64) {
	t.Helper()
	// См. seedUser: map-вставка, чтобы is_active=false не подменялся default-ом.
	if err := db.Model(&model.RoutingRule{}).Create(map[string]interface{}{
		"service_type": serviceType, "is_active": active, "auto_assign": autoAssign,
	}).Error; err != nil {
		t.Fatalf("seed rule %s: %v", serviceType, err)
	}
	for _, uid := range userIDs {
		row := model.RoutingRuleUser{ServiceType: serviceType, UserID: uid}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed rule user %d: %v", uid, err)
		}
	}
}

func historyCount(t *testing.T, db *gorm.DB, requestID uint64) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.RequestHistoryEntry{}).Where("request_id = ?", requestID).Count(&n).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	return n
}

func reload(t *testing.T, db *gorm.DB, id uint64) *model.ServiceRequest {
	t.Helper()
	var req model.ServiceRequest
	if err := db.First(&req, id).Error; err != nil {
		t.Fatalf("reload request %d: %v", id, err)
	}
	return &req
}
