package model

import "time"

type RequestStatus string

const (
	StatusNew                  RequestStatus = "new"
	StatusInProgress           RequestStatus = "in_progress"
	StatusPendingInvestigation RequestStatus = "pending_investigation"
	StatusCompleted            RequestStatus = "completed"
	StatusUnableToHandle       RequestStatus = "unable_to_handle"
	StatusSentBack             RequestStatus = "sent_back"
)

type ServiceType string

const (
	ServiceSerialNumber      ServiceType = "serial_number"
	ServiceStolenPhoneCheck  ServiceType = "stolen_phone_check"
	ServiceCallHistory       ServiceType = "call_history"
	ServiceUnblockCall       ServiceType = "unblock_call"
	ServiceUnblockMoMo       ServiceType = "unblock_momo"
	ServiceMoneyRefund       ServiceType = "money_refund"
	ServiceMoMoTransaction   ServiceType = "momo_transaction"
	ServiceBackofficeAppoint ServiceType = "backoffice_appointment"
	ServiceOther             ServiceType = "other"
)

// ServiceTypes — все допустимые типы заявок.
var ServiceTypes = []ServiceType{
	ServiceSerialNumber,
	ServiceStolenPhoneCheck,
	ServiceCallHistory,
	ServiceUnblockCall,
	ServiceUnblockMoMo,
	ServiceMoneyRefund,
	ServiceMoMoTransaction,
	ServiceBackofficeAppoint,
	ServiceOther,
}

func ValidServiceType(t ServiceType) bool {
	for _, s := range ServiceTypes {
		if s == t {
			return true
		}
	}
	return false
}

type HistoryAction string

const (
	ActionCreated      HistoryAction = "created"
	ActionStatusChange HistoryAction = "status_change"
	ActionCommentAdded HistoryAction = "comment_added"
	ActionEdited       HistoryAction = "edited"
)

// transitions — таблица допустимых переходов статуса. Переходы, которых здесь
// нет, запрещены; completed — терминальный статус.
var transitions = map[RequestStatus][]RequestStatus{
	StatusNew:                  {StatusInProgress, StatusUnableToHandle},
	StatusInProgress:           {StatusCompleted, StatusPendingInvestigation, StatusSentBack},
	StatusPendingInvestigation: {StatusCompleted, StatusSentBack},
	StatusUnableToHandle:       {StatusInProgress},
	StatusSentBack:             {StatusInProgress},
	StatusCompleted:            {},
}

// CanTransition проверяет переход from -> to по таблице.
func CanTransition(from, to RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OpenStatuses — статусы, в которых заявка считается открытой (учитываются при
// подсчёте нагрузки исполнителя).
var OpenStatuses = []RequestStatus{StatusNew, StatusInProgress, StatusPendingInvestigation, StatusSentBack}

type ServiceRequest struct {
	ID              uint64        `gorm:"primaryKey" json:"id"`
	ReferenceNumber string        `gorm:"type:varchar(32);uniqueIndex;not null" json:"reference_number"`
	ServiceType     ServiceType   `gorm:"type:varchar(32);index;not null" json:"service_type"`
	Status          RequestStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	CreatedBy       uint64        `gorm:"index;not null" json:"created_by"`
	AssignedTo      *uint64       `gorm:"index" json:"assigned_to,omitempty"`
	Priority        string        `gorm:"type:varchar(32)" json:"priority,omitempty"`
	Details         string        `gorm:"type:text" json:"details,omitempty"`
	ContactName     string        `gorm:"type:varchar(255)" json:"contact_name,omitempty"`
	ContactPhone    string        `gorm:"type:varchar(64)" json:"contact_phone,omitempty"`

	Comments []RequestComment      `gorm:"foreignKey:RequestID" json:"comments,omitempty"`
	History  []RequestHistoryEntry `gorm:"foreignKey:RequestID" json:"history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequestHistoryEntry — запись аудита заявки. Только добавляется, никогда не
// меняется и не удаляется.
type RequestHistoryEntry struct {
	ID          uint64        `gorm:"primaryKey" json:"id"`
	RequestID   uint64        `gorm:"index;not null" json:"request_id"`
	PerformedBy uint64        `gorm:"not null" json:"performed_by"`
	Action      HistoryAction `gorm:"type:varchar(32);not null" json:"action"`
	Details     string        `gorm:"type:text" json:"details,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (RequestHistoryEntry) TableName() string { return "request_history" }

type RequestComment struct {
	ID               uint64    `gorm:"primaryKey" json:"id"`
	RequestID        uint64    `gorm:"index;not null" json:"request_id"`
	CreatedBy        uint64    `gorm:"not null" json:"created_by"`
	Comment          string    `gorm:"type:text;not null" json:"comment"`
	IsSendBackReason bool      `gorm:"not null;default:false" json:"is_send_back_reason"`
	CreatedAt        time.Time `json:"created_at"`
}

// RoutingRule — правило маршрутизации для одного типа заявок (не более одного
// правила на тип).
type RoutingRule struct {
	ID          uint64      `gorm:"primaryKey" json:"id"`
	ServiceType ServiceType `gorm:"type:varchar(32);uniqueIndex;not null" json:"service_type"`
	IsActive    bool        `gorm:"not null;default:true" json:"is_active"`
	AutoAssign  bool        `gorm:"not null;default:false" json:"auto_assign"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// RoutingRuleUser — допуск пользователя к типу заявок. Единственная модель
// «кто какой тип обслуживает»: и ручное назначение, и автоподбор читают её.
type RoutingRuleUser struct {
	ID          uint64      `gorm:"primaryKey" json:"id"`
	ServiceType ServiceType `gorm:"type:varchar(32);uniqueIndex:idx_rule_user;not null" json:"service_type"`
	UserID      uint64      `gorm:"uniqueIndex:idx_rule_user;not null" json:"user_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// User — минимальная запись справочника пользователей. Аутентификацией владеет
// внешний identity-сервис, здесь только то, что нужно назначению и витринам.
type User struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	FullName  string    `gorm:"type:varchar(255);not null" json:"full_name"`
	Role      string    `gorm:"type:varchar(32)" json:"role,omitempty"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserDisplay — краткая карточка пользователя для витрин очередей.
type UserDisplay struct {
	ID       uint64 `json:"id"`
	FullName string `json:"full_name"`
}
