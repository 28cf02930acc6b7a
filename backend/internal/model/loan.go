package model

import "time"

// 借用状态；overdue 只在读取时派生，不落库
const (
	LoanStatusActive   = "active"
	LoanStatusReturned = "returned"
	LoanStatusOverdue  = "overdue"
)

// Loan 借用记录表 — 对应 loans
type Loan struct {
	LoanID     string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"loan_id"`
	MaterialID string     `gorm:"type:uuid;not null"                             json:"material_id"`
	UserID     string     `gorm:"type:uuid;not null"                             json:"user_id"`
	ActivityID *string    `gorm:"type:uuid"                                      json:"activity_id,omitempty"`
	Quantity   int        `gorm:"not null;default:1"                             json:"quantity"`
	LoanDate   time.Time  `gorm:"not null"                                       json:"loan_date"`
	DueDate    time.Time  `gorm:"not null"                                       json:"due_date"`
	ReturnDate *time.Time `                                                      json:"return_date,omitempty"`
	ReturnedBy *string    `gorm:"type:uuid"                                      json:"returned_by,omitempty"`
	Status     string     `gorm:"type:varchar(20);not null;default:'active'"     json:"status"`
	Notes      string     `gorm:"type:varchar(500);not null;default:''"          json:"notes"`
	BaseModel

	// 关联
	Material *Material `gorm:"foreignKey:MaterialID;references:MaterialID" json:"material,omitempty"`
	User     *User     `gorm:"foreignKey:UserID;references:UserID"         json:"user,omitempty"`
}

// TableName 指定表名
func (Loan) TableName() string { return "loans" }

// IsActive 尚未归还
func (l *Loan) IsActive() bool { return l.ReturnDate == nil && l.Status != LoanStatusReturned }

// EffectiveStatus 读取时派生状态：未归还且已过预计归还日期即为 overdue
func (l *Loan) EffectiveStatus(now time.Time) string {
	if !l.IsActive() {
		return LoanStatusReturned
	}
	if l.DueDate.Before(now) {
		return LoanStatusOverdue
	}
	return LoanStatusActive
}
