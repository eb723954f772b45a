package model

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// 会員。認証フローは別システムが持つので、ここでは通知先とロールだけ使う。
type User struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Email       string `gorm:"uniqueIndex;not null"`
	DisplayName string `gorm:"type:varchar(100);not null"`
	Role        Role   `gorm:"type:varchar(20);not null;default:'USER'"`
	IsActive    bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
