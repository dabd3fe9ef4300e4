package model

import "time"

// Account 表示注册接口使用的关系表账号（usuarios 表）。
//
// 与 KV 路径的 model.User 不同，Account 的密码是 bcrypt 哈希，
// 且需要通过邮箱验证码激活后才能登录。
type Account struct {
	ID                  uint       `gorm:"primaryKey"`                    // 账号 ID
	Name                string     `gorm:"type:varchar(100);not null"`    // 昵称（≥3 字符）
	Email               string     `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一）
	Password            string     `gorm:"not null"`                      // bcrypt 哈希
	IsVerified          bool       `gorm:"default:false"`                 // 邮箱是否已验证
	VerifyCode          string     `gorm:"type:varchar(16)"`              // 邮箱验证码
	VerifyCodeExpiresAt *time.Time // 验证码过期时间
	VerifyCodeSentAt    *time.Time // 验证码发送时间
	CreatedAt           time.Time  // 创建时间
}

// TableName 沿用原始数据库的表名。
func (Account) TableName() string {
	return "usuarios"
}
