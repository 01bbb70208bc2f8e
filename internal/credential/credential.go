package credential

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound 请求的凭证槽位不存在
	ErrNotFound = errors.New("credential not found")
)

// Identity 登录用户的最小身份信息（从凭证声明中派生，非服务端回查）
type Identity struct {
	Subject     string `json:"subject"`     // 凭证 subject 声明
	Email       string `json:"email"`       // 登录邮箱
	DisplayName string `json:"displayName"` // 显示名，取邮箱本地部分
}

// Credential 持有者令牌及其派生身份
type Credential struct {
	Token    string
	Identity Identity
}

// Store 凭证持久化接口
//
// 两个独立持久化的槽位：原始令牌和序列化的身份记录。
// 任一槽位缺失时会话视为未认证，与另一槽位无关。
type Store interface {
	// SetToken 写入原始令牌
	SetToken(token string) error
	// SetIdentity 写入身份记录
	SetIdentity(id Identity) error
	// Token 读取原始令牌，不存在时返回 ErrNotFound
	Token() (string, error)
	// Identity 读取身份记录，不存在时返回 ErrNotFound
	Identity() (Identity, error)
	// Clear 清除全部槽位，槽位本就为空时不视为错误
	Clear() error
}

// Load 从存储中读取完整凭证
//
// 任一槽位缺失或读取失败时返回 ok=false
func Load(s Store) (Credential, bool) {
	token, err := s.Token()
	if err != nil || token == "" {
		return Credential{}, false
	}

	id, err := s.Identity()
	if err != nil {
		return Credential{}, false
	}

	return Credential{Token: token, Identity: id}, true
}

// Save 整体写入凭证（登录时整体替换，从不部分覆盖）
func Save(s Store, cred Credential) error {
	if err := s.SetToken(cred.Token); err != nil {
		return err
	}
	return s.SetIdentity(cred.Identity)
}

// DisplayNameFromEmail 从邮箱地址派生显示名（本地部分）
func DisplayNameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
