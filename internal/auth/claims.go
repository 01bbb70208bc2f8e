package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken 令牌结构或载荷无法解析
	ErrMalformedToken = errors.New("malformed token")
	// ErrNoExpiry 令牌载荷缺少过期时间声明
	ErrNoExpiry = errors.New("token has no expiry claim")
)

// Claims 客户端关心的最小令牌声明集
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// DecodeClaims 不验证签名地解码令牌声明
//
// 客户端从不持有签名密钥，这里只解码三段式令牌的中间载荷。
// 失败模式显式区分：结构错误、载荷非 JSON（均为 ErrMalformedToken）、
// 缺少过期声明（ErrNoExpiry）。调用方按"解码失败即视为过期"处理。
func DecodeClaims(tokenString string) (*Claims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, ErrMalformedToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedToken
	}

	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrNoExpiry
	}

	claims := &Claims{ExpiresAt: exp.Time}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}

	return claims, nil
}

// Expired 判定声明在给定时刻是否已过期（过期时间等于当前时刻也视为过期）
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// TokenUsable 判定令牌当前是否可用
//
// 解码失败或已过期均返回 false（fail closed）
func TokenUsable(tokenString string, now time.Time) bool {
	claims, err := DecodeClaims(tokenString)
	if err != nil {
		return false
	}
	return !claims.Expired(now)
}
