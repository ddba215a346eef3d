package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL token 默认有效期
const DefaultTokenTTL = 24 * time.Hour

// Claims 代理访问令牌
// Services 为空时允许访问所有服务
type Claims struct {
	Services []string `json:"services,omitempty"`
	jwt.RegisteredClaims
}

// Allows 报告令牌是否允许访问 service
func (c *Claims) Allows(service string) bool {
	return len(c.Services) == 0 || slices.Contains(c.Services, service)
}

// Authenticator 使用 HS256 签发和校验令牌
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator 创建 Authenticator，ttl <= 0 时使用 DefaultTokenTTL
func NewAuthenticator(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateToken 为 subject 签发令牌
func (a *Authenticator) GenerateToken(subject string, services ...string) (string, error) {
	now := a.now()
	claims := &Claims{
		Services: services,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateToken 校验令牌并返回 claims
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// 验证签名方法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
