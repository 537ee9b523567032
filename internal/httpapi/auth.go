package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/members"
)

const ctxMember = "member"

// Claims хранит личность из токена (тенант, участник и роль на момент выдачи).
type Claims struct {
	TenantID int64        `json:"tenant_id"`
	MemberID int64        `json:"member_id"`
	Role     members.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken подписывает токен доступа для участника.
func IssueToken(secret []byte, m *members.Member, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: m.TenantID,
		MemberID: m.ID,
		Role:     m.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken проверяет подпись и срок токена.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.TenantID <= 0 || claims.MemberID <= 0 {
		return nil, errors.New("в токене нет тенанта или участника")
	}
	return claims, nil
}

// auth проверяет Bearer-токен и кладёт участника в контекст запроса.
// Роль берётся из базы, а не из токена: отозванная роль действует сразу.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || token == "" {
			abort(c, common.ErrUnauthorized.WithMessage("нужен заголовок Authorization: Bearer <token>"))
			return
		}
		claims, err := ParseToken(s.secret, token)
		if err != nil {
			abort(c, common.ErrUnauthorized.WithMessage("недействительный токен").Wrap(err))
			return
		}
		m, err := s.members.GetByID(c.Request.Context(), claims.TenantID, claims.MemberID)
		if err != nil {
			if errors.Is(err, common.ErrMemberNotFound) {
				abort(c, common.ErrUnauthorized.WithMessage("участник не найден"))
				return
			}
			abort(c, err)
			return
		}
		c.Set(ctxMember, m)
		c.Next()
	}
}

// member возвращает участника, проверенного auth.
func member(c *gin.Context) *members.Member {
	return c.MustGet(ctxMember).(*members.Member)
}
