package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/session"
)

const (
	contextTokenKey = "userToken"
	audience        = "Academia"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Username  string   `json:"username,omitempty"`
	Email     string   `json:"email,omitempty"`
	IsStudent bool     `json:"is_student,omitempty"` // -> STUDENT PORTAL
	IsTeacher bool     `json:"is_teacher,omitempty"` // -> TEACHER PORTAL
	IsAdmin   bool     `json:"is_admin,omitempty"`   // -> ADMIN PORTAL
	Roles     []string `json:"roles,omitempty"`
}

// Actor returns the user the claims were issued to.
func (c Claims) Actor() session.Actor {
	return session.Actor{
		ID:       c.Subject,
		Username: c.Username,
		Email:    c.Email,
		Roles:    c.Roles,
	}
}

// NewClaims returns the claims of a token issued now to actor.
func NewClaims(actor session.Actor, conf *core.Config) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   actor.ID,
			Audience:  audience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username:  actor.Username,
		Email:     actor.Email,
		IsStudent: actor.IsStudent(),
		IsTeacher: actor.IsTeacher(),
		IsAdmin:   actor.IsAdmin(),
		Roles:     actor.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(claims *Claims, secretKey string) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

type authenticator struct {
	header echo.MiddlewareFunc
	query  echo.MiddlewareFunc
}

func newAuthenticator(conf *core.Config) *authenticator {
	jwtConfig := func(lookup string) middleware.JWTConfig {
		return middleware.JWTConfig{
			SigningKey:    []byte(conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    contextTokenKey,
			Claims:        new(Claims),
			TokenLookup:   lookup,
		}
	}
	return &authenticator{
		header: middleware.JWTWithConfig(jwtConfig("header:" + echo.HeaderAuthorization)),
		// browsers can't set headers on websocket handshakes
		query: middleware.JWTWithConfig(jwtConfig("query:token")),
	}
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextActor(ctx echo.Context) (session.Actor, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return session.Actor{}, err
	}
	return claims.Actor(), nil
}
