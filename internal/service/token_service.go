package service

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind discrimina el propósito de un token firmado.
type TokenKind string

const (
	KindSession      TokenKind = "session"
	KindVerification TokenKind = "verification"
	KindReset        TokenKind = "reset"
)

// audiencia fija para tokens de sesión.
const sessionAudience = "authgate:auth"

// ErrInvalidToken cubre firma inválida, estructura malformada, expiración,
// kind equivocado y subject no numérico. No se distingue el sub-caso hacia
// afuera para no dar un oráculo a intentos de forja.
var ErrInvalidToken = errors.New("invalid token")

// Claims es el payload firmado de un token del gateway.
type Claims struct {
	Kind TokenKind `json:"kind"`
	jwt.RegisteredClaims

	// AccountID es el subject ya parseado; lo completa Validate.
	AccountID int64 `json:"-"`
}

// TokenService emite y valida tokens firmados de sesión, verificación y
// reset. Es computación pura: no hay lista de revocación, la expiración es
// el único mecanismo de invalidación (los tokens de reset tampoco se marcan
// como consumidos).
type TokenService struct {
	secret    []byte
	lifetimes map[TokenKind]time.Duration
}

// NewTokenService construye el motor de tokens con una vida útil por kind.
func NewTokenService(secret string, sessionTTL, verificationTTL, resetTTL time.Duration) *TokenService {
	if sessionTTL <= 0 {
		sessionTTL = time.Hour
	}
	if verificationTTL <= 0 {
		verificationTTL = 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		lifetimes: map[TokenKind]time.Duration{
			KindSession:      sessionTTL,
			KindVerification: verificationTTL,
			KindReset:        resetTTL,
		},
	}
}

// Mint firma un token del kind pedido para la cuenta dada.
func (s *TokenService) Mint(kind TokenKind, accountID int64) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrInvalidToken
	}
	ttl, ok := s.lifetimes[kind]
	if !ok {
		return "", ErrInvalidToken
	}

	now := time.Now().UTC()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if kind == KindSession {
		claims.Audience = jwt.ClaimStrings{sessionAudience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate verifica firma, expiración y kind, y parsea el subject. Todo
// fallo colapsa en ErrInvalidToken.
func (s *TokenService) Validate(tokenString string, expected TokenKind) (Claims, error) {
	if len(s.secret) == 0 || tokenString == "" {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Kind != expected {
		return Claims{}, ErrInvalidToken
	}
	if expected == KindSession && !hasAudience(claims.Audience, sessionAudience) {
		return Claims{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}

	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || accountID <= 0 {
		return Claims{}, ErrInvalidToken
	}
	claims.AccountID = accountID
	return claims, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
