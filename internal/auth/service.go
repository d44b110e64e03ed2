package auth

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	errors "github.com/frahmantamala/payment-orchestration/internal"
)

// Service validates the bearer tokens presented to the API.
type Service struct {
	tokenGenerator TokenGenerator
}

func NewService(tokenGen TokenGenerator) *Service {
	return &Service{tokenGenerator: tokenGen}
}

// NewJWTTokenGenerator creates a new JWT token generator
func NewJWTTokenGenerator(secret, issuer string) *JWTTokenGenerator {
	return &JWTTokenGenerator{
		Secret:     []byte(secret),
		Issuer:     issuer,
		DefaultTTL: 24 * time.Hour,
		now:        time.Now,
	}
}

// ValidateAccessToken validates access token and returns claims
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.tokenGenerator.ValidateToken(tokenString)
}

// IssueToken mints a token for an integration or an operator.
func (s *Service) IssueToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.NewValidationFieldError("subject", "subject is required", errors.ErrCodeValidationFailed)
	}
	return s.tokenGenerator.GenerateToken(subject, scopes, ttl)
}

func (j *JWTTokenGenerator) clock() time.Time {
	if j.now == nil {
		return time.Now()
	}
	return j.now()
}

// GenerateToken creates a signed HS256 token carrying scopes.
func (j *JWTTokenGenerator) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = j.DefaultTTL
	}
	now := j.clock()
	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.Secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTTokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(j.clock), jwt.WithExpirationRequired()}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Secret, nil
	}, opts...)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.ErrInvalidToken
}
