package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cinewave/internal/core/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService validates the bearer tokens issued by the account service.
type AuthService interface {
	GenerateToken(profile domain.UserProfile) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims carries the user id plus the profile fields shown to other members.
type Claims struct {
	UserID    domain.UserID `json:"user_id"`
	Name      string        `json:"name,omitempty"`
	Email     string        `json:"email,omitempty"`
	AvatarURL string        `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Profile() *domain.UserProfile {
	return &domain.UserProfile{
		ID:          c.UserID,
		Email:       c.Email,
		DisplayName: c.Name,
		AvatarURL:   c.AvatarURL,
	}
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	now            func() time.Time
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		now:            time.Now,
	}
}

func (s *authService) GenerateToken(profile domain.UserProfile) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:    profile.ID,
		Name:      profile.DisplayName,
		Email:     profile.Email,
		AvatarURL: profile.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(profile.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = domain.UserID(claims.Subject)
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
