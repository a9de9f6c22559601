package services

import (
	"errors"
	"sync"
	"time"

	"meshcall/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and checks the bearer tokens presented to the signaling
// relay and to the local control API.
type AuthService interface {
	GenerateToken(subject string, room domain.RoomID) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	// TokenSource returns a function handing out a cached token that is
	// reissued once less than a quarter of its lifetime remains.
	TokenSource(subject string, room domain.RoomID) func() (string, error)
}

type Claims struct {
	Room domain.RoomID `json:"room,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	issuer         string
	now            func() time.Time
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration, issuer string) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		issuer:         issuer,
		now:            time.Now,
	}
}

func (s *authService) GenerateToken(subject string, room domain.RoomID) (string, error) {
	now := s.now()
	claims := &Claims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) TokenSource(subject string, room domain.RoomID) func() (string, error) {
	var (
		mu      sync.Mutex
		cached  string
		renewAt time.Time
	)
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()

		now := s.now()
		if cached != "" && now.Before(renewAt) {
			return cached, nil
		}
		token, err := s.GenerateToken(subject, room)
		if err != nil {
			return "", err
		}
		cached = token
		renewAt = now.Add(s.accessTokenTTL * 3 / 4)
		return cached, nil
	}
}
