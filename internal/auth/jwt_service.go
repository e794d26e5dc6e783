package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultStreamTicketTTL bounds how long a push stream ticket may wait before it is redeemed.
	DefaultStreamTicketTTL = time.Minute

	// AudienceAPI marks tokens accepted by the REST endpoints.
	AudienceAPI = "pinnotify:api"
	// AudienceStream marks tokens accepted only by the push stream endpoint.
	AudienceStream = "pinnotify:stream"
)

var (
	// ErrInvalidToken is returned when a token fails signature, expiry, or claim checks.
	ErrInvalidToken = errors.New("jwt: invalid token")
	// ErrWrongAudience is returned when a token was issued for a different endpoint family.
	ErrWrongAudience = errors.New("jwt: token audience not accepted")
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	Clock          func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// JWTService issues and validates the HMAC-signed tokens identifying notification recipients.
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// GenerateAccessToken issues an API token for userID.
func (s *JWTService) GenerateAccessToken(userID string) (string, error) {
	return s.sign(userID, AudienceAPI, s.ttl)
}

// GenerateStreamTicket issues a short-lived token that only the push stream
// endpoint accepts. Browsers pass it as a query parameter because the
// WebSocket handshake cannot carry an Authorization header.
func (s *JWTService) GenerateStreamTicket(userID string) (string, error) {
	return s.sign(userID, AudienceStream, DefaultStreamTicketTTL)
}

func (s *JWTService) sign(userID, audience string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("jwt: user id is required")
	}

	now := s.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// ValidateToken parses a signed JWT and checks that its audience is one of accepted.
func (s *JWTService) ValidateToken(tokenString string, accepted ...string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token string is empty", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidToken)
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id claim", ErrInvalidToken)
	}

	if len(accepted) > 0 && !slices.ContainsFunc(claims.Audience, func(aud string) bool {
		return slices.Contains(accepted, aud)
	}) {
		return nil, ErrWrongAudience
	}

	return &claims, nil
}
