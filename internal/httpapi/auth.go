package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyOwner = "auth_owner"
	bearerPrefix    = "Bearer "
)

var errMissingSession = errors.New("missing session")

// SessionClaims are the claims carried by session tokens; the subject is the owner id.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// SessionValidator verifies HS256 session tokens from the Authorization header or the session cookie.
type SessionValidator struct {
	signingKey []byte
	issuer     string
	cookieName string
	parser     *jwt.Parser
}

// NewSessionValidator builds a validator from cfg.
func NewSessionValidator(cfg Config) *SessionValidator {
	return &SessionValidator{
		signingKey: []byte(cfg.JWTSigningKey),
		issuer:     cfg.JWTIssuer,
		cookieName: cfg.JWTCookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.JWTIssuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Validate returns the owner named by a raw session token.
func (validator *SessionValidator) Validate(raw string) (restoration.OwnerID, error) {
	claims := &SessionClaims{}
	_, err := validator.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return validator.signingKey, nil
	})
	if err != nil {
		return restoration.OwnerID{}, err
	}
	return restoration.NewOwnerID(claims.Subject)
}

// Issue mints a session token; used by tooling and tests.
func (validator *SessionValidator) Issue(ownerID restoration.OwnerID, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = ownerID.String()
	claims.Issuer = validator.issuer
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{RegisteredClaims: claims})
	return token.SignedString(validator.signingKey)
}

// GinMiddleware rejects requests without a valid session and stores the owner id on the context.
func (validator *SessionValidator) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw := validator.extract(ctx)
		if raw == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, errMissingSession.Error(), nil))
			return
		}
		ownerID, err := validator.Validate(raw)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "invalid session", nil))
			return
		}
		ctx.Set(contextKeyOwner, ownerID)
		ctx.Next()
	}
}

func (validator *SessionValidator) extract(ctx *gin.Context) string {
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	if validator.cookieName == "" {
		return ""
	}
	cookie, err := ctx.Cookie(validator.cookieName)
	if err != nil {
		return ""
	}
	return cookie
}

func getOwner(ctx *gin.Context) (restoration.OwnerID, bool) {
	value, ok := ctx.Get(contextKeyOwner)
	if !ok {
		return restoration.OwnerID{}, false
	}
	ownerID, ok := value.(restoration.OwnerID)
	return ownerID, ok
}
