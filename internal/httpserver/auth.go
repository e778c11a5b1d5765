package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
)

const operatorContextKey = "operator_id"

// subjectWalletID extracts the authenticated wallet id from the session
// claims set by the tauth middleware.
func subjectWalletID(ctx *gin.Context) (string, bool) {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return "", false
	}
	claims, ok := claimsValue.(*sessionvalidator.Claims)
	if !ok || claims == nil {
		return "", false
	}
	return claims.GetUserID(), true
}

// terminalAuthMiddleware validates the terminal bearer token and stashes the
// operator account id for the handlers.
func terminalAuthMiddleware(signingKey string, issuer string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		operatorID, err := parseTerminalToken(ctx.GetHeader("Authorization"), signingKey, issuer)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid terminal token"))
			return
		}
		ctx.Set(operatorContextKey, operatorID)
		ctx.Next()
	}
}

func parseTerminalToken(authorizationHeader string, signingKey string, issuer string) (string, error) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
		return "", fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authorizationHeader, bearerPrefix))
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(signingKey), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid terminal token")
	}
	return claims.Subject, nil
}

func contextOperatorID(ctx *gin.Context) (string, bool) {
	value, ok := ctx.Get(operatorContextKey)
	if !ok {
		return "", false
	}
	operatorID, ok := value.(string)
	return operatorID, ok && operatorID != ""
}
