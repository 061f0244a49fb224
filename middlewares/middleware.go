package middlewares

import (
	"context"
	"net/http"
	"strings"

	"bitbucket.org/parqueoasis/payments/helpers"
	"bitbucket.org/parqueoasis/payments/models"
	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	jwtmiddleware "github.com/mfuentesg/go-jwtmiddleware"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/negroni"
)

type contextKey string

const (
	userKey   contextKey = "user"
	loggerKey contextKey = "logger"
)

// Role ids as issued by the auth service.
var Roles = struct {
	Admin  int
	Client int
	API    int
}{
	Admin:  1,
	Client: 4,
	API:    5,
}

func jwtErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	r := &ResponseWriter{Writer: w}
	if err.Error() == "Token is expired" {
		r.Error(http.StatusUnauthorized, "unauthorized", WithErrorScope("token"), WithTokenExpired())
		return
	}
	if err != nil {
		r.Error(http.StatusUnauthorized, "unauthorized", WithErrorScope("token"))
	}
}

func NewJWTMiddleware(secret []byte) *jwtmiddleware.Middleware {
	return jwtmiddleware.New(
		jwtmiddleware.WithErrorHandler(jwtErrorHandler),
		jwtmiddleware.WithSigningMethod(jwt.SigningMethodHS256),
		jwtmiddleware.WithSignKey(secret),
		jwtmiddleware.WithUserProperty("_jwt-token"),
	)
}

// LoggerRequest attaches a request scoped logger to the context. The request id is taken from
// X-Request-ID or generated.
func LoggerRequest(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	requestLogger := log.WithFields(log.Fields{
		"request_id": requestID,
		"method":     r.Method,
		"url":        r.URL.Path,
		"host":       r.Host,
	})
	requestLogger.Info("logger_request")
	rw.Header().Set("X-Request-ID", requestID)
	next(rw, r.WithContext(context.WithValue(r.Context(), loggerKey, requestLogger)))
}

func GetLogger(ctx context.Context) *log.Entry {
	if logger, ok := ctx.Value(loggerKey).(*log.Entry); ok {
		return logger
	}
	return log.NewEntry(log.StandardLogger())
}

// UserInfo returns the caller decoded by UserMiddleware, or the zero value for anonymous requests.
func UserInfo(r *http.Request) models.InfoUser {
	userInfo := models.InfoUser{}
	mapstructure.Decode(r.Context().Value(userKey), &userInfo)
	return userInfo
}

func WithUser(ctx context.Context, user models.InfoUser) context.Context {
	return context.WithValue(ctx, userKey, map[string]interface{}{
		"ID":      user.ID,
		"Email":   user.Email,
		"IsAdmin": user.IsAdmin,
		"IsAPI":   user.IsAPI,
		"Read":    user.Read,
		"Roles":   user.Roles,
	})
}

func UserMiddleware() negroni.HandlerFunc {
	return negroni.HandlerFunc(func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		authorization := r.Header.Get("Authorization")
		token := strings.Split(authorization, " ")
		if len(token) != 2 {
			next(rw, r)
			return
		}

		data, _ := helpers.ParserTokenUnverified(token[1])
		tokenParse, ok := data["u"].(map[string]interface{})
		if !ok {
			next(rw, r)
			return
		}

		dataInfo := models.InfoUser{}
		mapstructure.Decode(map[string]interface{}{
			"ID":    tokenParse["i"],
			"Roles": tokenParse["r"],
			"Read":  tokenParse["read"],
			"Email": tokenParse["email"],
		}, &dataInfo)
		dataInfo.IsAdmin = helpers.HasRole(dataInfo.Roles, Roles.Admin)
		dataInfo.IsAPI = helpers.HasRole(dataInfo.Roles, Roles.API)
		isClient := helpers.HasRole(dataInfo.Roles, Roles.Client)

		if r.Method != http.MethodGet && dataInfo.Read {
			(&ResponseWriter{Writer: rw}).Error(http.StatusUnauthorized, "unauthorized", WithErrorScope("token"))
			return
		}
		if !dataInfo.IsAdmin && !isClient && !dataInfo.IsAPI && !dataInfo.Read {
			(&ResponseWriter{Writer: rw}).Error(http.StatusUnauthorized, "unauthorized", WithErrorScope("token"))
			return
		}

		next(rw, r.WithContext(WithUser(r.Context(), dataInfo)))
	})
}
