package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/basic"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/medready/hospital-bed-api/databases"
)

// MiddlewareDB is a struct that holds the database
type MiddlewareDB struct {
	DB databases.StaffDatabase
}

var authenticator auth.Authenticator
var cache store.Cache

type contextKey string

const hospitalBindingKey contextKey = "callerHospitalID"

// Middleware authenticates the caller and stores the caller's hospital
// binding on the request context. Every staff account is bound to exactly
// one hospital; hospital-scoped handlers read the binding back with
// CallerHospitalID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		user, err := authenticator.Authenticate(r)
		if err != nil {
			zap.S().Errorw("unauthorized",
				"url", r.URL)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		zap.S().Debugf("Staff %s authenticated\n", user.UserName())

		if vals := user.Extensions()["hospitalID"]; len(vals) > 0 && vals[0] != "" {
			r = r.WithContext(context.WithValue(r.Context(), hospitalBindingKey, vals[0]))
		}
		next.ServeHTTP(w, r)
	})
}

// CallerHospitalID returns the hex hospital ID the authenticated caller is
// bound to, empty when the request carries no binding.
func CallerHospitalID(r *http.Request) string {
	binding, _ := r.Context().Value(hospitalBindingKey).(string)
	return binding
}

// WithHospitalBinding returns a context carrying the hospital binding that
// CallerHospitalID reads back
func WithHospitalBinding(ctx context.Context, hospitalID string) context.Context {
	return context.WithValue(ctx, hospitalBindingKey, hospitalID)
}

// CreateToken returns a token bound to the staff member's hospital
func (m MiddlewareDB) CreateToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	email, _, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "basic auth failed", http.StatusUnauthorized)
		return
	}

	staff, err := m.DB.FindOne(r.Context(), bson.M{"staff.email": email, "staff.active": true})
	if err != nil {
		http.Error(w, "failed to get staff by email", http.StatusUnauthorized)
		return
	}

	token := uuid.New().String()
	exts := map[string][]string{"hospitalID": {staff.Details.HospitalID.Hex()}}
	authUser := auth.NewDefaultUser(email, staff.ID.Hex(), nil, exts)
	tokenStrategy := authenticator.Strategy(bearer.CachedStrategyKey)
	auth.Append(tokenStrategy, token, authUser, r)

	response := map[string]string{
		"token":      token,
		"_id":        staff.ID.Hex(),
		"hospitalID": staff.Details.HospitalID.Hex(),
	}

	responseBody, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}

	w.Write(responseBody)
}

// SetupGoGuardian sets up the go-guardian middleware
func (m MiddlewareDB) SetupGoGuardian() {
	authenticator = auth.New()
	cache = store.NewFIFO(context.Background(), time.Hour*24)
	basicStrategy := basic.New(m.ValidateStaff, cache)
	tokenStrategy := bearer.New(bearer.NoOpAuthenticate, cache)

	authenticator.EnableStrategy(basic.StrategyKey, basicStrategy)
	authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
}

// ValidateStaff validates a staff member's credentials against the staff
// collection
func (m MiddlewareDB) ValidateStaff(ctx context.Context, r *http.Request, email, password string) (auth.Info, error) {
	staff, err := m.DB.FindOne(ctx, bson.M{"staff.email": email, "staff.active": true})
	if err != nil {
		return nil, fmt.Errorf("no matching email found")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(staff.Details.Password), []byte(password)); err != nil {
		return nil, fmt.Errorf("failed to compare password")
	}

	exts := map[string][]string{"hospitalID": {staff.Details.HospitalID.Hex()}}
	return auth.NewDefaultUser(email, staff.ID.Hex(), nil, exts), nil
}

// RevokeToken revokes a token
func RevokeToken(w http.ResponseWriter, r *http.Request) {
	reqToken := r.Header.Get("Authorization")
	splitToken := strings.Split(reqToken, "Bearer ")
	if len(splitToken) < 2 {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "missing bearer token"}`))
		return
	}
	reqToken = splitToken[1]

	tokenStrategy := authenticator.Strategy(bearer.CachedStrategyKey)
	auth.Revoke(tokenStrategy, reqToken, r)
	body := fmt.Sprintf(`{"revoked token": "%s"}`, reqToken)
	w.Write([]byte(body))
}
