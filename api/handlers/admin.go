package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/medready/hospital-bed-api/allocation"
	"github.com/medready/hospital-bed-api/api"
	"github.com/medready/hospital-bed-api/config"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/models"
)

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type adminLoginResponse struct {
	Token string `json:"token"`
	Admin struct {
		ID    string   `json:"id"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	} `json:"admin"`
}

// Admin represents the network admin handler. Admins approve hospital
// registrations and can trigger an out-of-band counter reconciliation.
type Admin struct {
	ADB        databases.AdminDatabase
	HDB        databases.HospitalDatabase
	Allocation *allocation.Service
	JWTSecret  string
}

// AdminLoginHandler handles admin login via email/password and returns a JWT
func (h Admin) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid request"})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "email and password required"})
		return
	}

	admin, err := h.ADB.FindOne(r.Context(), bson.M{"email": email, "active": true})
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(req.Password)); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
		return
	}

	if h.JWTSecret == "" {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "server misconfigured"})
		return
	}

	claims := jwt.MapClaims{
		"sub":   admin.ID.Hex(),
		"email": admin.Email,
		"roles": admin.Roles,
		"scope": "admin",
		"typ":   "access",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.JWTSecret))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "token generation failed"})
		return
	}

	var resp adminLoginResponse
	resp.Token = signed
	resp.Admin.ID = admin.ID.Hex()
	resp.Admin.Email = admin.Email
	resp.Admin.Roles = admin.Roles

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// RequireAdmin verifies the bearer JWT carries the admin scope before
// passing the request through.
func (h Admin) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing bearer token"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(h.JWTSecret), nil
		})
		if err != nil || !token.Valid || claims["scope"] != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ApproveHospitalHandler activates a registered hospital so it joins the
// allocation network and becomes visible to nearby searches.
func (h Admin) ApproveHospitalHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID, err := primitive.ObjectIDFromHex(mux.Vars(r)["hospital_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	modified, err := h.HDB.UpdateOne(ctx,
		bson.M{"_id": hospitalID, "hospital.isActive": false},
		bson.M{"$set": bson.M{
			"hospital.isActive":  true,
			"hospital.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
		}},
	)
	if err != nil {
		config.ErrorStatus("failed to approve hospital", http.StatusInternalServerError, w, err)
		return
	}
	if modified == 0 {
		// already active or unknown, tell them apart
		if _, findErr := h.HDB.FindOne(ctx, bson.M{"_id": hospitalID}); findErr != nil {
			config.ErrorStatus("hospital not found", http.StatusNotFound, w, models.ErrNotFound)
			return
		}
		config.ErrorStatus("hospital already active", http.StatusConflict, w, models.ErrStateConflict)
		return
	}

	zap.S().Infow("hospital approved", "hospitalId", hospitalID.Hex())

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Hospital approved"})
}

// ReconcileHandler recomputes a hospital's cached availability counters from
// the bed records and corrects any drift.
func (h Admin) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID, err := primitive.ObjectIDFromHex(mux.Vars(r)["hospital_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	corrections, err := h.Allocation.Reconcile(ctx, hospitalID)
	if err != nil {
		config.ErrorStatus("failed to reconcile counters", statusForError(err), w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"message":     "Reconciliation complete",
		"corrections": corrections,
	})
}
