package config

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/medready/hospital-bed-api/models"
)

// Config holds the project config values
type Config struct {
	URL            string
	DatabaseName   string
	BaseURL        string
	Port           string
	AdminJWTSecret string
	HoldTTL        time.Duration
}

// New sets up all config related services
func New() *Config {

	//setup zap logger and replace default logger
	logger := zap.NewExample()
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	return &Config{
		URL:            os.Getenv("DB_URI"),
		DatabaseName:   os.Getenv("DB_NAME"),
		BaseURL:        os.Getenv("BASE_URL"),
		Port:           os.Getenv("PORT"),
		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		HoldTTL:        holdTTL(),
	}

}

// holdTTL reads HOLD_TTL_MINUTES, the maximum age of an emergency bed hold
// before the scheduler sweeps it back to available. Defaults to 30 minutes.
func holdTTL() time.Duration {
	raw := os.Getenv("HOLD_TTL_MINUTES")
	if raw == "" {
		return 30 * time.Minute
	}
	mins, err := strconv.Atoi(raw)
	if err != nil || mins <= 0 {
		zap.S().Warnf("invalid HOLD_TTL_MINUTES %q, using default of 30", raw)
		return 30 * time.Minute
	}
	return time.Duration(mins) * time.Minute
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	w.WriteHeader(httpStatusCode)
	b, _ := json.Marshal(models.ErrorMessageResponse{Response: models.MessageError{Message: message, Error: err.Error()}})
	w.Write(b)
	return
}
