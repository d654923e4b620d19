package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/medready/hospital-bed-api/admission"
	"github.com/medready/hospital-bed-api/allocation"
	"github.com/medready/hospital-bed-api/api"
	"github.com/medready/hospital-bed-api/api/scheduler"
	"github.com/medready/hospital-bed-api/config"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/dispatch"
	"github.com/medready/hospital-bed-api/events"
	"github.com/medready/hospital-bed-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router   *mux.Router
	Config   config.Config
	Hub      *events.Hub
	dbHelper databases.DatabaseHelper
	client   databases.ClientHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewStaffDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	hospitalDB := databases.NewHospitalDatabase(a.dbHelper)
	bedDB := databases.NewBedDatabase(a.dbHelper)
	emergencyDB := databases.NewEmergencyDatabase(a.dbHelper)
	patientDB := databases.NewPatientDatabase(a.dbHelper)

	a.Hub = events.NewHub()

	allocationService := allocation.New(bedDB, hospitalDB, a.client, a.Hub)
	dispatchService := dispatch.New(emergencyDB, hospitalDB, patientDB, allocationService)
	admissionService := admission.New(patientDB, hospitalDB, allocationService)

	h := Hospital{DB: hospitalDB, BedDB: bedDB, Allocation: allocationService, Dispatch: dispatchService}
	b := Bed{DB: bedDB, Allocation: allocationService}
	e := Emergency{DB: emergencyDB, Dispatch: dispatchService}
	p := Patient{DB: patientDB, Admission: admissionService}
	admin := Admin{ADB: databases.NewAdminDatabase(a.dbHelper), HDB: hospitalDB, Allocation: allocationService, JWTSecret: a.Config.AdminJWTSecret}

	r := mux.NewRouter()

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	// realtime bed events for dashboards
	r.HandleFunc("/ws/beds", a.Hub.HandleWebSocket)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	apiCreate.Use(api.TimeoutMiddleware(30 * time.Second))

	apiCreate.Handle("/auth/token", http.HandlerFunc(m.CreateToken)).Methods("POST")
	apiCreate.Handle("/auth/logout", api.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/admin/login", http.HandlerFunc(admin.AdminLoginHandler)).Methods("POST")
	apiCreate.Handle("/admin/hospital/{hospital_id}/approve", admin.RequireAdmin(http.HandlerFunc(admin.ApproveHospitalHandler))).Methods("PATCH")
	apiCreate.Handle("/admin/hospital/{hospital_id}/reconcile", admin.RequireAdmin(http.HandlerFunc(admin.ReconcileHandler))).Methods("POST")

	apiCreate.Handle("/hospital", http.HandlerFunc(h.RegisterHospitalHandler)).Methods("POST")
	apiCreate.Handle("/hospital/{hospital_id}", api.Middleware(http.HandlerFunc(h.HospitalByIDHandler))).Methods("GET")
	apiCreate.Handle("/hospital/{hospital_id}/beds/available", api.Middleware(http.HandlerFunc(h.AvailableBedsHandler))).Methods("GET")
	apiCreate.Handle("/hospitals/nearby", http.HandlerFunc(h.NearbyHospitalsHandler)).Methods("GET")

	apiCreate.Handle("/bed/{bed_id}/occupy", api.Middleware(http.HandlerFunc(b.OccupyBedHandler))).Methods("PATCH")
	apiCreate.Handle("/bed/{bed_id}/release", api.Middleware(http.HandlerFunc(b.ReleaseBedHandler))).Methods("PATCH")
	apiCreate.Handle("/bed/{bed_id}/maintenance", api.Middleware(http.HandlerFunc(b.MarkMaintenanceHandler))).Methods("PATCH")
	apiCreate.Handle("/bed/{bed_id}/maintenance/clear", api.Middleware(http.HandlerFunc(b.ClearMaintenanceHandler))).Methods("PATCH")

	apiCreate.Handle("/emergency", http.HandlerFunc(e.IntakeHandler)).Methods("POST")
	apiCreate.Handle("/emergency/{request_id}", api.Middleware(http.HandlerFunc(e.EmergencyByIDHandler))).Methods("GET")
	apiCreate.Handle("/emergency/{request_id}/assign", api.Middleware(http.HandlerFunc(e.AssignHospitalHandler))).Methods("PATCH")
	apiCreate.Handle("/emergency/{request_id}/dispatch-ambulance", api.Middleware(http.HandlerFunc(e.DispatchAmbulanceHandler))).Methods("PATCH")
	apiCreate.Handle("/emergency/{request_id}/complete-admission", api.Middleware(http.HandlerFunc(e.CompleteAdmissionHandler))).Methods("PATCH")
	apiCreate.Handle("/emergency/{request_id}/complete", api.Middleware(http.HandlerFunc(e.CompleteHandler))).Methods("PATCH")
	apiCreate.Handle("/emergency/{request_id}/cancel", api.Middleware(http.HandlerFunc(e.CancelHandler))).Methods("PATCH")

	apiCreate.Handle("/hospital/{hospital_id}/patients", api.Middleware(http.HandlerFunc(p.AdmitPatientHandler))).Methods("POST")
	apiCreate.Handle("/patient/{patient_id}", api.Middleware(http.HandlerFunc(p.PatientByIDHandler))).Methods("GET")
	apiCreate.Handle("/patient/{patient_id}/discharge", api.Middleware(http.HandlerFunc(p.DischargePatientHandler))).Methods("PATCH")

	return r
}

// StartScheduler launches the background jobs for counter reconciliation and
// stale hold sweeping. Must be called after Initialize.
func (a *App) StartScheduler() *scheduler.Scheduler {
	hospitalDB := databases.NewHospitalDatabase(a.dbHelper)
	bedDB := databases.NewBedDatabase(a.dbHelper)
	emergencyDB := databases.NewEmergencyDatabase(a.dbHelper)
	patientDB := databases.NewPatientDatabase(a.dbHelper)
	lockDB := databases.NewSchedulerLockDatabase(a.dbHelper)

	allocationService := allocation.New(bedDB, hospitalDB, a.client, a.Hub)
	dispatchService := dispatch.New(emergencyDB, hospitalDB, patientDB, allocationService)

	s := scheduler.NewScheduler(hospitalDB, emergencyDB, lockDB, allocationService, dispatchService, a.Config.HoldTTL)
	s.Start()
	return s
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.client = client
	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("hospital-bed-api has connected to the database")

	// initialize api router
	a.initializeRoutes()
	return nil

}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}

// statusForError maps a domain error onto its HTTP status. Resource and
// state conflicts both come back 409, but with distinct messages so a client
// can tell a retryable lost race from a lifecycle violation; neither is ever
// folded into 404.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrBedUnavailable),
		errors.Is(err, models.ErrNoBedAvailable),
		errors.Is(err, models.ErrBedNoLongerHeld),
		errors.Is(err, models.ErrNoAmbulanceAvailable),
		errors.Is(err, models.ErrStateConflict),
		errors.Is(err, models.ErrAlreadyAvailable),
		errors.Is(err, models.ErrAlreadyDischarged):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
