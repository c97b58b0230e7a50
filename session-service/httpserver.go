package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/helixhq/helix/backend/services/auth"
	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/httputils"
	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/types"
)

// The userID a request resolves to when running locally, where bearer
// tokens are not validated.
const localDevUserID types.UserID = "localdev-user"

// WorkspaceAssignHandler handles POST /workspace/assign. It authenticates
// the caller, parses the request, and hands it to the event loop; the
// resolver returns the result through the request's channel.
func WorkspaceAssignHandler(w http.ResponseWriter, r *http.Request, events chan<- SessionEvent) {
	if err := httputils.VerifyRequestType(w, r, http.MethodPost); err != nil {
		return
	}

	var reqdata httputils.WorkspaceAssignRequest
	claims, err := httputils.AuthenticateRequest(w, r, &reqdata)
	if err != nil {
		logger.Errorf("failed while authenticating request: %s", err)
		return
	}

	// The user id always comes from the verified access token, never the
	// request body.
	if claims != nil {
		reqdata.UserID = claims.UserID()
	} else {
		reqdata.UserID = localDevUserID
	}

	if reqdata.SessionID == "" {
		http.Error(w, "Missing session_id", http.StatusBadRequest)
		return
	}

	// Once we have authenticated and validated the request, send it to the
	// resolver for processing.
	events <- SessionEvent{
		ID:   uuid.NewString(),
		Type: WorkspaceAssignEventType,
		Data: &reqdata,
	}
	res := <-reqdata.ResultChan

	res.Send(w)
}

// WorkspaceStatusHandler handles GET /workspace/status?machine_id=<id>. It
// is a cheap passthrough to the provisioning API used by the frontend to
// poll boot progress after an assign.
func WorkspaceStatusHandler(w http.ResponseWriter, r *http.Request, events chan<- SessionEvent) {
	if err := httputils.VerifyRequestType(w, r, http.MethodGet); err != nil {
		return
	}

	// GET requests carry no body, so authenticate the bearer token directly.
	if !metadata.IsLocalEnv() {
		accessToken, err := httputils.GetAccessToken(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		claims, err := auth.ParseToken(accessToken)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := auth.Verify(claims); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	machineID := r.URL.Query().Get("machine_id")
	if machineID == "" {
		http.Error(w, "Missing machine_id", http.StatusBadRequest)
		return
	}

	reqdata := httputils.WorkspaceStatusRequest{
		MachineID: types.MachineID(machineID),
	}
	reqdata.CreateResultChan()

	events <- SessionEvent{
		ID:   uuid.NewString(),
		Type: WorkspaceStatusEventType,
		Data: &reqdata,
	}
	res := <-reqdata.ResultChan

	res.Send(w)
}

// throttleMiddleware will limit requests on the endpoint using the provided
// rate limiter. It uses a token bucket algorithm, so that every interval of
// time the "bucket" will refill and continue to serve tokens up to a maximum
// defined by the burst capacity. In case the limit is exceeded, return a
// http 429 error (too many requests).
func throttleMiddleware(limiter *rate.Limiter, f func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(rw, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		f(rw, r)
	})
}

// StartHTTPServer starts the session service's HTTP surface in a background
// goroutine.
func StartHTTPServer(events chan SessionEvent) {
	logger.Infof("Starting HTTP server...")

	createHandler := func(f func(http.ResponseWriter, *http.Request, chan<- SessionEvent)) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			f(w, r, events)
		}
	}

	// Start a new rate limiter. This will limit requests on an endpoint to
	// every `interval` with a burst of up to `burst` requests, to help
	// mitigate a client spamming too many requests.
	interval := 1 * time.Second
	burst := 10
	limiter := rate.NewLimiter(rate.Every(interval), burst)

	assignHandler := httputils.EnableCORS(throttleMiddleware(limiter, createHandler(WorkspaceAssignHandler)))
	statusHandler := httputils.EnableCORS(throttleMiddleware(limiter, createHandler(WorkspaceStatusHandler)))

	// Create a custom HTTP Request Multiplexer
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.HandleFunc("/workspace/assign", assignHandler)
	mux.HandleFunc("/workspace/status", statusHandler)

	// Add timeouts to help mitigate potential rogue clients or DDOS attacks.
	srv := &http.Server{
		Addr:         "0.0.0.0:8090",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      mux,
	}

	go func() {
		logger.Error(srv.ListenAndServe())
	}()
}
