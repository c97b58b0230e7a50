package httputils // import "github.com/helixhq/helix/backend/services/httputils"

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/helixhq/helix/backend/services/auth"
	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// A ServerRequest represents a request from the server --- it is exported so
// that we can implement the top-level event handlers in parent packages. They
// simply return the result and any error message via ReturnResult.
type ServerRequest interface {
	ReturnResult(result interface{}, err error)
	CreateResultChan()
}

// A RequestResult represents the result of a request that was successfully
// authenticated, parsed, and processed by the consumer.
type RequestResult struct {
	Result interface{} `json:"-"`
	Err    error       `json:"error"`
}

// Send is called to send an HTTP response
func (r RequestResult) Send(w http.ResponseWriter) {
	var buf []byte
	var err error
	var status int

	if r.Err != nil {
		// Send a 406
		status = http.StatusNotAcceptable
		buf, err = json.Marshal(
			struct {
				Result interface{} `json:"result"`
				Error  string      `json:"error"`
			}{r.Result, r.Err.Error()},
		)
	} else {
		// Send a 200 code
		status = http.StatusOK
		buf, err = json.Marshal(
			struct {
				Result interface{} `json:"result"`
			}{r.Result},
		)
	}

	w.WriteHeader(status)
	if err != nil {
		logger.Errorf("error marshalling a %v HTTP Response body: %s", status, err)
	}
	_, _ = w.Write(buf)
}

// Helper functions

// GetAccessToken is a helper function that extracts the access token from the
// request "Authorization" header.
func GetAccessToken(r *http.Request) (types.AccessToken, error) {
	if metadata.IsLocalEnv() {
		return "", nil
	}

	authorization := r.Header.Get("Authorization")
	bearer := strings.Split(authorization, "Bearer ")
	if len(bearer) <= 1 || bearer[1] == "" || bearer[1] == "undefined" {
		return "", utils.MakeError("bearer token is empty on request to URL %s", r.URL)
	}

	return types.AccessToken(bearer[1]), nil
}

// AuthenticateRequest will verify that the access token is valid and will
// parse the request body and try to unmarshal into a `ServerRequest` type.
func AuthenticateRequest(w http.ResponseWriter, r *http.Request, s ServerRequest) (*auth.HelixClaims, error) {
	accessToken, err := GetAccessToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, err
	}

	var claims *auth.HelixClaims
	// Skip token validation if running on local environment
	if !metadata.IsLocalEnv() {
		claims, err = auth.ParseToken(accessToken)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return nil, utils.MakeError("received an unpermissioned backend request on %s to URL %s: %s", r.Host, r.URL, err)
		}

		if err := auth.Verify(claims); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return nil, utils.MakeError("received an unpermissioned backend request on %s to URL %s: %s", r.Host, r.URL, err)
		}
	}

	if err := ParseRequest(w, r, s); err != nil {
		return nil, utils.MakeError("error while parsing request: %s", err)
	}

	return claims, nil
}

// ParseRequest will read the request body, unmarshal it into the struct `s`,
// and set up the result channel used to pass the processed result back to the
// handler.
func ParseRequest(w http.ResponseWriter, r *http.Request, s ServerRequest) error {
	// Get body of request
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return utils.MakeError("error getting body from request on %s to URL %s: %s", r.Host, r.URL, err)
	}

	if err := json.Unmarshal(body, s); err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return utils.MakeError("could not fully unmarshal the body of a request sent on %s to URL %s: %s", r.Host, r.URL, err)
	}

	// Set up the result channel
	s.CreateResultChan()

	return nil
}

// VerifyRequestType verifies the type (method) of a request.
func VerifyRequestType(w http.ResponseWriter, r *http.Request, method string) error {
	if r == nil {
		err := utils.MakeError("received a nil request expecting to be type %s", method)
		logger.Error(err)

		http.Error(w, utils.Sprintf("Bad request. Expected %s, got nil", method), http.StatusBadRequest)

		return err
	}

	if r.Method != method {
		err := utils.MakeError("received a request on %s to URL %s of type %s, but it should have been type %s", r.Host, r.URL, r.Method, method)
		logger.Error(err)

		http.Error(w, utils.Sprintf("Bad request type. Expected %s, got %s", method, r.Method), http.StatusBadRequest)

		return err
	}
	return nil
}

// EnableCORS is a middleware that sets the Access control header to accept requests from all origins.
func EnableCORS(f func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Headers", "Origin Accept Content-Type X-Requested-With Authorization")
		rw.Header().Set("Access-Control-Allow-Methods", "GET POST PUT OPTIONS")

		if r.Method == http.MethodOptions {
			http.Error(rw, "No Content", http.StatusNoContent)
			return
		}

		f(rw, r)
	})
}
