// Package httpdebug exposes the debugging-only S-expression dump and
// format-validation operations over HTTP, in the shape the teacher
// codebase used for its own search endpoint: a gorilla/mux router, plain
// JSON responses, and one handler per route. None of this is meant for
// production MIDI playback — it exists purely so a developer can POST a
// file and see how this module parsed it.
package httpdebug

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/anselm-k/fmidi/errs"
	"github.com/anselm-k/fmidi/identify"
	"github.com/anselm-k/fmidi/smf"
)

// describeResponse is returned by POST /describe.
type describeResponse struct {
	Format     string `json:"format"`
	TrackCount int    `json:"trackCount"`
	DeltaUnit  int    `json:"deltaUnit"`
	Describe   string `json:"describe"`
}

// validateResponse is returned by POST /validate.
type validateResponse struct {
	Ok     bool   `json:"ok"`
	Format string `json:"format,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewServer builds a router serving the debug endpoints, wrapped in
// permissive CORS so a local developer tool can call it from a browser.
func NewServer(maxSize int) http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(requestIDMiddleware)
	router.HandleFunc("/describe", handleDescribe(maxSize)).Methods("POST")
	router.HandleFunc("/validate", handleValidate(maxSize)).Methods("POST")
	return cors.Default().Handler(router)
}

// requestIDMiddleware stamps every response with an X-Request-Id header,
// useful for correlating a client-side bug report with a server log line.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		log.Printf("httpdebug: %s %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func handleDescribe(maxSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "could not read request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		s, format, err := identify.Parse(data, maxSize)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, validateResponse{Ok: false, Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, describeResponse{
			Format:     format.String(),
			TrackCount: len(s.Tracks),
			DeltaUnit:  int(s.DeltaUnit),
			Describe:   smf.Describe(s),
		})
	}
}

func handleValidate(maxSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "could not read request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		_, format, err := identify.Parse(data, maxSize)
		if err != nil {
			resp := validateResponse{Ok: false, Error: err.Error()}
			if e, ok := err.(*errs.Error); ok {
				resp.Error = e.Kind.String() + ": " + e.Error()
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		writeJSON(w, http.StatusOK, validateResponse{Ok: true, Format: format.String()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("httpdebug: failed to encode response: %v", err)
	}
}
