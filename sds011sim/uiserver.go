package sds011sim

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler serves /status and /model (GET, POST new model) for poking the simulation
func (p *Sensor) Handler() http.Handler {
	r := mux.NewRouter()
	p.Routes(r)
	return r
}

// Routes registers simulator endpoints on existing router, eg. subrouter with prefix
func (p *Sensor) Routes(r *mux.Router) {
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, p.Status())
	}).Methods(http.MethodGet)

	r.HandleFunc("/model", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, p.Model())
	}).Methods(http.MethodGet)

	r.HandleFunc("/model", func(w http.ResponseWriter, req *http.Request) {
		postbody, errRead := io.ReadAll(req.Body)
		if errRead != nil {
			http.Error(w, fmt.Sprintf("reading POST request failed %v", errRead), http.StatusBadRequest)
			return
		}
		mod := SensorModel{}
		if errMarsh := json.Unmarshal(postbody, &mod); errMarsh != nil {
			http.Error(w, fmt.Sprintf("invalid payload %v", errMarsh), http.StatusBadRequest)
			return
		}
		p.SetModel(mod)
		writeJSON(w, p.Model())
	}).Methods(http.MethodPost)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	b, _ := json.Marshal(v)
	w.Write(b)
}
