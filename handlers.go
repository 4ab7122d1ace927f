package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/flex-transformer/wildcat-slam/odom"
	"github.com/flex-transformer/wildcat-slam/render"
)

// newHTTPServer creates the odometry service's HTTP status/debug endpoints,
// grounded on handlers.go's newHTTPServer(mux, per-endpoint closures) idiom.
func newHTTPServer(o *odom.Odometry, snap *render.SnapshotWriter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")

		var numSamples, numImu, numSurfels int
		if o != nil {
			win := o.Window()
			numSamples, numImu, numSurfels = win.NumSamples(), win.NumImu(), win.NumSurfels()
		}
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			NumSamples int       `json:"numSamples"`
			NumImu     int       `json:"numImu"`
			NumSurfels int       `json:"numSurfels"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			NumSamples: numSamples,
			NumImu:     numImu,
			NumSurfels: numSurfels,
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("error encoding health status: %v", err)
		}
	})

	mux.HandleFunc("/pose", func(w http.ResponseWriter, r *http.Request) {
		if o == nil {
			http.Error(w, "odometry not running", http.StatusServiceUnavailable)
			return
		}
		latest, ok := o.Window().LatestSample()
		if !ok {
			http.Error(w, "no pose available yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		resp := struct {
			T    float64    `json:"t"`
			Pose odom.Rigid3 `json:"pose"`
		}{T: latest.T, Pose: latest.Pose()}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("error encoding pose: %v", err)
		}
	})

	mux.HandleFunc("/snapshot.svg", func(w http.ResponseWriter, r *http.Request) {
		if snap == nil {
			http.Error(w, "snapshot rendering not enabled", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		if err := snap.RenderToSVG(w); err != nil {
			log.Printf("error rendering svg snapshot: %v", err)
		}
	})

	mux.HandleFunc("/snapshot.png", func(w http.ResponseWriter, r *http.Request) {
		if snap == nil {
			http.Error(w, "snapshot rendering not enabled", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := snap.RenderToPNG(w); err != nil {
			log.Printf("error rendering png snapshot: %v", err)
		}
	})

	return mux
}
