// Command bundleserver serves reconstructed bundle dictionaries out of the
// persistent blob cache over a small JSON API, plus prometheus metrics.
package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"interlink-network/core"
)

var blobs *core.BlobCache

func main() {
	addr := os.Getenv("INTERLINK_API_ADDR")
	if addr == "" {
		addr = ":8082"
	}
	blobDir := os.Getenv("INTERLINK_BLOB_DIR")
	if blobDir == "" {
		blobDir = "blobs"
	}
	store, err := core.NewFileStore(blobDir)
	if err != nil {
		log.Fatal(err)
	}
	blobs = core.NewBlobCache(store, logrus.StandardLogger())

	r := mux.NewRouter()
	r.HandleFunc("/api/bundles/{endBlock}", getBundle).Methods("GET")
	r.HandleFunc("/healthz", healthz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	log.Printf("bundle server listening on %s (blobs: %s)", addr, blobDir)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal(err)
	}
}

func getBundle(w http.ResponseWriter, r *http.Request) {
	endBlock, err := strconv.ParseUint(mux.Vars(r)["endBlock"], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := blobs.Get(endBlock)
	if errors.Is(err, core.ErrBlobCacheMiss) {
		http.Error(w, "bundle not cached", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	raw, err := core.EncodeBundleBlob(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, json.RawMessage(raw))
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
