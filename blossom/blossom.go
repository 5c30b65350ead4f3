// Package blossom implements the subset of the blossom blob protocol the
// relay needs: uploading and retrieving content-addressed encrypted blobs.
// Neither endpoint requires authorization; uploaded content is expected to be
// ECIES-encrypted by the uploader, so possession of the hash is the only
// capability.
package blossom

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ebillrelay/storage"
)

const (
	maxFileSizeBytes = 1_000_000
	// Uploads must start with an uncompressed secp256k1 public key, the
	// ephemeral key of an ECIES blob. A reliable heuristic, not a proof.
	encryptionPubKeyByteLen = 65
)

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "blossom_uploads_total",
	Help: "Blob upload attempts by outcome.",
}, []string{"outcome"})

// BlobDescriptor is the upload response defined by the blossom protocol.
type BlobDescriptor struct {
	SHA256   string `json:"sha256"`
	URL      string `json:"url"`
	Size     int    `json:"size"`
	Uploaded int64  `json:"uploaded"`
}

// Handler exposes the blob endpoints.
type Handler struct {
	store   storage.FileStore
	hostURL *url.URL
	nowFn   func() time.Time
}

// NewHandler wires the blob endpoints.
func NewHandler(store storage.FileStore, hostURL *url.URL) *Handler {
	return &Handler{store: store, hostURL: hostURL, nowFn: time.Now}
}

// Upload validates, hashes and stores the request body and answers with a
// blob descriptor. Re-uploading existing content returns the same descriptor.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFileSizeBytes+1))
	if err != nil {
		slog.Error("reading upload body failed", "error", err)
		writeText(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR")
		return
	}
	size := len(body)
	slog.Info("upload file called", "bytes", size)

	if size > maxFileSizeBytes {
		uploadsTotal.WithLabelValues("too_big").Inc()
		writeText(w, http.StatusRequestEntityTooLarge,
			"File too big - max "+strconv.Itoa(maxFileSizeBytes)+" bytes")
		return
	}
	if size == 0 {
		uploadsTotal.WithLabelValues("empty").Inc()
		writeText(w, http.StatusBadRequest, "Empty body")
		return
	}
	if size < encryptionPubKeyByteLen {
		slog.Error("non-encrypted upload rejected - not big enough")
		uploadsTotal.WithLabelValues("invalid").Inc()
		writeText(w, http.StatusBadRequest, "Invalid body")
		return
	}
	if _, err := btcec.ParsePubKey(body[:encryptionPubKeyByteLen]); err != nil {
		slog.Error("non-encrypted upload rejected", "error", err)
		uploadsTotal.WithLabelValues("invalid").Inc()
		writeText(w, http.StatusBadRequest, "Invalid body")
		return
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	file := storage.File{Hash: hash, Data: body, Size: int32(size)}
	if err := h.store.InsertFile(r.Context(), file); err != nil {
		slog.Error("storing blob failed", "hash", hash, "bytes", size, "error", err)
		uploadsTotal.WithLabelValues("store_failed").Inc()
		writeText(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR")
		return
	}
	uploadsTotal.WithLabelValues("ok").Inc()

	blobURL, err := h.hostURL.Parse("/" + hash)
	if err != nil {
		slog.Error("building blob url failed", "error", err)
		writeText(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, BlobDescriptor{
		SHA256:   hash,
		URL:      blobURL.String(),
		Size:     size,
		Uploaded: h.nowFn().Unix(),
	})
}

// Get serves a stored blob as an opaque octet stream.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	slog.Info("get file called", "hash", hash)
	if !validHash(hash) {
		writeText(w, http.StatusNotFound, "NOT_FOUND")
		return
	}

	file, err := h.store.GetFile(r.Context(), hash)
	if err != nil {
		slog.Error("fetching blob failed", "hash", hash, "error", err)
		writeText(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR")
		return
	}
	if file == nil {
		slog.Error("no file found", "hash", hash)
		writeText(w, http.StatusNotFound, "NOT_FOUND")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Data); err != nil {
		slog.Error("write blob response failed", "error", err)
	}
}

// NotImplemented answers 501 for the blossom endpoints the relay does not
// serve (list, mirror, media, report, delete and the HEAD variants).
func NotImplemented(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusNotImplemented, "NOT_IMPLEMENTED")
}

// validHash accepts only lowercase or uppercase hex sha256 digests.
func validHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}
