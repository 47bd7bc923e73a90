package gateway

import (
	"net/http"
)

// Handler returns an http.Handler implementing the S3 API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// List all buckets
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		s.handleListBuckets(r.Context(), w, r)
	})

	// Bucket-level operations
	mux.HandleFunc("PUT /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketPut(r.Context(), w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("GET /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketGet(r.Context(), w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("HEAD /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketHead(r.Context(), w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("DELETE /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketDelete(r.Context(), w, r, r.PathValue("bucket"))
	})
	mux.HandleFunc("POST /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.handleBucketPost(r.Context(), w, r, r.PathValue("bucket"))
	})

	// Object-level operations
	mux.HandleFunc("PUT /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectPut(r.Context(), w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("GET /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectGet(r.Context(), w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("HEAD /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectHead(r.Context(), w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("DELETE /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectDelete(r.Context(), w, r, r.PathValue("bucket"), r.PathValue("key"))
	})
	mux.HandleFunc("POST /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.handleObjectPost(r.Context(), w, r, r.PathValue("bucket"), r.PathValue("key"))
	})

	// Add middleware
	handler := s.SlashFix(mux)
	handler = s.LogRequest(handler)
	handler = s.RequireAuthentication(handler)
	handler = s.Recoverer(handler)
	return handler
}
