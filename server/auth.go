package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// access is the token requirement of a route.
type access int

const (
	// open routes never need a token: probes and scrapers.
	open access = iota
	// read routes render previews. They need a token unless
	// Config.PublicPreviews is set.
	read
	// admin routes change or inspect the cache and always need the
	// token when one is configured.
	admin
)

// guard wraps h with the Bearer token check for level.
func (s *Server) guard(level access, h http.HandlerFunc) http.Handler {
	if s.config.AuthToken == "" || level == open || (level == read && s.config.PublicPreviews) {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="linkpreview"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		h(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AuthToken)) == 1
}
