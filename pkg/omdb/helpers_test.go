package omdb_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newServer starts an httptest server closed at the end of the test.
func newServer(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}
