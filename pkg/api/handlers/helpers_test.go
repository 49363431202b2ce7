package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatspace/pkg/conv"
	"chatspace/pkg/store"
)

func TestWriteErrStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{fmt.Errorf("rename chat: %w", store.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: name must not be empty", conv.ErrValidation), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		writeErr(rr, c.err)
		if rr.Code != c.want {
			t.Fatalf("writeErr(%v) = %d, want %d", c.err, rr.Code, c.want)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("writeErr(%v) content type %q", c.err, ct)
		}
	}
}
