package api

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorAddsEvent(t *testing.T) {
	r := httptest.NewRequest("GET", "/x", nil)
	tc := &Trace{ID: "t1"}
	r = r.WithContext(withTraceCtx(r.Context(), tc))
	rw := httptest.NewRecorder()

	respondError(rw, r, 418, "Teapot", "short and stout")

	assert.Equal(t, 418, rw.Code)
	require.NotEmpty(t, tc.Events)
	ev := tc.Events[len(tc.Events)-1]
	assert.Equal(t, "error", ev.Name)
	assert.Equal(t, "Teapot", ev.Fields["kind"])
}

func TestTraceStoreWrapsNewestFirst(t *testing.T) {
	s := newTraceStore(3)
	for i := range 5 {
		s.add(&Trace{ID: fmt.Sprint(i)})
	}
	got := s.all(0)
	require.Len(t, got, 3)
	assert.Equal(t, "4", got[0].ID)
	assert.Equal(t, "2", got[2].ID)
	assert.Len(t, s.all(2), 2)

	assert.NotNil(t, s.get("3"))
	assert.Nil(t, s.get("0"), "evicted")
}
