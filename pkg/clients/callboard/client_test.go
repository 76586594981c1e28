package callboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "callboard/pkg/api/callboard"
	"callboard/pkg/api/common"
	"callboard/pkg/clients"
	"callboard/pkg/models"
)

func fastRetries() Option {
	return WithHTTPExecutorConfig(clients.HTTPExecutorConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSubmitSendsEnvelope(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]json.RawMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeJSON(w, http.StatusOK, api.SubmitResponse{Success: true, ID: 7, ConnectedClients: 2})
	}))
	defer srv.Close()

	p, err := models.NewPayload(12, "Room 4", "Jane Doe")
	require.NoError(t, err)

	resp, err := NewClient(srv.URL+"/", fastRetries()).Submit(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, 2, resp.ConnectedClients)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/announcements", gotPath)
	assert.JSONEq(t, `[12,null,"Room 4","Jane Doe"]`, string(gotBody["announcement"]))
}

func TestSubmitValidationErrorIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		writeJSON(w, http.StatusBadRequest, common.ValidationErrorResponse{
			Error:   api.ErrCodeValidation,
			Message: "announcement: must contain exactly 4 elements",
			Fields:  map[string]string{"announcement": "must contain exactly 4 elements"},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, fastRetries()).Submit(context.Background(), models.Payload{})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, api.ErrCodeValidation, verr.Code)
	assert.Contains(t, verr.Fields["announcement"], "exactly 4")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestSubmitRetriesUnavailable(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, common.NewError(api.ErrCodeUnavailable, "crier", "hub closed"))
			return
		}
		writeJSON(w, http.StatusOK, api.SubmitResponse{Success: true, ID: 1})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, fastRetries()).Submit(context.Background(), models.Payload{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestSubmitDoesNotReplayServerErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		writeJSON(w, http.StatusInternalServerError, common.NewError("internal_error", "crier", ""))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, fastRetries()).Submit(context.Background(), models.Payload{})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestListRetriesServerErrorsUntilExhausted(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, fastRetries()).List(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestListAndPendingPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		writeJSON(w, http.StatusOK, api.ListResponse{Announcements: []models.Announcement{{ID: 3}, {ID: 2}}, Total: 2})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, fastRetries())
	all, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, int64(3), all.Announcements[0].ID)

	_, err = c.ListPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/announcements", "/api/announcements/pending"}, paths)
}

func TestMarkProcessedNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/announcements/999/processed", r.URL.Path)
		writeJSON(w, http.StatusNotFound, common.NewError(api.ErrCodeNotFound, "crier", "announcement 999 not found"))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, fastRetries()).MarkProcessed(context.Background(), 999)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	assert.Contains(t, nf.Error(), "999")
}

func TestStatusDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.StatusResponse{Status: "online", Capacity: 50, ConnectedClients: 4})
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "online", st.Status)
	assert.Equal(t, 50, st.Capacity)
	assert.Equal(t, 4, st.ConnectedClients)
}

func TestSubmitShouldRetry(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	readErr := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}

	assert.True(t, SubmitShouldRetry(nil, dialErr))
	assert.False(t, SubmitShouldRetry(nil, readErr))
	assert.True(t, SubmitShouldRetry(&http.Response{StatusCode: http.StatusServiceUnavailable}, nil))
	assert.False(t, SubmitShouldRetry(&http.Response{StatusCode: http.StatusBadGateway}, nil))
	assert.False(t, SubmitShouldRetry(&http.Response{StatusCode: http.StatusOK}, nil))
}

func TestWebSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:18030":     "ws://localhost:18030/ws",
		"https://board.clinic.test/": "wss://board.clinic.test/ws",
		"http://proxy.local/crier":   "ws://proxy.local/crier/ws",
	}
	for in, want := range cases {
		got, err := NewClient(in).WebSocketURL()
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
