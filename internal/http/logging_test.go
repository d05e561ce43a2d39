package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var handlerLogged bool
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		handlerLogged = true
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("conflict"))
	}), ClientIPMiddleware(false), RequestLogger(logger))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPut, "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	handler.ServeHTTP(w, r)

	require.True(t, handlerLogged)

	id, err := uuid.Parse(w.Header().Get("X-Request-Id"))
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), id.Version())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inside, done map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inside))
	require.NoError(t, json.Unmarshal(lines[1], &done))

	require.Equal(t, id.String(), inside["request_id"])
	require.Equal(t, "192.0.2.7", done["client_ip"])
	require.Equal(t, "PUT", done["method"])
	require.EqualValues(t, http.StatusConflict, done["status"])
	require.EqualValues(t, len("conflict"), done["bytes"])
}

func TestRequestLogger_defaultStatus(t *testing.T) {
	var buf bytes.Buffer

	handler := RequestLogger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.EqualValues(t, http.StatusOK, line["status"])
}
