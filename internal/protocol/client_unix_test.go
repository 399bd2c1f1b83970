//go:build linux || darwin

package protocol

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Guliveer/ssn1/internal/models"
	"github.com/Guliveer/ssn1/internal/transport"
)

func TestClient_LoopbackCollector(t *testing.T) {
	reports := make(chan models.Report, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/post" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var rep models.Report
		if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reports <- rep
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	c, err := Open(host, port, zaptest.NewLogger(t),
		transport.WithDialer(transport.NewSocketDialer(time.Second)))
	require.NoError(t, err)
	defer c.Dispose()

	var resp string
	c.OnResponse(func(r string) { resp = r })
	require.NoError(t, c.Submit("SSN1-UUID-12345", time.Now(), 21.456, false))

	deadline := time.Now().Add(5 * time.Second)
	done := false
	for !done && time.Now().Before(deadline) {
		done, err = c.Poll()
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	require.True(t, done, "request did not complete")

	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK"), resp)
	assert.True(t, strings.HasSuffix(resp, `{"ok":true}`), resp)

	rep := <-reports
	assert.Equal(t, "SSN1-UUID-12345", rep.Device)
	assert.Equal(t, "21.46°C", rep.Temperature)
	assert.Equal(t, "0", rep.ThresholdBroken)
}
