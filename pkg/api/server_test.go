package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/replication"
)

func newTestServer(t *testing.T) (*Server, nodeid.NodeID) {
	t.Helper()
	dir := t.TempDir()
	bs, err := blockstore.Open(context.Background(), filepath.Join(dir, "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	tree, err := banyan.New(bs, banyan.DefaultConfig(), 64)
	require.NoError(t, err)

	node, err := nodeid.New()
	require.NoError(t, err)

	repl := replication.New()
	store := eventstore.New(tree, bs, repl, node)
	store.Start(context.Background())
	t.Cleanup(store.Stop)

	s := NewServer(node, store, nil, repl)
	return s, node
}

func authToken(t *testing.T, s *Server) string {
	t.Helper()
	body, err := json.Marshal(&AppManifest{AppID: "com.example.test", DisplayName: "test", Version: "1.0"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/auth", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestNodeIDHandlerUnauthenticated(t *testing.T) {
	s, node := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v2/node/id", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, node.String(), rec.Body.String())
}

func TestEventsRouteRequiresBearerToken(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v2/events/offsets", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublishAndQueryRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	token := authToken(t, s)

	publishBody, err := json.Marshal(&PublishRequest{Data: []PublishEventRequest{
		{Tags: []string{"a", "b"}, Payload: map[string]any{"n": float64(1)}},
		{Tags: []string{"a"}, Payload: map[string]any{"n": float64(2)}},
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/events/publish", bytes.NewReader(publishBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var pubResp PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pubResp))
	require.Len(t, pubResp.Data, 2)
	require.Equal(t, uint64(0), pubResp.Data[0].Offset)
	require.Equal(t, uint64(1), pubResp.Data[1].Offset)
	require.NotZero(t, pubResp.Data[0].Timestamp)

	offReq := httptest.NewRequest(http.MethodGet, "/api/v2/events/offsets", nil)
	offReq.Header.Set("Authorization", "Bearer "+token)
	offRec := httptest.NewRecorder()
	s.echo.ServeHTTP(offRec, offReq)
	require.Equal(t, http.StatusOK, offRec.Code)

	var offResp OffsetsResponse
	require.NoError(t, json.Unmarshal(offRec.Body.Bytes(), &offResp))

	queryBody, err := json.Marshal(&QueryRequest{
		UpperBound: &offResp.Present,
		Query:      `FROM 'a'`,
	})
	require.NoError(t, err)
	qReq := httptest.NewRequest(http.MethodPost, "/api/v2/events/query", bytes.NewReader(queryBody))
	qReq.Header.Set("Content-Type", "application/json")
	qReq.Header.Set("Authorization", "Bearer "+token)
	qRec := httptest.NewRecorder()
	s.echo.ServeHTTP(qRec, qReq)
	require.Equal(t, http.StatusOK, qRec.Code)

	scanner := bufio.NewScanner(bytes.NewReader(qRec.Body.Bytes()))
	var lines []map[string]any
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NotEmpty(t, lines)

	var eventLines, offsetLines int
	for _, l := range lines {
		switch l["type"] {
		case "event":
			eventLines++
		case "offsets":
			offsetLines++
		}
	}
	require.Equal(t, 2, eventLines)
	require.Equal(t, 1, offsetLines)
}
