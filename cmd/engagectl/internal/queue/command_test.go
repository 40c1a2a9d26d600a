package queue

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recrutai/engage-server-go/cmd/engagectl/internal/client"
)

type recordedCall struct {
	method string
	path   string
	query  string
}

func fakeServer(t *testing.T, status int, response any) (client.Factory, *[]recordedCall) {
	t.Helper()
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, recordedCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return func() *client.Client { return client.New(srv.URL) }, &calls
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSweepCommand(t *testing.T) {
	factory, calls := fakeServer(t, http.StatusOK, map[string]any{"processed": 3, "sent": 2, "retried": 1})

	out, err := run(t, NewSweepCommand(factory))

	require.NoError(t, err)
	assert.Contains(t, out, "processed 3: 2 sent, 1 retried")
	require.Len(t, *calls, 1)
	assert.Equal(t, recordedCall{method: http.MethodPost, path: "/v1/queue/sweep"}, (*calls)[0])
}

func TestSweepCommand_ServerError(t *testing.T) {
	factory, _ := fakeServer(t, http.StatusConflict, map[string]string{
		"error": "a sweep is already running",
		"code":  "SWEEP_IN_PROGRESS",
	})

	_, err := run(t, NewSweepCommand(factory))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEP_IN_PROGRESS")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestReplayFailedCommand(t *testing.T) {
	factory, calls := fakeServer(t, http.StatusOK, map[string]int{"replayed": 4})

	out, err := run(t, NewReplayFailedCommand(factory))

	require.NoError(t, err)
	assert.Contains(t, out, "replayed 4 failed messages")
	assert.Equal(t, "/v1/queue/replay", (*calls)[0].path)
}

func TestPurgeCommand(t *testing.T) {
	t.Run("requires the flag", func(t *testing.T) {
		factory, calls := fakeServer(t, http.StatusOK, map[string]int{"purged": 0})

		_, err := run(t, NewPurgeCommand(factory))

		require.Error(t, err)
		assert.Empty(t, *calls)
	})

	t.Run("rejects non positive days", func(t *testing.T) {
		factory, calls := fakeServer(t, http.StatusOK, map[string]int{"purged": 0})

		_, err := run(t, NewPurgeCommand(factory), "--older-than-days", "0")

		require.Error(t, err)
		assert.Empty(t, *calls)
	})

	t.Run("passes days as query", func(t *testing.T) {
		factory, calls := fakeServer(t, http.StatusOK, map[string]int{"purged": 9})

		out, err := run(t, NewPurgeCommand(factory), "--older-than-days", "30")

		require.NoError(t, err)
		assert.Contains(t, out, "purged 9 sent messages older than 30 days")
		assert.Equal(t, "olderThanDays=30", (*calls)[0].query)
	})
}

func TestStatsCommand(t *testing.T) {
	stats := map[string]int{"pending": 1, "processing": 0, "sent": 5, "failed": 2, "total": 8}

	t.Run("table", func(t *testing.T) {
		factory, _ := fakeServer(t, http.StatusOK, stats)

		out, err := run(t, NewStatsCommand(factory))

		require.NoError(t, err)
		assert.Contains(t, out, "failed:     2")
		assert.Contains(t, out, "total:      8")
	})

	t.Run("json", func(t *testing.T) {
		factory, _ := fakeServer(t, http.StatusOK, stats)

		out, err := run(t, NewStatsCommand(factory), "--json")

		require.NoError(t, err)
		var decoded map[string]int
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.Equal(t, 8, decoded["total"])
	})
}
