package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{BaseURL: server.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(&Config{BaseURL: "http://localhost:8500/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8500", client.baseURL)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)

	_, err = NewClient(&Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = NewClient(&Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)

	custom := &http.Client{Timeout: time.Minute}
	client, err = NewClient(&Config{BaseURL: "https://scheduler.internal"}, WithHTTPClient(custom))
	require.NoError(t, err)
	assert.Same(t, custom, client.httpClient)
}

func TestClient_ListJobs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/jobs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"jobs": [
				{"job_id": "b", "status": "running", "constraints": {"region": "eu"},
				 "task_groups": [{"name": "web", "tasks": [{"name": "nginx", "resources": {"cpu": 100, "memory": 64}, "config": {"image": "nginx"}}]}],
				 "allocations": [{"allocation_id": "a1", "node_id": "n1", "task_group": "web", "status": "running",
				                  "start_time": 1700000000.5, "end_time": null,
				                  "tasks": {"nginx": {"name": "nginx", "status": "running", "exit_code": 0}}}]},
				{"job_id": "a", "status": "dead"}
			],
			"count": 2
		}`))
	})

	list, err := client.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Jobs, 2)
	assert.Equal(t, 2, list.Count)

	first := list.Jobs[0]
	assert.Equal(t, "b", first.JobID)
	assert.Equal(t, jobs.StatusRunning, first.Status)
	assert.Equal(t, "eu", first.Constraints.Region)
	require.Len(t, first.Allocations, 1)
	alloc := first.Allocations[0]
	assert.Equal(t, jobs.AllocRunning, alloc.Status)
	require.NotNil(t, alloc.StartTime)
	assert.InDelta(t, 1700000000.5, *alloc.StartTime, 0.001)
	assert.Nil(t, alloc.EndTime)
	require.NotNil(t, alloc.Tasks["nginx"].ExitCode)
	assert.Equal(t, 0, *alloc.Tasks["nginx"].ExitCode)
	assert.Equal(t, "a", list.Jobs[1].JobID)
}

func TestClient_ListJobs_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "missing jobs", body: `{"count": 0}`},
		{name: "wrong type", body: `{"jobs": {"job_id": "a"}}`},
		{name: "job without id", body: `{"jobs": [{"status": "running"}], "count": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.ListJobs(context.Background())
			require.Error(t, err)
			assert.True(t, IsErrorType(err, ErrDecode), "got %v", err)
			assert.False(t, Retryable(err))
		})
	}
}

func TestClient_TransportErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "Failed to submit job"}`))
	})

	_, err := client.ListJobs(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrTransport))
	assert.True(t, Retryable(err))
	assert.Contains(t, err.Error(), "500")

	_, err = client.SubmitJob(context.Background(), jobs.Spec{"task_groups": []any{}})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrTransport))
	assert.Contains(t, err.Error(), "Failed to submit job")

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusInternalServerError, gwErr.StatusCode)
}

func TestClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(&Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.ListJobs(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrTransport))
	assert.NotNil(t, err.(*Error).Unwrap())
}

func TestClient_GetJob(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/J1":
			_, _ = w.Write([]byte(`{"job_id": "J1", "status": "pending"}`))
		case "/jobs/other":
			_, _ = w.Write([]byte(`{"job_id": "J1", "status": "pending"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "job does not exist"}`))
		}
	})

	job, err := client.GetJob(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)

	_, err = client.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrNotFound))
	assert.Contains(t, err.Error(), `"missing"`)
	assert.Contains(t, err.Error(), "job does not exist")

	_, err = client.GetJob(context.Background(), "other")
	assert.True(t, IsErrorType(err, ErrDecode))

	_, err = client.GetJob(context.Background(), " ")
	assert.True(t, IsErrorType(err, ErrValidation))
}

func TestClient_SubmitJob(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if _, ok := body["task_groups"]; !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "Missing required fields"}`))
			return
		}
		_, _ = w.Write([]byte(`{"job_id": "abc", "evaluation_id": "e1", "message": "queued"}`))
	})

	ret, err := client.SubmitJob(context.Background(), jobs.Spec{
		"task_groups": []any{map[string]any{"name": "web"}},
		"constraints": map[string]any{"region": "eu"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", ret.JobID)
	assert.Equal(t, "e1", ret.EvaluationID)

	_, err = client.SubmitJob(context.Background(), jobs.Spec{})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrValidation))
	assert.Contains(t, err.Error(), "Missing required fields")
	assert.False(t, Retryable(err))
}

func TestClient_UpdateJob(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		switch r.URL.Path {
		case "/jobs/J1":
			_, _ = w.Write([]byte(`{"job_id": "J1", "evaluation_id": "e2"}`))
		case "/jobs/bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "cannot create evaluation"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ret, err := client.UpdateJob(context.Background(), "J1", jobs.Spec{"task_groups": []any{}})
	require.NoError(t, err)
	assert.Equal(t, "e2", ret.EvaluationID)

	_, err = client.UpdateJob(context.Background(), "bad", jobs.Spec{})
	assert.True(t, IsErrorType(err, ErrValidation))
	assert.Contains(t, err.Error(), `"bad"`)

	_, err = client.UpdateJob(context.Background(), "gone", jobs.Spec{})
	assert.True(t, IsErrorType(err, ErrNotFound))
}

func TestClient_StopJob(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path != "/jobs/J1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"message": "job J1 stopped"}`))
	})

	ack, err := client.StopJob(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, "job J1 stopped", ack.Message)

	_, err = client.StopJob(context.Background(), "J9")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrNotFound))
	assert.Contains(t, err.Error(), "J9")
}

func TestClient_DeleteJob_IsIdempotent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/jobs/J1/delete":
			_, _ = w.Write([]byte(`{"message": "deleted"}`))
		case "/jobs/boom/delete":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "job does not exist"}`))
		}
	})

	ack, err := client.DeleteJob(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, "deleted", ack.Message)

	ack, err = client.DeleteJob(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "already absent", ack.Message)
	assert.Equal(t, "ghost", ack.JobID)

	_, err = client.DeleteJob(context.Background(), "boom")
	assert.True(t, IsErrorType(err, ErrTransport))
}

func TestClient_RestartJob(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/jobs/J1/restart":
			_, _ = w.Write([]byte(`{"job_id": "J1", "evaluation_id": "e3", "message": "queued"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "only dead jobs can be restarted"}`))
		}
	})

	ack, err := client.RestartJob(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, "e3", ack.EvaluationID)

	_, err = client.RestartJob(context.Background(), "J2")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrValidation))
	assert.Contains(t, err.Error(), `job "J2" cannot be restarted in its current state`)
	assert.Contains(t, err.Error(), "only dead jobs")
	assert.NotContains(t, err.Error(), "rejected")
}

func TestClient_EscapesJobID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/a%2Fb", r.URL.EscapedPath())
		_, _ = io.WriteString(w, `{"job_id": "a/b"}`)
	})

	job, err := client.GetJob(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "a/b", job.JobID)
}

func TestClient_ListNodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nodes", r.URL.Path)
		_, _ = io.WriteString(w, `{"nodes": [{"node_id": "n1", "region": "eu", "healthy": true, "resources": "{\"cpu\": 4000}"}], "count": 1}`)
	})

	list, err := client.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Nodes, 1)
	assert.True(t, list.Nodes[0].Healthy)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client, err := NewClient(&Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.ListJobs(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrTransport))
	assert.Contains(t, err.Error(), "timed out")
}

func TestError_Format(t *testing.T) {
	err := NewError(ErrNotFound, `job "J1" not found`).WithContext("b", 2).WithContext("a", 1)
	assert.Equal(t, `[NotFound] job "J1" not found | context: a=1, b=2`, err.Error())
	assert.Equal(t, "Unknown", ErrorType(99).String())
}
