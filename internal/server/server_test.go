package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"schedq/internal/scheduler"
	"schedq/internal/server"
	"schedq/internal/store"
	"schedq/pkg/api"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := store.NewStore(&store.Opts{Path: filepath.Join(t.TempDir(), "tasks.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	sched, err := scheduler.New(st, &scheduler.Opts{
		Registerer:    prometheus.NewRegistry(),
		SweepInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sched.Run(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sched.Stop)

	srv := server.NewServer(nil, sched, st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts
}

func post(t *testing.T, ts *httptest.Server, path string, body any, out any) *http.Response {
	t.Helper()

	enc, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(enc))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}

	return resp
}

func put(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()

	enc, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPut, ts.URL+path, bytes.NewReader(enc))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestEnqueueDequeueAckRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	var enq api.EnqueueTaskResponse
	resp := post(t, ts, "/api/v1/tasks", api.EnqueueTaskRequest{
		Kind:     "email",
		Payload:  []byte(`{"to":"ops@example.com"}`),
		Priority: store.PriorityHigh,
	}, &enq)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue returned %d", resp.StatusCode)
	}
	if len(enq.TaskId) == 0 {
		t.Fatal("enqueue returned no task id")
	}

	var deq api.DequeueTaskResponse
	resp = post(t, ts, "/api/v1/dequeue", api.DequeueTaskRequest{}, &deq)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dequeue returned %d", resp.StatusCode)
	}
	if deq.TaskId != enq.TaskId {
		t.Fatalf("dequeued %s, want %s", deq.TaskId, enq.TaskId)
	}
	if deq.Attempt != 1 {
		t.Errorf("attempt is %d, want 1", deq.Attempt)
	}

	resp = put(t, ts, fmt.Sprintf("/api/v1/tasks_ack/%s?leaseId=%s", deq.TaskId, deq.LeaseId), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ack returned %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/v1/tasks/" + enq.TaskId)
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()

	var info api.GetTaskResponse
	if err := json.NewDecoder(getResp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.State != store.StateSucceeded {
		t.Errorf("task state is %s, want %s", info.State, store.StateSucceeded)
	}
}

func TestDequeueEmptyQueueNoContent(t *testing.T) {
	ts := newTestServer(t)

	resp := post(t, ts, "/api/v1/dequeue", api.DequeueTaskRequest{}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("dequeue returned %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestAckWithWrongLeaseConflict(t *testing.T) {
	ts := newTestServer(t)

	var enq api.EnqueueTaskResponse
	post(t, ts, "/api/v1/tasks", api.EnqueueTaskRequest{Kind: "email"}, &enq)

	var deq api.DequeueTaskResponse
	post(t, ts, "/api/v1/dequeue", api.DequeueTaskRequest{}, &deq)

	resp := put(t, ts, fmt.Sprintf("/api/v1/tasks_ack/%s?leaseId=%s", deq.TaskId, "bogus"), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("ack with wrong lease returned %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestFailMovesTaskToRetry(t *testing.T) {
	ts := newTestServer(t)

	var enq api.EnqueueTaskResponse
	post(t, ts, "/api/v1/tasks", api.EnqueueTaskRequest{Kind: "email"}, &enq)

	var deq api.DequeueTaskResponse
	post(t, ts, "/api/v1/dequeue", api.DequeueTaskRequest{}, &deq)

	resp := put(t, ts, "/api/v1/tasks_fail/"+deq.TaskId, api.FailureOpts{
		LeaseId: deq.LeaseId,
		Reason:  "downstream unavailable",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fail returned %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/v1/tasks/" + enq.TaskId)
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()

	var info api.GetTaskResponse
	if err := json.NewDecoder(getResp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.State != store.StateFailedRetryable {
		t.Errorf("task state is %s, want %s", info.State, store.StateFailedRetryable)
	}
	if info.LastError != "downstream unavailable" {
		t.Errorf("last error is %q", info.LastError)
	}
}

func TestGetUnknownTaskNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/tasks/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get returned %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
