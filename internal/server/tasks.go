package server

import (
	"net/http"

	"github.com/ggicci/httpin"
	"github.com/go-chi/chi/v5"

	"schedq/internal/store"
	"schedq/internal/utils"
	"schedq/pkg/api"
)

func toTaskInfo(t *store.Task) api.TaskInfo {
	return api.TaskInfo{
		TaskId:      t.ID,
		Kind:        t.Kind,
		Payload:     t.Payload,
		Priority:    t.Priority,
		State:       t.State,
		Attempt:     t.AttemptCount,
		MaxAttempts: t.MaxAttempts,
		EligibleAt:  t.EligibleAt,
		LastError:   t.LastError,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func getTask(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		req := r.
			Context().
			Value(httpin.Input).(*api.GetTaskRequest)

		task, err := rt.sched.Get(req.TaskId)
		if err != nil {
			httpError(w, err)
			return
		}

		resp := api.GetTaskResponse(toTaskInfo(task))

		w.WriteHeader(http.StatusOK)
		if err := encode(w, resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	sm.
		With(httpin.NewInput(api.GetTaskRequest{})).
		Get("/api/v1/tasks/{taskId}", handler)
}

func listTasks(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		req := r.
			Context().
			Value(httpin.Input).(*api.ListTasksRequest)

		skip, limit := utils.ToSkipAndLimit(req.Page, req.Size)
		tasks, err := rt.st.List(skip, limit)
		if err != nil {
			httpError(w, err)
			return
		}

		resp := api.ListTasksResponse{
			Tasks: make([]api.TaskInfo, 0, len(tasks)),
		}

		for i := range tasks {
			resp.Tasks = append(resp.Tasks, toTaskInfo(&tasks[i]))
		}

		w.WriteHeader(http.StatusOK)
		if err := encode(w, resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	sm.With(httpin.NewInput(api.ListTasksRequest{})).Get("/api/v1/tasks", handler)
}
