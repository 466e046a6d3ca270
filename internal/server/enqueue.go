package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"schedq/internal/scheduler"
	"schedq/pkg/api"
)

func enqueueTask(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var req api.EnqueueTaskRequest

		if err := decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := rt.sched.Enqueue(scheduler.EnqueueRequest{
			Kind:        req.Kind,
			Payload:     req.Payload,
			Priority:    req.Priority,
			MaxAttempts: req.MaxAttempts,
			Delay:       time.Duration(req.Delay),
		})
		if err != nil {
			httpError(w, err)
			return
		}

		resp := api.EnqueueTaskResponse{
			TaskId: id,
		}

		w.WriteHeader(http.StatusCreated)
		if err := encode(w, resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	sm.Post("/api/v1/tasks", handler)
}
