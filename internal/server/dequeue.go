package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	errs "schedq/internal/errors"
	"schedq/pkg/api"
)

func dequeueTask(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var req api.DequeueTaskRequest

		if err := decode(r, &req); err != nil && err != io.EOF {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		leased, err := rt.sched.Dequeue(time.Duration(req.Lease))
		if err != nil {
			if errors.Is(err, errs.ErrEmpty) {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			httpError(w, err)
			return
		}

		resp := api.DequeueTaskResponse{
			TaskId:         leased.TaskID,
			Kind:           leased.Kind,
			Payload:        leased.Payload,
			Priority:       leased.Priority,
			Attempt:        leased.AttemptCount,
			LeaseId:        leased.LeaseID,
			LeaseExpiresAt: leased.LeaseExpiresAt,
		}

		w.WriteHeader(http.StatusOK)
		if err := encode(w, resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	sm.Post("/api/v1/dequeue", handler)
}
