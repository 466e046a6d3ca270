package server

import (
	"net/http"

	"github.com/ggicci/httpin"
	"github.com/go-chi/chi/v5"

	"schedq/pkg/api"
)

func listDeadLetters(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		req := r.
			Context().
			Value(httpin.Input).(*api.ListDeadLettersRequest)

		tasks, err := rt.sched.PeekDeadLetters(req.Limit)
		if err != nil {
			httpError(w, err)
			return
		}

		resp := api.ListDeadLettersResponse{
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

	sm.
		With(httpin.NewInput(api.ListDeadLettersRequest{})).
		Get("/api/v1/dead_letters", handler)
}
