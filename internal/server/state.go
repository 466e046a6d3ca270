package server

import (
	"net/http"
	"time"

	"github.com/ggicci/httpin"
	"github.com/go-chi/chi/v5"

	"schedq/internal/retry"
	"schedq/pkg/api"
)

func ackTask(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		req := r.
			Context().
			Value(httpin.Input).(*api.AckTaskRequest)

		rt.logger.
			With("taskId", req.TaskId).
			Info("acknowledging task")

		if err := rt.sched.Ack(req.TaskId, req.LeaseId); err != nil {
			httpError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}

	sm.
		With(httpin.NewInput(api.AckTaskRequest{})).
		Put("/api/v1/tasks_ack/{taskId}", handler)
}

func failTask(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		req := r.
			Context().
			Value(httpin.Input).(*api.FailTaskRequest)

		opts := req.Opts
		kind := retry.FailureKind(opts.Kind)
		if len(opts.Kind) == 0 {
			kind = retry.Transient
		}
		if !kind.Valid() {
			http.Error(w, "unknown failure kind", http.StatusBadRequest)
			return
		}

		rt.logger.
			With("taskId", req.TaskId).
			With("kind", string(kind)).
			Info("marking task as failure")

		if err := rt.sched.Fail(req.TaskId, opts.LeaseId, kind, opts.Reason); err != nil {
			httpError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}

	sm.
		With(httpin.NewInput(api.FailTaskRequest{})).
		Put("/api/v1/tasks_fail/{taskId}", handler)
}

func extendLease(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		req := r.
			Context().
			Value(httpin.Input).(*api.ExtendLeaseRequest)

		opts := req.Opts
		if opts.Extra <= 0 {
			http.Error(w, "extension must be greater than 0", http.StatusBadRequest)
			return
		}

		expiresAt, err := rt.sched.ExtendLease(req.TaskId, opts.LeaseId, time.Duration(opts.Extra))
		if err != nil {
			httpError(w, err)
			return
		}

		resp := api.ExtendLeaseResponse{
			LeaseExpiresAt: expiresAt,
		}

		w.WriteHeader(http.StatusOK)
		if err := encode(w, resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	sm.
		With(httpin.NewInput(api.ExtendLeaseRequest{})).
		Put("/api/v1/tasks_extend/{taskId}", handler)
}

func cancelTask(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		req := r.
			Context().
			Value(httpin.Input).(*api.CancelTaskRequest)

		rt.logger.
			With("taskId", req.TaskId).
			Info("canceling task")

		if err := rt.sched.Cancel(req.TaskId); err != nil {
			httpError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}

	sm.
		With(httpin.NewInput(api.CancelTaskRequest{})).
		Put("/api/v1/tasks_cancel/{taskId}", handler)
}
