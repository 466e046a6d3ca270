package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"schedq/pkg/api"
)

func stats(sm chi.Router, rt *runtime) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		st, err := rt.sched.Stats()
		if err != nil {
			httpError(w, err)
			return
		}

		resp := api.StatsResponse{
			ReadyByPriority: st.ReadyByPriority,
			Leased:          st.Leased,
			Dead:            st.Dead,
			LeaseExpiries:   st.LeaseExpiries,
		}

		w.WriteHeader(http.StatusOK)
		if err := encode(w, resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	sm.Get("/api/v1/stats", handler)
}
