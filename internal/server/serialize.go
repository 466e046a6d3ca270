package server

import (
	"encoding/json"
	"errors"
	"net/http"

	errs "schedq/internal/errors"
)

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()

	return json.
		NewDecoder(r.Body).
		Decode(v)
}

func encode(w http.ResponseWriter, v interface{}) error {
	return json.
		NewEncoder(w).
		Encode(v)
}

func httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errs.ErrFenced), errors.Is(err, errs.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, errs.ErrExpired):
		code = http.StatusGone
	case errors.Is(err, errs.ErrUnavailable):
		code = http.StatusServiceUnavailable
	}

	http.Error(w, err.Error(), code)
}
