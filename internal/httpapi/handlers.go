package httpapi

import (
	"net/http"
	"strings"

	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/queue"

	"github.com/go-chi/chi/v5"
)

type queueView struct {
	Waiting  int64                  `json:"waiting"`
	Counts   map[queue.Status]int64 `json:"counts"`
	Draining bool                   `json:"draining"`
	Pending  []queue.Item           `json:"pending"`
}

func health(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, r, pkgerrors.New(pkgerrors.CodeInternal, "store unavailable"))
			return
		}
		if err := store.Ping(r.Context()); err != nil {
			writeError(w, r, pkgerrors.Wrap(pkgerrors.CodeDurability, err, "local database unreachable"))
			return
		}
		writeSuccess(w, map[string]string{"status": "ok"})
	}
}

func queueSummary(q queueService, engine drainer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		waiting, err := q.Count(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		counts, err := q.CountByStatus(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		pending, err := q.ListPending(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if pending == nil {
			pending = []queue.Item{}
		}

		writeSuccess(w, queueView{
			Waiting:  waiting,
			Counts:   counts,
			Draining: engine != nil && engine.Draining(),
			Pending:  pending,
		})
	}
}

func queueFailed(q queueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failed, err := q.ListFailed(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if failed == nil {
			failed = []queue.Item{}
		}
		writeSuccess(w, failed)
	}
}

func queueRequeue(q queueService, engine drainer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "id"))
		if id == "" {
			writeError(w, r, pkgerrors.New(pkgerrors.CodeValidation, "item id is required"))
			return
		}
		if err := q.Requeue(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		if engine != nil {
			engine.Trigger()
		}
		writeSuccess(w, map[string]string{"id": id, "status": string(queue.StatusPending)})
	}
}

// syncNow drains inline. With ?wait=false it only schedules a drain on the
// running engine loop.
func syncNow(engine drainer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			writeError(w, r, pkgerrors.New(pkgerrors.CodeInternal, "sync engine unavailable"))
			return
		}

		if strings.EqualFold(r.URL.Query().Get("wait"), "false") {
			engine.Trigger()
			writeSuccessStatus(w, http.StatusAccepted, map[string]bool{"scheduled": true})
			return
		}

		result, err := engine.Drain(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSuccess(w, result)
	}
}
