package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/archive"
	"github.com/yanizio/schoolarchive/internal/auth"
	"github.com/yanizio/schoolarchive/internal/identity"
	"github.com/yanizio/schoolarchive/internal/recovery"
	"github.com/yanizio/schoolarchive/internal/requestinfo"
	"github.com/yanizio/schoolarchive/internal/validate"
)

type archiveBody struct {
	RootIDs []validate.FlexID `json:"root_ids"`
	Reason  string            `json:"reason"`
}

type previewBody struct {
	IDs []validate.FlexID `json:"ids"`
}

type restoreBody struct {
	IDs          []validate.FlexID `json:"ids"`
	Reason       string            `json:"reason"`
	ApprovalNote string            `json:"approvalNote"`
}

type reconcileBody struct {
	RootIDs []validate.FlexID `json:"root_ids"`
}

type reconcileResult struct {
	Repairs []identity.Plan `json:"repairs"`
}

/*──────────────────────────── archive ──────────────────────────────────────*/

func (a *API) archive(w http.ResponseWriter, r *http.Request) {
	var body archiveBody
	if err := decode(r, w, &body); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	ids, err := rootIDs(body.RootIDs)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	actor, _ := auth.UserID(r.Context())

	res, err := a.deps.Archive.Archive(r.Context(), archive.Request{
		EntityKey: chi.URLParam(r, "entity"),
		RootIDs:   ids,
		Reason:    body.Reason,
		ActorID:   actor,
		IP:        requestinfo.ClientIP(r.Context()),
	})
	if err != nil {
		var partial any
		if res.OperationID != "" {
			partial = res
		}
		a.writeError(w, r, err, partial)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

/*──────────────────────────── recovery ─────────────────────────────────────*/

func (a *API) preview(w http.ResponseWriter, r *http.Request) {
	var body previewBody
	if err := decode(r, w, &body); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	res, err := a.deps.Recovery.Preview(r.Context(), recovery.PreviewRequest{
		EntityKey: chi.URLParam(r, "entity"),
		IDs:       validate.Strings(body.IDs),
	})
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) restore(w http.ResponseWriter, r *http.Request) {
	var body restoreBody
	if err := decode(r, w, &body); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	actor, _ := auth.UserID(r.Context())

	res, err := a.deps.Recovery.Restore(r.Context(), recovery.RestoreRequest{
		EntityKey:    chi.URLParam(r, "entity"),
		IDs:          validate.Strings(body.IDs),
		Reason:       body.Reason,
		ApprovalNote: body.ApprovalNote,
		ActorID:      actor,
		IP:           requestinfo.ClientIP(r.Context()),
	})
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

/*──────────────────────────── identity ─────────────────────────────────────*/

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	var body reconcileBody
	if err := decode(r, w, &body); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	ids, err := rootIDs(body.RootIDs)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	actor, _ := auth.UserID(r.Context())

	plans, err := a.deps.Identity.Reconcile(r.Context(), identity.ReconcileRequest{
		EntityKey: chi.URLParam(r, "entity"),
		RootIDs:   ids,
		ActorID:   actor,
		IP:        requestinfo.ClientIP(r.Context()),
	})
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	if plans == nil {
		plans = []identity.Plan{}
	}
	writeJSON(w, http.StatusOK, reconcileResult{Repairs: plans})
}

/*──────────────────────────── misc ─────────────────────────────────────────*/

func (a *API) entities(w http.ResponseWriter, r *http.Request) {
	keys := []string{}
	if a.deps.EntityKeys != nil {
		keys = a.deps.EntityKeys()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"entities": keys})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.deps.DB.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rootIDs converts FlexIDs to users ids.  Root ids are always integers.
func rootIDs(in []validate.FlexID) ([]int64, error) {
	out := make([]int64, 0, len(in))
	for _, id := range in {
		n, err := strconv.ParseInt(strings.TrimSpace(string(id)), 10, 64)
		if err != nil {
			return nil, apperror.Invalid("root_ids", "must be integers")
		}
		out = append(out, n)
	}
	return out, nil
}
