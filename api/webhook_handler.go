package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/ingest/job"
)

// statusUpdate reconciles a worker-reported status into job state. The
// worker authenticates with the shared secret, not a principal: this
// endpoint is machine-to-machine.
func (a *API) statusUpdate(ctx forge.Context, req *StatusUpdateRequest) (*job.Job, error) {
	if a.webhookSecret != "" {
		if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(a.webhookSecret)) != 1 {
			return nil, forge.Unauthorized("invalid webhook secret")
		}
	}
	if req.JobID == "" {
		return nil, forge.BadRequest("jobId is required")
	}

	j, err := a.mgr.Reconcile(ctx.Context(), req.JobID, req.Status, req.Result)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return j, ctx.JSON(http.StatusOK, j)
}
