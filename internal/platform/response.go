package platform

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/me/mlledger/pkg/model"
)

const requestIDHeader = "X-Request-ID"

func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

func respondOK(w http.ResponseWriter, reqID string, data any) {
	writeEnvelope(w, http.StatusOK, model.Response{RequestID: reqID, Data: data})
}

func respondCreated(w http.ResponseWriter, reqID string, data any) {
	writeEnvelope(w, http.StatusCreated, model.Response{RequestID: reqID, Data: data})
}

// respondJobs writes a page of jobs. The store is asked for one row past
// limit so the caller can tell whether more exist.
func respondJobs(w http.ResponseWriter, reqID string, jobs []*model.Job, limit int) {
	more := len(jobs) > limit
	if more {
		jobs = jobs[:limit]
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeEnvelope(w, http.StatusOK, model.Response{
		RequestID: reqID,
		Data:      jobs,
		List:      &model.ListMeta{Count: len(jobs), Limit: limit, More: more},
	})
}

func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	writeEnvelope(w, status, model.Response{RequestID: reqID, Error: apiErr})
}

func respondConflict(w http.ResponseWriter, reqID, format string, args ...any) {
	respondError(w, reqID, http.StatusConflict, &model.APIError{
		Code:    model.ErrConflict,
		Message: fmt.Sprintf(format, args...),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp model.Response) {
	resp.Status = "ok"
	if resp.Error != nil {
		resp.Status = "error"
	}
	resp.Timestamp = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
