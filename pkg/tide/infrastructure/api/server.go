// Package api exposes the HTTP surface used by operators: enqueueing
// messages, reading status records, requesting cancellation and inspecting
// sub-workflow instances.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/engine/workflow"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

const moduleName = "api"

// maxBodyBytes bounds an enqueued message.
const maxBodyBytes = 64 << 10

// cancelAttempts bounds the read-modify-write retries of a cancel request.
const cancelAttempts = 5

// WorkflowReader exposes sub-workflow instances.
type WorkflowReader interface {
	Get(id string) (*workflow.Instance, bool)
	List() []*workflow.Instance
}

// Handler serves the operator API.
type Handler struct {
	store     repository.StatusStore
	enqueuer  port.Enqueuer
	workflows WorkflowReader
	partition string
	queueName string
}

// NewHandler creates the API handler. workflows may be nil.
func NewHandler(store repository.StatusStore, enqueuer port.Enqueuer, workflows WorkflowReader, partition, queueName string) *Handler {
	if partition == "" {
		partition = model.DefaultPartition
	}
	return &Handler{
		store:     store,
		enqueuer:  enqueuer,
		workflows: workflows,
		partition: partition,
		queueName: queueName,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.enqueue)
		r.Get("/status", h.listStatus)
		r.Get("/status/{rowKey}", h.getStatus)
		r.Post("/status/{rowKey}/cancel", h.cancel)
		if h.workflows != nil {
			r.Get("/workflows", h.listWorkflows)
			r.Get("/workflows/{id}", h.getWorkflow)
		}
	})
}

// EnqueueResponse is returned by POST /api/messages.
type EnqueueResponse struct {
	ID    string `json:"id,omitempty"`
	Queue string `json:"queue"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if _, err := model.DecodeMessage(body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := h.enqueuer.Enqueue(r.Context(), body)
	if err != nil {
		logger.Errorf("Failed to enqueue message on '%s': %v", h.queueName, err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	logger.Debugf("Enqueued message %s on '%s'.", id, h.queueName)
	writeJSON(w, http.StatusAccepted, EnqueueResponse{ID: id, Queue: h.queueName})
}

func (h *Handler) listStatus(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context(), h.partition)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if records == nil {
		records = []*model.StatusRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), h.partition, chi.URLParam(r, "rowKey"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// cancel sets the cancellation flag with a read-modify-write, retrying when a
// concurrent writer replaced the record in between.
func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	rowKey := chi.URLParam(r, "rowKey")
	rec, err := RequestCancellation(r.Context(), h.store, h.partition, rowKey)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !rec.CancelOperation {
		// Already final, nothing left to cancel.
		writeJSON(w, http.StatusOK, rec)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// RequestCancellation flags the record for cancellation. The worker holding
// the delivery finalizes it at its next check. Already flagged records and
// records in a terminal status are returned unchanged.
func RequestCancellation(ctx context.Context, store repository.StatusStore, partition, rowKey string) (*model.StatusRecord, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.Reset()

	return backoff.Retry(ctx, func() (*model.StatusRecord, error) {
		rec, err := store.Get(ctx, partition, rowKey)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if rec.CancelOperation || rec.IsTerminal() {
			return rec, nil
		}
		rec.CancelOperation = true
		if err := store.Upsert(ctx, rec); err != nil {
			if exception.IsConcurrencyConflict(err) {
				logger.Debugf("Cancellation of %s raced with a writer, retrying.", rowKey)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		logger.Infof("Cancellation requested for %s.", rowKey)
		return rec, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(cancelAttempts))
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workflows.List())
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.workflows.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("workflow instance not found"))
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrStatusNotFound):
		writeError(w, http.StatusNotFound, err)
	case exception.IsConcurrencyConflict(err):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: exception.ExtractErrorMessage(err)})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to write %s response: %v", moduleName, err)
	}
}
