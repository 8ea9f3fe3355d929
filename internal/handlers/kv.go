package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heliactyl/heliactyldb/internal/kv"
	apperrors "github.com/heliactyl/heliactyldb/pkg/errors"
	"github.com/heliactyl/heliactyldb/pkg/response"
)

// KVHandler exposes the store's public method surface over REST.
type KVHandler struct {
	store *kv.DB
}

func NewKVHandler(store *kv.DB) *KVHandler {
	return &KVHandler{store: store}
}

type setRequest struct {
	Value    interface{} `json:"value"`
	TTLMs    int64       `json:"ttl_ms" binding:"omitempty,min=1"`
	Cached   bool        `json:"cached"`
	CacheTTL int64       `json:"cache_ttl_ms" binding:"omitempty,min=1"`
}

type amountRequest struct {
	Amount *float64 `json:"amount"`
}

type batchRequest struct {
	Entries map[string]interface{} `json:"entries" binding:"required,min=1"`
	TTLMs   int64                  `json:"ttl_ms" binding:"omitempty,min=1"`
}

// GET /api/v1/kv
// Returns the full key→value mapping, or matching keys when ?search= is set.
func (h *KVHandler) List(c *gin.Context) {
	if pattern := c.Query("search"); pattern != "" {
		keys, err := h.store.Search(requestContext(c), pattern)
		if err != nil {
			response.Error(c, mapStoreError(err))
			return
		}
		response.SuccessWithMeta(c, http.StatusOK, gin.H{"keys": keys}, &response.Meta{Total: len(keys)})
		return
	}

	values, err := h.store.GetAll(requestContext(c))
	if err != nil {
		response.Error(c, mapStoreError(err))
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, values, &response.Meta{Total: len(values)})
}

// POST /api/v1/kv
// Writes a batch of entries atomically.
func (h *KVHandler) SetMultiple(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	if err := h.store.SetMultiple(requestContext(c), req.Entries, time.Duration(req.TTLMs)*time.Millisecond); err != nil {
		response.Error(c, mapStoreError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"written": len(req.Entries)})
}

// DELETE /api/v1/kv
func (h *KVHandler) Clear(c *gin.Context) {
	if err := h.store.Clear(requestContext(c)); err != nil {
		response.Error(c, mapStoreError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cleared": true})
}

// GET /api/v1/kv/:key
func (h *KVHandler) Get(c *gin.Context) {
	key := c.Param("key")

	var (
		value interface{}
		found bool
		err   error
	)
	if c.Query("cached") == "true" {
		value, found, err = h.store.GetCached(requestContext(c), key, 0)
	} else {
		value, found, err = h.store.Get(requestContext(c), key)
	}
	if err != nil {
		response.Error(c, mapStoreError(err))
		return
	}
	if !found {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"key": key, "value": value})
}

// PUT /api/v1/kv/:key
func (h *KVHandler) Set(c *gin.Context) {
	key := c.Param("key")

	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	ctx := requestContext(c)
	var err error
	if req.Cached {
		err = h.store.SetCached(ctx, key, req.Value, time.Duration(req.CacheTTL)*time.Millisecond)
	} else {
		err = h.store.Set(ctx, key, req.Value, time.Duration(req.TTLMs)*time.Millisecond)
	}
	if err != nil {
		response.Error(c, mapStoreError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"key": key})
}

// DELETE /api/v1/kv/:key
func (h *KVHandler) Delete(c *gin.Context) {
	key := c.Param("key")

	if err := h.store.Delete(requestContext(c), key); err != nil {
		response.Error(c, mapStoreError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": key})
}

// GET /api/v1/kv/:key/exists
func (h *KVHandler) Exists(c *gin.Context) {
	key := c.Param("key")

	exists, err := h.store.Has(requestContext(c), key)
	if err != nil {
		response.Error(c, mapStoreError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"key": key, "exists": exists})
}

// POST /api/v1/kv/:key/increment
func (h *KVHandler) Increment(c *gin.Context) {
	h.adjust(c, 1)
}

// POST /api/v1/kv/:key/decrement
func (h *KVHandler) Decrement(c *gin.Context) {
	h.adjust(c, -1)
}

func (h *KVHandler) adjust(c *gin.Context, sign float64) {
	key := c.Param("key")

	amount := 1.0
	if c.Request.ContentLength > 0 {
		var req amountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperrors.NewBadRequest(err.Error()))
			return
		}
		if req.Amount != nil {
			amount = *req.Amount
		}
	}

	value, err := h.store.Increment(requestContext(c), key, sign*amount)
	if err != nil {
		response.Error(c, mapStoreError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"key": key, "value": value})
}

// DELETE /api/v1/cache?pattern=...
func (h *KVHandler) ClearCache(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		pattern = "*"
	}
	h.store.ClearCache(pattern)
	response.Success(c, http.StatusOK, gin.H{"pattern": pattern})
}

// GET /api/v1/stats
func (h *KVHandler) Stats(c *gin.Context) {
	response.Success(c, http.StatusOK, h.store.Stats())
}

// mapStoreError translates core errors into API errors so callers can tell
// backpressure, unknown outcomes, and corrupt data apart.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, kv.ErrQueueFull):
		return apperrors.ErrQueueFull.WithInternal(err)
	case errors.Is(err, kv.ErrTimeout):
		return apperrors.ErrTimeout.WithInternal(err)
	case errors.Is(err, kv.ErrEmptyKey):
		return apperrors.NewBadRequest(kv.ErrEmptyKey.Error())
	case errors.Is(err, kv.ErrNotNumeric):
		return apperrors.ErrNotNumeric.WithInternal(err)
	case errors.Is(err, kv.ErrCorruptEntry):
		return apperrors.ErrCorruptEntry.WithInternal(err)
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}

func requestContext(c *gin.Context) context.Context {
	return c.Request.Context()
}
