// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/morum/lib/forum"
	"github.com/bureau-foundation/morum/lib/netutil"
	"github.com/bureau-foundation/morum/lib/roomcache"
)

// kindRateLimited is the error kind of a 429 response. It is not a
// forum.Kind: rate limiting happens before the forum sees the request.
const kindRateLimited = "rate_limited"

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// apiConfig configures the forum API handler.
type apiConfig struct {
	Forum   *forum.Service
	Cache   *roomcache.Cache
	Metrics *metrics

	// WriteLimiter is shared by login, comment and post creation.
	// Nil disables limiting.
	WriteLimiter *rate.Limiter

	Logger *slog.Logger
}

type apiHandler struct {
	forum   *forum.Service
	cache   *roomcache.Cache
	metrics *metrics
	limiter *rate.Limiter
	logger  *slog.Logger
}

// newAPIHandler returns the routing handler for the forum JSON API,
// /healthz and /metrics.
func newAPIHandler(config apiConfig) http.Handler {
	h := &apiHandler{
		forum:   config.Forum,
		cache:   config.Cache,
		metrics: config.Metrics,
		limiter: config.WriteLimiter,
		logger:  config.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/native/user/login", h.instrument("login", h.limited("login", h.handleLogin)))
	mux.Handle("GET /api/native/categories", h.instrument("categories", h.handleCategories))
	mux.Handle("GET /api/native/posts", h.instrument("posts", h.handlePosts))
	mux.Handle("GET /api/native/post", h.instrument("post", h.handlePost))
	mux.Handle("POST /api/native/post/comment", h.instrument("new_comment", h.limited("new_comment", h.handleNewComment)))
	mux.Handle("POST /api/native/post/new", h.instrument("new_post", h.limited("new_post", h.handleNewPost)))
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

func (h *apiHandler) handleLogin(writer http.ResponseWriter, request *http.Request) {
	var body forum.LoginRequest
	if !h.decode(writer, request, &body) {
		return
	}
	response, err := h.forum.Login(request.Context(), body)
	h.respond(writer, request, response, err)
}

func (h *apiHandler) handleCategories(writer http.ResponseWriter, request *http.Request) {
	response, err := h.forum.Categories(request.Context())
	h.respond(writer, request, response, err)
}

// handlePosts serves ?category_id=. An absent parameter and
// "uncategorized" both select the uncategorized bucket.
func (h *apiHandler) handlePosts(writer http.ResponseWriter, request *http.Request) {
	var body forum.PostsRequest
	if id := request.URL.Query().Get("category_id"); id != "" {
		body.CategoryID = forum.ParseCategoryID(id)
	}
	response, err := h.forum.Posts(request.Context(), body)
	h.respond(writer, request, response, err)
}

func (h *apiHandler) handlePost(writer http.ResponseWriter, request *http.Request) {
	id, err := strconv.ParseUint(request.URL.Query().Get("id"), 10, 64)
	if err != nil {
		h.writeError(writer, http.StatusBadRequest, string(forum.KindInvalidInput), "id must be a non-negative integer")
		return
	}
	response, err := h.forum.Post(request.Context(), forum.PostRequest{ID: id})
	h.respond(writer, request, response, err)
}

func (h *apiHandler) handleNewComment(writer http.ResponseWriter, request *http.Request) {
	var body forum.NewCommentRequest
	if !h.decode(writer, request, &body) {
		return
	}
	response, err := h.forum.NewComment(request.Context(), body)
	h.metrics.observeMutation("comment", err)
	h.respond(writer, request, response, err)
}

func (h *apiHandler) handleNewPost(writer http.ResponseWriter, request *http.Request) {
	var body forum.NewPostRequest
	if !h.decode(writer, request, &body) {
		return
	}
	response, err := h.forum.NewPost(request.Context(), body)
	h.metrics.observeMutation("post", err)
	h.respond(writer, request, response, err)
}

// handleHealth reports 200 once the first sync has been applied.
func (h *apiHandler) handleHealth(writer http.ResponseWriter, request *http.Request) {
	snapshot := h.cache.Snapshot()
	status := http.StatusOK
	state := "ok"
	if snapshot.Version() == 0 {
		status = http.StatusServiceUnavailable
		state = "syncing"
	}
	netutil.WriteJSON(writer, status, map[string]any{
		"status":           state,
		"snapshot_version": snapshot.Version(),
		"rooms":            snapshot.Len(),
	})
}

func (h *apiHandler) decode(writer http.ResponseWriter, request *http.Request, body any) bool {
	if err := netutil.DecodeRequest(writer, request, body); err != nil {
		h.writeError(writer, http.StatusBadRequest, string(forum.KindInvalidInput), err.Error())
		return false
	}
	return true
}

// respond writes response, or maps err to a status by its kind.
// Internal errors are logged with their full chain and reported to the
// client without detail.
func (h *apiHandler) respond(writer http.ResponseWriter, request *http.Request, response any, err error) {
	if err == nil {
		netutil.WriteJSON(writer, http.StatusOK, response)
		return
	}

	kind := forum.KindOf(err)
	var status int
	switch kind {
	case forum.KindNotFound:
		status = http.StatusNotFound
	case forum.KindInvalidInput:
		status = http.StatusBadRequest
	case forum.KindAuthentication:
		status = http.StatusUnauthorized
	default:
		status = http.StatusInternalServerError
	}

	if status != http.StatusInternalServerError {
		h.writeError(writer, status, string(kind), err.Error())
		return
	}
	if errors.Is(err, context.Canceled) && request.Context().Err() != nil {
		h.logger.Debug("request cancelled by client", "path", request.URL.Path)
		h.writeError(writer, status, string(kind), "request cancelled")
		return
	}

	attributes := []any{"path", request.URL.Path, "error", err}
	var stepErr *forum.StepError
	if errors.As(err, &stepErr) {
		attributes = append(attributes, "failed_step", stepErr.Step, "completed", stepErr.Completed)
	}
	h.logger.Error("request failed", attributes...)
	h.writeError(writer, status, string(kind), "internal error")
}

func (h *apiHandler) writeError(writer http.ResponseWriter, status int, kind, message string) {
	netutil.WriteJSON(writer, status, errorResponse{Error: message, Kind: kind})
}

// limited rejects the request with 429 when the write limiter has no
// token available.
func (h *apiHandler) limited(route string, next http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return next
	}
	return func(writer http.ResponseWriter, request *http.Request) {
		if !h.limiter.Allow() {
			h.metrics.rateLimited.WithLabelValues(route).Inc()
			writer.Header().Set("Retry-After", "1")
			h.writeError(writer, http.StatusTooManyRequests, kindRateLimited, "too many requests")
			return
		}
		next(writer, request)
	}
}

// instrument records the route's request count by status and its
// latency.
func (h *apiHandler) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
		started := time.Now()
		next(recorder, request)
		h.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
		h.metrics.requests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
