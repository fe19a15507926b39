// Conversation HTTP handlers.
//
// This file exposes REST endpoints for synced conversation resources:
//   - GET    /conversations                 (list, paginated, ETag support)
//   - GET    /conversations/{id}/messages   (list, paginated)
//   - POST   /conversations/merge           (duplicate-merge maintenance)
//   - GET    /stats                         (account ingestion stats)
//
// Handlers are transport-thin: they validate input, call repository and
// service operations, and translate results into HTTP responses (including
// conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suppdesk/wasync/internal/domain"
	"github.com/suppdesk/wasync/internal/gateway"
	"github.com/suppdesk/wasync/internal/repo"
	"github.com/suppdesk/wasync/internal/services"
	"github.com/suppdesk/wasync/internal/utils"
)

//
// Service contracts (context-aware)
//

// Reconciler defines the sync operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type Reconciler interface {
	// SyncAll ingests the full message set of one integration instance.
	SyncAll(ctx context.Context, instanceID string) (*services.SyncReport, error)
}

// EventIntake maps one webhook event onto reconciler operations.
type EventIntake interface {
	// Handle processes one decoded webhook delivery and reports the outcome.
	Handle(ctx context.Context, evt services.Event) string
}

// InstanceLister discovers the integration instances visible to the API key.
type InstanceLister interface {
	FetchInstances(ctx context.Context) ([]gateway.Instance, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conversations, messages, sync, and the
// webhook intake. It depends on abstract service interfaces to keep
// transport concerns separate from business logic; the DB handle is used for
// read paths only.
type Handlers struct {
	db        *gorm.DB
	sync      Reconciler
	intake    EventIntake
	instances InstanceLister

	// defaultAccount scopes reads when no account context is present.
	defaultAccount string
}

// New constructs and returns a Handlers instance bound to the given services.
func New(db *gorm.DB, sync Reconciler, intake EventIntake, instances InstanceLister, defaultAccount string) *Handlers {
	return &Handlers{
		db:             db,
		sync:           sync,
		intake:         intake,
		instances:      instances,
		defaultAccount: defaultAccount,
	}
}

// accountID extracts the account id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-Account-ID" header (tests
// use it), and finally to the configured default. It never touches c.Request
// if it's nil.
func (h *Handlers) accountID(c *gin.Context) string {
	if v, ok := c.Get("accountID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if hdr := strings.TrimSpace(c.GetHeader("X-Account-ID")); hdr != "" {
			return hdr
		}
	}
	return h.defaultAccount
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations and pagination
// information.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages and pagination information.
type ListMessagesResponse struct {
	Messages   []domain.ConversationMessage `json:"messages"`
	Pagination Pagination                   `json:"pagination"`
}

// MergeResponse reports the result of a duplicate-merge maintenance run.
type MergeResponse struct {
	Merged int `json:"merged"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampPageSize(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), defaultPageSize, maxPageSize)
	return
}

func paginationMeta(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns a page of the account's conversations ordered by most recent activity. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-Account-ID   header  string  false "Account ID"                   example(acct1)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"   example(W/\"abc123\")
// @Param       instance       query   string  false "Filter by integration instance"
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	acct := h.accountID(c)
	instance := strings.TrimSpace(c.Query("instance"))
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	count, maxTS, err := repo.ConversationsStats(ctx, h.db, acct)
	if err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"conversations:%s:%d:%d"`, acct, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	total, err := repo.CountConversations(ctx, h.db, acct, instance)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListConversationsPage(ctx, h.db, acct, instance, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paginationMeta(page, pageSize, total),
	})
}

// ListConversationMessages godoc
// @ID          listConversationMessages
// @Summary     List messages in a conversation (paginated)
// @Description Returns a page of messages in ascending chronological order.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-Account-ID  header  string  false "Account ID"       example(acct1)
// @Param       id            path    string  true  "Conversation ID"  format(uuid)
// @Param       page          query   int     false "Page number"      minimum(1) default(1)
// @Param       page_size     query   int     false "Items per page"   minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	// Ownership check before paging.
	if _, err := repo.GetConversation(ctx, h.db, convID, h.accountID(c)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := repo.MessagesStats(ctx, h.db, convID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, convID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampPagination(c)
	total, err := repo.CountMessages(ctx, h.db, convID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListMessagesPage(ctx, h.db, convID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginationMeta(page, pageSize, total),
	})
}

// MergeConversations godoc
// @ID          mergeConversations
// @Summary     Merge duplicate conversations
// @Description Maintenance operation: collapses conversations whose contact identifiers canonicalize to the same identity into the earliest-created row, repointing messages.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-Account-ID  header  string  false "Account ID"  example(acct1)
//
// @Success     200  {object} handlers.MergeResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/merge [post]
func (h *Handlers) MergeConversations(c *gin.Context) {
	merged, err := repo.MergeDuplicateConversations(c.Request.Context(), h.db, h.accountID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeMergeFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, MergeResponse{Merged: merged})
}

// Stats godoc
// @ID          ingestStats
// @Summary     Account ingestion statistics
// @Description Returns conversation and message counts derived from the store.
// @Tags        Stats
// @Produce     json
//
// @Param       X-Account-ID  header  string  false "Account ID"  example(acct1)
//
// @Success     200  {object} repo.IngestStats
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	stats, err := repo.AccountIngestStats(c.Request.Context(), h.db, h.accountID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}
