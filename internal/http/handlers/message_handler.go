// Message HTTP handlers.
//
// This file exposes read endpoints over synced messages:
//   - GET /rag/messages      (flat, filterable feed for retrieval pipelines)
//   - GET /messages/search   (keyword search over message content)
//
// The search endpoint builds a bounded in-memory index per request; the
// dataset is scoped to one account and capped, which keeps the handler
// stateless and the results consistent with the store.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suppdesk/wasync/internal/domain"
	"github.com/suppdesk/wasync/internal/repo"
	"github.com/suppdesk/wasync/internal/search"
	"github.com/suppdesk/wasync/internal/utils"
)

// ragMaxLimit caps the RAG feed page; retrieval pipelines paginate by Since.
const ragMaxLimit = 500

// searchCorpusCap bounds how many recent messages one search request indexes.
const searchCorpusCap = 2000

// RAGMessagesResponse wraps the flat message feed for retrieval pipelines.
type RAGMessagesResponse struct {
	Messages []domain.ConversationMessage `json:"messages"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	MessageID      string  `json:"message_id"`
	ConversationID string  `json:"conversation_id"`
	Content        string  `json:"content"`
	SenderName     string  `json:"sender_name,omitempty"`
	Score          float64 `json:"score"`
}

// SearchResponse wraps ranked search hits.
type SearchResponse struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

// RAGMessages godoc
// @ID          ragMessages
// @Summary     Flat message feed for retrieval pipelines
// @Description Returns messages across conversations in ascending time order, excluding soft-deleted rows. Filterable by instance, contact, direction, and time floor.
// @Tags        Messages
// @Produce     json
//
// @Param       X-Account-ID  header  string  false "Account ID"                         example(acct1)
// @Param       instance      query   string  false "Filter by integration instance"
// @Param       contact       query   string  false "Filter by contact identifier"
// @Param       direction     query   string  false "inbound or outbound"
// @Param       since         query   string  false "RFC3339 time floor"
// @Param       limit         query   int     false "Max rows"  minimum(1) maximum(500) default(100)
//
// @Success     200  {object} handlers.RAGMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /rag/messages [get]
func (h *Handlers) RAGMessages(c *gin.Context) {
	f := repo.RAGFilter{
		AccountID:  h.accountID(c),
		InstanceID: strings.TrimSpace(c.Query("instance")),
		ContactID:  strings.TrimSpace(c.Query("contact")),
		Direction:  strings.TrimSpace(c.Query("direction")),
		Limit:      utils.AtoiDefault(c.Query("limit"), 100),
	}
	if f.Limit < 1 {
		f.Limit = 1
	}
	if f.Limit > ragMaxLimit {
		f.Limit = ragMaxLimit
	}

	switch f.Direction {
	case "", domain.DirectionInbound, domain.DirectionOutbound:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "direction must be inbound or outbound")
		return
	}

	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "since must be RFC3339")
			return
		}
		f.Since = ts
	}

	msgs, err := repo.ListMessagesForRAG(c.Request.Context(), h.db, f)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, RAGMessagesResponse{Messages: msgs})
}

// SearchMessages godoc
// @ID          searchMessages
// @Summary     Keyword search over message content
// @Description Ranks recent messages by token overlap with the query. Sender names are searchable too.
// @Tags        Messages
// @Produce     json
//
// @Param       X-Account-ID  header  string  false "Account ID"     example(acct1)
// @Param       q             query   string  true  "Search query"
// @Param       k             query   int     false "Max results"    minimum(1) maximum(50) default(10)
//
// @Success     200  {object} handlers.SearchResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/search [get]
func (h *Handlers) SearchMessages(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter q is required")
		return
	}
	k := utils.AtoiDefault(c.Query("k"), 10)
	if k < 1 {
		k = 1
	}
	if k > 50 {
		k = 50
	}

	rows, err := repo.ListMessagesForRAG(c.Request.Context(), h.db, repo.RAGFilter{
		AccountID: h.accountID(c),
		Limit:     searchCorpusCap,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSearchFailed, err.Error())
		return
	}

	docs := make([]search.Message, 0, len(rows))
	for _, m := range rows {
		docs = append(docs, search.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Content:        m.Content,
			SenderName:     m.SenderName,
		})
	}

	hits := search.NewIndexFromMessages(docs).TopK(query, k)
	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchHit{
			MessageID:      hit.Message.ID,
			ConversationID: hit.Message.ConversationID,
			Content:        hit.Message.Content,
			SenderName:     hit.Message.SenderName,
			Score:          hit.Score,
		})
	}
	ok(c, http.StatusOK, SearchResponse{Query: query, Hits: out})
}
