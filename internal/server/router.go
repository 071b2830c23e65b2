package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skinvault/backend/internal/chat"
	"github.com/skinvault/backend/internal/chat/automod"
	"github.com/skinvault/backend/internal/chat/commands"
	"github.com/skinvault/backend/internal/invites"
	"github.com/skinvault/backend/internal/moderation"
	"github.com/skinvault/backend/internal/realtime"
)

const userIDContextKey = "skinvault_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingChatService   = errors.New("chat service dependency required")
	errMissingHistory       = errors.New("history engine dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager validates the Bearer tokens clients present.
type TokenManager interface {
	ValidateToken(token string) (string, error)
}

// ModeratorChecker reports moderator privileges for a user id.
type ModeratorChecker interface {
	IsModerator(userID string) bool
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenManager TokenManager
	Moderators   ModeratorChecker
	ChatService  *chat.Service
	History      *chat.HistoryEngine
	Invites      *invites.Service
	Moderation   *moderation.Service
	Automod      *automod.StoredSource
	AutomodLog   *automod.Recorder
	Commands     *commands.Registry
	Dispatcher   *realtime.Dispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the chat API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.ChatService == nil {
		return nil, errMissingChatService
	}
	if deps.History == nil {
		return nil, errMissingHistory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		moderators: deps.Moderators,
		chats:      deps.ChatService,
		history:    deps.History,
		invites:    deps.Invites,
		moderation: deps.Moderation,
		automod:    deps.Automod,
		automodLog: deps.AutomodLog,
		commands:   deps.Commands,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/chat/messages", handler.handleSubmitMessage)
	protected.GET("/chat/messages", handler.handleGlobalHistory)
	protected.PATCH("/chat/messages/:id", handler.handleEditMessage)
	protected.DELETE("/chat/messages/:id", handler.handleDeleteMessage)
	protected.GET("/chat/dms", handler.handleDMHistory)
	protected.POST("/chat/dms/invites", handler.handleCreateInvite)
	protected.GET("/chat/dms/invites", handler.handleListInvites)
	protected.PATCH("/chat/dms/invites/:id", handler.handleRespondInvite)
	protected.POST("/chat/reports", handler.handleFileReport)
	protected.POST("/chat/blocks", handler.handleBlock)
	protected.DELETE("/chat/blocks/:peerId", handler.handleUnblock)
	protected.GET("/chat/stream", handler.handleStream)

	moderator := protected.Group("/moderation")
	moderator.Use(handler.requireModerator)
	moderator.POST("/bans", handler.handleBan)
	moderator.DELETE("/bans/:userId", handler.handleUnban)
	moderator.POST("/timeouts", handler.handleTimeout)
	moderator.DELETE("/timeouts/:userId", handler.handleClearTimeout)
	moderator.POST("/pins", handler.handlePin)
	moderator.DELETE("/pins/:messageId", handler.handleUnpin)
	moderator.PATCH("/channels/:channel", handler.handleChannelFlag)
	moderator.GET("/messages", handler.handleSearchMessages)
	moderator.POST("/messages/bulk-delete", handler.handleBulkDelete)
	moderator.GET("/reports", handler.handleListReports)
	moderator.PATCH("/reports/:id", handler.handleUpdateReport)
	moderator.GET("/automod", handler.handleGetAutomod)
	moderator.PUT("/automod", handler.handleSaveAutomod)
	moderator.GET("/automod/events", handler.handleAutomodEvents)
	moderator.DELETE("/automod/events", handler.handleClearAutomodEvents)
	moderator.GET("/commands", handler.handleListCommands)
	moderator.PUT("/commands", handler.handleSaveCommand)
	moderator.PATCH("/commands/:slug", handler.handleToggleCommand)
	moderator.DELETE("/commands/:slug", handler.handleRemoveCommand)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	moderators ModeratorChecker
	chats      *chat.Service
	history    *chat.HistoryEngine
	invites    *invites.Service
	moderation *moderation.Service
	automod    *automod.StoredSource
	automodLog *automod.Recorder
	commands   *commands.Registry
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requireModerator(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if h.moderators == nil || !h.moderators.IsModerator(userID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "moderator access required"})
		return
	}
	c.Next()
}

func (h *httpHandler) isModerator(userID string) bool {
	return h.moderators != nil && h.moderators.IsModerator(userID)
}

// writeChatError maps the service error taxonomy onto HTTP statuses.
func (h *httpHandler) writeChatError(c *gin.Context, err error) {
	var chatErr *chat.Error
	if !errors.As(err, &chatErr) {
		h.logger.Error("unclassified request failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	status := http.StatusInternalServerError
	switch chatErr.Kind() {
	case chat.KindInvalidInput:
		status = http.StatusBadRequest
	case chat.KindForbidden, chat.KindTimedOut:
		status = http.StatusForbidden
	case chat.KindNotFound:
		status = http.StatusNotFound
	case chat.KindAlreadyExists, chat.KindAlreadyProcessed:
		status = http.StatusConflict
	case chat.KindModerationRejected:
		status = http.StatusUnprocessableEntity
	case chat.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusServiceUnavailable || status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("kind", string(chatErr.Kind())), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": chatErr.Reason})
}

type submitMessagePayload struct {
	Channel       string `json:"channel"`
	ToID          string `json:"toId"`
	Body          string `json:"body"`
	SenderName    string `json:"senderName"`
	SenderAvatar  string `json:"senderAvatar"`
	SenderPremium bool   `json:"senderPremium"`
}

func (h *httpHandler) handleSubmitMessage(c *gin.Context) {
	var payload submitMessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	family, err := parseFamily(payload.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	senderID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	request := chat.SubmitRequest{
		Family:        family,
		SenderID:      senderID,
		Body:          payload.Body,
		SenderName:    payload.SenderName,
		SenderAvatar:  payload.SenderAvatar,
		SenderPremium: payload.SenderPremium,
	}
	if family == chat.FamilyDM {
		receiverID, err := chat.NewUserID(payload.ToID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "recipient is required"})
			return
		}
		request.ReceiverID = receiverID
	}

	result, err := h.chats.Submit(c.Request.Context(), request)
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	response := gin.H{"message": messageJSON(result.Message)}
	if result.Reply != nil {
		response["reply"] = messageJSON(*result.Reply)
	}
	c.JSON(http.StatusCreated, response)
}

func (h *httpHandler) handleGlobalHistory(c *gin.Context) {
	requesterID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	request := chat.PageRequest{
		Family:      chat.FamilyGlobal,
		RequesterID: requesterID,
		IsModerator: h.isModerator(requesterID.String()),
		BeforeMs:    parseInt64Query(c, "before"),
		PageSize:    int(parseInt64Query(c, "pageSize")),
		LoadAll:     parseBoolQuery(c, "loadAll"),
		PinnedOnly:  parseBoolQuery(c, "pinnedOnly"),
	}
	h.servePage(c, request)
}

func (h *httpHandler) handleDMHistory(c *gin.Context) {
	requesterID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	peerID, err := chat.NewUserID(c.Query("peer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer is required"})
		return
	}
	firstID := requesterID
	// Moderators may inspect a thread they are not part of by naming
	// the first participant explicitly.
	if asUser := strings.TrimSpace(c.Query("as")); asUser != "" {
		firstID, err = chat.NewUserID(asUser)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant"})
			return
		}
	}
	request := chat.PageRequest{
		Family:      chat.FamilyDM,
		FirstID:     firstID,
		SecondID:    peerID,
		RequesterID: requesterID,
		IsModerator: h.isModerator(requesterID.String()),
		BeforeMs:    parseInt64Query(c, "before"),
		PageSize:    int(parseInt64Query(c, "pageSize")),
		LoadAll:     parseBoolQuery(c, "loadAll"),
		PinnedOnly:  parseBoolQuery(c, "pinnedOnly"),
	}
	h.servePage(c, request)
}

func (h *httpHandler) servePage(c *gin.Context, request chat.PageRequest) {
	page, err := h.history.FetchPage(c.Request.Context(), request)
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	rendered := make([]gin.H, 0, len(page.Messages))
	for _, message := range page.Messages {
		rendered = append(rendered, annotatedJSON(message))
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":   rendered,
		"hasMore":    page.HasMore,
		"nextCursor": page.NextCursor,
		"degraded":   page.Degraded,
	})
}

type editMessagePayload struct {
	Channel string `json:"channel"`
	Body    string `json:"body"`
}

func (h *httpHandler) handleEditMessage(c *gin.Context) {
	var payload editMessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	family, err := parseFamily(payload.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	messageID, err := chat.NewMessageID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	requesterID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	message, err := h.chats.EditMessage(c.Request.Context(), family, messageID, requesterID, h.isModerator(requesterID.String()), payload.Body)
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": messageJSON(message)})
}

func (h *httpHandler) handleDeleteMessage(c *gin.Context) {
	family, err := parseFamily(c.Query("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	messageID, err := chat.NewMessageID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	requesterID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.chats.DeleteMessage(c.Request.Context(), family, messageID, requesterID, h.isModerator(requesterID.String())); err != nil {
		h.writeChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createInvitePayload struct {
	ToID string `json:"toId"`
}

func (h *httpHandler) handleCreateInvite(c *gin.Context) {
	if h.invites == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "invites unavailable"})
		return
	}
	var payload createInvitePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	fromID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	toID, err := chat.NewUserID(payload.ToID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient is required"})
		return
	}
	invite, err := h.invites.Create(c.Request.Context(), fromID, toID)
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invite": inviteJSON(invite)})
}

func (h *httpHandler) handleListInvites(c *gin.Context) {
	if h.invites == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "invites unavailable"})
		return
	}
	userID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	listed, err := h.invites.List(c.Request.Context(), userID, invites.ListFilter{
		Role:   strings.TrimSpace(c.Query("role")),
		Status: strings.TrimSpace(c.Query("status")),
	})
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	rendered := make([]gin.H, 0, len(listed))
	for _, invite := range listed {
		rendered = append(rendered, inviteJSON(invite))
	}
	c.JSON(http.StatusOK, gin.H{"invites": rendered})
}

type respondInvitePayload struct {
	Accept bool `json:"accept"`
}

func (h *httpHandler) handleRespondInvite(c *gin.Context) {
	if h.invites == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "invites unavailable"})
		return
	}
	var payload respondInvitePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	responderID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	invite, err := h.invites.Respond(c.Request.Context(), c.Param("id"), responderID, payload.Accept)
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite": inviteJSON(invite)})
}

type blockPayload struct {
	PeerID string `json:"peerId"`
}

func (h *httpHandler) handleBlock(c *gin.Context) {
	if h.moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation unavailable"})
		return
	}
	var payload blockPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.PeerID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer is required"})
		return
	}
	userID := c.GetString(userIDContextKey)
	if strings.TrimSpace(payload.PeerID) == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot block yourself"})
		return
	}
	if err := h.moderation.Block(c.Request.Context(), userID, strings.TrimSpace(payload.PeerID)); err != nil {
		h.logger.Error("block failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "block failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnblock(c *gin.Context) {
	if h.moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "moderation unavailable"})
		return
	}
	userID := c.GetString(userIDContextKey)
	if err := h.moderation.Unblock(c.Request.Context(), userID, c.Param("peerId")); err != nil {
		h.logger.Error("unblock failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unblock failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// reportLogLimit caps how many messages a report snapshot captures.
const reportLogLimit = 50

type reportPayload struct {
	ReportedID   string `json:"reportedId"`
	ReportedName string `json:"reportedName"`
	ReporterName string `json:"reporterName"`
	Channel      string `json:"channel"`
}

func (h *httpHandler) handleFileReport(c *gin.Context) {
	if h.moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reports unavailable"})
		return
	}
	var payload reportPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	family, err := parseFamily(payload.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	reporterID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	reportedID, err := chat.NewUserID(payload.ReportedID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reported user is required"})
		return
	}
	if reportedID == reporterID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot report yourself"})
		return
	}

	log := h.conversationLog(c, family, reporterID, reportedID)
	record, err := h.moderation.FileReport(c.Request.Context(), moderation.Report{
		ReporterID:   reporterID.String(),
		ReporterName: payload.ReporterName,
		ReportedID:   reportedID.String(),
		ReportedName: payload.ReportedName,
		Channel:      string(family),
		Log:          log,
	})
	if err != nil {
		if errors.Is(err, moderation.ErrInvalidReport) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report"})
			return
		}
		h.logger.Error("report filing failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"report": reportJSON(record)})
}

// conversationLog snapshots the recent exchange around a report. The
// snapshot is best effort; a failed read files the report with whatever
// was gathered rather than losing it.
func (h *httpHandler) conversationLog(c *gin.Context, family chat.ChannelFamily, reporterID, reportedID chat.UserID) []moderation.ReportEntry {
	ctx := c.Request.Context()

	// Collect candidate rows, then keep the newest reportLogLimit.
	var rows []chat.Message
	if family == chat.FamilyDM {
		page, err := h.history.FetchPage(ctx, chat.PageRequest{
			Family:      chat.FamilyDM,
			FirstID:     reporterID,
			SecondID:    reportedID,
			RequesterID: reporterID,
			LoadAll:     true,
		})
		if err != nil {
			h.logger.Warn("report snapshot failed", zap.Error(err))
			return nil
		}
		for _, message := range page.Messages {
			rows = append(rows, message.Message)
		}
	} else {
		for _, sender := range []string{reporterID.String(), reportedID.String()} {
			found, err := h.history.Search(ctx, chat.SearchRequest{
				Family:   chat.FamilyGlobal,
				SenderID: sender,
				Limit:    reportLogLimit,
			})
			if err != nil {
				h.logger.Warn("report snapshot failed",
					zap.String("sender", sender),
					zap.Error(err))
				continue
			}
			rows = append(rows, found...)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].SentAtMs > rows[j].SentAtMs
	})
	if len(rows) > reportLogLimit {
		rows = rows[:reportLogLimit]
	}

	// Oldest first, the order a reviewer reads a transcript in.
	entries := make([]moderation.ReportEntry, 0, len(rows))
	for index := len(rows) - 1; index >= 0; index-- {
		row := rows[index]
		entries = append(entries, moderation.ReportEntry{
			SenderID:   row.SenderID,
			SenderName: row.SenderName,
			Body:       row.Body,
			SentAtMs:   row.SentAtMs,
		})
	}
	return entries
}

func (h *httpHandler) handleListReports(c *gin.Context) {
	if h.moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reports unavailable"})
		return
	}
	records, err := h.moderation.ListReports(c.Request.Context(),
		strings.TrimSpace(c.Query("status")),
		int(parseInt64Query(c, "limit")))
	if err != nil {
		if errors.Is(err, moderation.ErrInvalidReportStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		h.logger.Error("report listing failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "list failed"})
		return
	}
	rendered := make([]gin.H, 0, len(records))
	for _, record := range records {
		rendered = append(rendered, reportJSON(record))
	}
	c.JSON(http.StatusOK, gin.H{"reports": rendered})
}

type updateReportPayload struct {
	Status     string `json:"status"`
	AdminNotes string `json:"adminNotes"`
}

func (h *httpHandler) handleUpdateReport(c *gin.Context) {
	if h.moderation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reports unavailable"})
		return
	}
	var payload updateReportPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record, err := h.moderation.UpdateReport(c.Request.Context(), c.Param("id"), payload.Status, payload.AdminNotes)
	if err != nil {
		switch {
		case errors.Is(err, moderation.ErrInvalidReportStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		case errors.Is(err, moderation.ErrReportNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		default:
			h.logger.Error("report update failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": reportJSON(record)})
}

type bulkDeletePayload struct {
	Channel    string   `json:"channel"`
	MessageIDs []string `json:"messageIds"`
}

func (h *httpHandler) handleBulkDelete(c *gin.Context) {
	var payload bulkDeletePayload
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.MessageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message ids are required"})
		return
	}
	family, err := parseFamily(payload.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	moderatorID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ids := make([]chat.MessageID, 0, len(payload.MessageIDs))
	for _, raw := range payload.MessageIDs {
		id, err := chat.NewMessageID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}
		ids = append(ids, id)
	}
	deleted, err := h.chats.DeleteMessages(c.Request.Context(), family, ids, moderatorID)
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func reportJSON(record moderation.ReportRecord) gin.H {
	payload := gin.H{
		"id":           record.ID,
		"reporterId":   record.ReporterID,
		"reporterName": record.ReporterName,
		"reportedId":   record.ReportedID,
		"reportedName": record.ReportedName,
		"channel":      record.Channel,
		"status":       record.Status,
		"createdAtMs":  record.CreatedAtMs,
	}
	if record.AdminNotes != "" {
		payload["adminNotes"] = record.AdminNotes
	}
	if record.ConversationLog != "" {
		payload["conversationLog"] = json.RawMessage(record.ConversationLog)
	}
	return payload
}

const streamHeartbeatInterval = 30 * time.Second

// handleStream serves realtime events over SSE. Every client follows
// the global topic and its own DM topic.
func (h *httpHandler) handleStream(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()

	globalStream, cancelGlobal := h.dispatcher.Subscribe(ctx, realtime.GlobalTopic)
	defer cancelGlobal()
	dmStream, cancelDM := h.dispatcher.Subscribe(ctx, realtime.DMTopic(userID))
	defer cancelDM()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-globalStream:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event.Payload)
		case event, ok := <-dmStream:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event.Payload)
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": time.Now().UTC().UnixMilli()})
		case <-ctx.Done():
			return false
		}
		return true
	})
}

// handleSearchMessages scans the retention window for moderator
// review: filter by sender, body substring, and time bounds.
func (h *httpHandler) handleSearchMessages(c *gin.Context) {
	family, err := parseFamily(c.Query("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	results, err := h.history.Search(c.Request.Context(), chat.SearchRequest{
		Family:   family,
		SenderID: c.Query("sender"),
		Contains: c.Query("q"),
		FromMs:   parseInt64Query(c, "fromMs"),
		ToMs:     parseInt64Query(c, "toMs"),
		Limit:    int(parseInt64Query(c, "limit")),
	})
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	rendered := make([]gin.H, 0, len(results))
	for _, message := range results {
		rendered = append(rendered, messageJSON(message))
	}
	c.JSON(http.StatusOK, gin.H{"messages": rendered})
}

type banPayload struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

func (h *httpHandler) handleBan(c *gin.Context) {
	var payload banPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}
	moderatorID := c.GetString(userIDContextKey)
	if err := h.moderation.Ban(c.Request.Context(), strings.TrimSpace(payload.UserID), moderatorID, strings.TrimSpace(payload.Reason)); err != nil {
		h.logger.Error("ban failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ban failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnban(c *gin.Context) {
	if err := h.moderation.Unban(c.Request.Context(), c.Param("userId")); err != nil {
		h.logger.Error("unban failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unban failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// timeoutDurations are the only cooldown lengths a moderator can apply.
var timeoutDurations = map[string]time.Duration{
	"1min":  time.Minute,
	"5min":  5 * time.Minute,
	"30min": 30 * time.Minute,
	"60min": time.Hour,
	"1day":  24 * time.Hour,
}

type timeoutPayload struct {
	UserID   string `json:"userId"`
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

func (h *httpHandler) handleTimeout(c *gin.Context) {
	var payload timeoutPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}
	duration, ok := timeoutDurations[strings.TrimSpace(payload.Duration)]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown duration %q", payload.Duration)})
		return
	}
	until := time.Now().UTC().Add(duration)
	if err := h.moderation.Timeout(c.Request.Context(), strings.TrimSpace(payload.UserID), until, strings.TrimSpace(payload.Reason)); err != nil {
		h.logger.Error("timeout failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "timeout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expiresAtMs": until.UnixMilli()})
}

func (h *httpHandler) handleClearTimeout(c *gin.Context) {
	if err := h.moderation.ClearTimeout(c.Request.Context(), c.Param("userId")); err != nil {
		h.logger.Error("clear timeout failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "clear timeout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type pinPayload struct {
	MessageID string `json:"messageId"`
	Channel   string `json:"channel"`
}

func (h *httpHandler) handlePin(c *gin.Context) {
	var payload pinPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	family, err := parseFamily(payload.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	messageID, err := chat.NewMessageID(payload.MessageID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	moderatorID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.chats.PinMessage(c.Request.Context(), family, messageID, moderatorID); err != nil {
		h.writeChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnpin(c *gin.Context) {
	family, err := parseFamily(c.Query("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	messageID, err := chat.NewMessageID(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	if err := h.chats.UnpinMessage(c.Request.Context(), family, messageID); err != nil {
		h.writeChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type channelFlagPayload struct {
	Enabled bool `json:"enabled"`
}

func (h *httpHandler) handleChannelFlag(c *gin.Context) {
	if _, err := parseFamily(c.Param("channel")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	var payload channelFlagPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.moderation.SetChannelEnabled(c.Request.Context(), c.Param("channel"), payload.Enabled); err != nil {
		h.logger.Error("channel flag update failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetAutomod(c *gin.Context) {
	if h.automod == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "automod unavailable"})
		return
	}
	settings, err := h.automod.Current(c.Request.Context())
	if err != nil {
		h.logger.Warn("automod settings read failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, settings)
}

func (h *httpHandler) handleSaveAutomod(c *gin.Context) {
	if h.automod == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "automod unavailable"})
		return
	}
	var settings automod.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.automod.Save(c.Request.Context(), settings); err != nil {
		h.logger.Error("automod settings save failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, automod.Coerce(settings))
}

func (h *httpHandler) handleAutomodEvents(c *gin.Context) {
	if h.automodLog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "automod unavailable"})
		return
	}
	events, err := h.automodLog.Recent(c.Request.Context(), int(parseInt64Query(c, "limit")))
	if err != nil {
		h.logger.Error("automod event read failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *httpHandler) handleClearAutomodEvents(c *gin.Context) {
	if h.automodLog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "automod unavailable"})
		return
	}
	if err := h.automodLog.Clear(c.Request.Context()); err != nil {
		h.logger.Error("automod event clear failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "clear failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListCommands(c *gin.Context) {
	if h.commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	all, err := h.commands.List(c.Request.Context())
	if err != nil {
		h.logger.Error("command list failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": all})
}

type saveCommandPayload struct {
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Response    string `json:"response"`
	Enabled     bool   `json:"enabled"`
}

func (h *httpHandler) handleSaveCommand(c *gin.Context) {
	if h.commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	var payload saveCommandPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.commands.Save(c.Request.Context(), commands.Command{
		Slug:        payload.Slug,
		Description: payload.Description,
		Response:    payload.Response,
		Enabled:     payload.Enabled,
		UpdatedBy:   c.GetString(userIDContextKey),
	})
	if err != nil {
		if errors.Is(err, commands.ErrInvalidSlug) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slug or response"})
			return
		}
		h.logger.Error("command save failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"command": saved})
}

type toggleCommandPayload struct {
	Enabled bool `json:"enabled"`
}

func (h *httpHandler) handleToggleCommand(c *gin.Context) {
	if h.commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	var payload toggleCommandPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.commands.SetEnabled(c.Request.Context(), c.Param("slug"), payload.Enabled)
	if err != nil {
		h.writeCommandError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRemoveCommand(c *gin.Context) {
	if h.commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	if err := h.commands.Remove(c.Request.Context(), c.Param("slug")); err != nil {
		h.writeCommandError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) writeCommandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, commands.ErrInvalidSlug):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slug"})
	case errors.Is(err, commands.ErrCommandNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
	default:
		h.logger.Error("command update failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update failed"})
	}
}

func parseFamily(value string) (chat.ChannelFamily, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(chat.FamilyGlobal), "":
		return chat.FamilyGlobal, nil
	case string(chat.FamilyDM):
		return chat.FamilyDM, nil
	default:
		return "", fmt.Errorf("unknown channel family %q", value)
	}
}

func parseInt64Query(c *gin.Context, name string) int64 {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func parseBoolQuery(c *gin.Context, name string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(c.Query(name)))
	return err == nil && value
}

func messageJSON(message chat.Message) gin.H {
	payload := gin.H{
		"id":            message.ID,
		"channelKey":    message.ChannelKey,
		"senderId":      message.SenderID,
		"body":          message.Body,
		"sentAtMs":      message.SentAtMs,
		"senderName":    message.SenderName,
		"senderAvatar":  message.SenderAvatar,
		"senderPremium": message.SenderPremium,
	}
	if message.ReceiverID != "" {
		payload["receiverId"] = message.ReceiverID
	}
	if message.EditedAtMs != nil {
		payload["editedAtMs"] = *message.EditedAtMs
	}
	return payload
}

func annotatedJSON(message chat.AnnotatedMessage) gin.H {
	payload := messageJSON(message.Message)
	payload["senderName"] = message.SenderNameLive
	payload["senderAvatar"] = message.SenderAvatarLive
	payload["senderPremium"] = message.SenderIsPremium
	payload["isBanned"] = message.IsBanned
	payload["isTimedOut"] = message.IsTimedOut
	payload["isPinned"] = message.IsPinned
	return payload
}

func inviteJSON(invite invites.Invite) gin.H {
	payload := gin.H{
		"id":          invite.ID,
		"fromId":      invite.FromID,
		"toId":        invite.ToID,
		"status":      invite.Status,
		"createdAtMs": invite.CreatedAtMs,
	}
	if invite.RespondedAtMs != nil {
		payload["respondedAtMs"] = *invite.RespondedAtMs
	}
	return payload
}
