package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Tonic56/stock-trading-simulator/internal/handler/middleware"
	"github.com/Tonic56/stock-trading-simulator/internal/market"
	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/service"
	"github.com/Tonic56/stock-trading-simulator/internal/websocket"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla_ws "github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type Services struct {
	Users     service.UsersService
	Quotes    service.QuotesService
	Trades    service.TradeService
	Portfolio service.PortfolioService
	Shop      service.ShopService
	Market    market.Oracle
}

type Handler struct {
	svc       Services
	wsManager *websocket.Manager
	log       *slog.Logger
	jwtSecret string
	upgrader  gorilla_ws.Upgrader
}

// NewHandler wires the REST surface. wsManager may be nil, which disables
// the live portfolio endpoint.
func NewHandler(svc Services, wsManager *websocket.Manager, log *slog.Logger, jwtSecret string) *Handler {
	return &Handler{
		svc:       svc,
		wsManager: wsManager,
		log:       log,
		jwtSecret: jwtSecret,
		upgrader: gorilla_ws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	auth := middleware.AuthMiddleware(h.jwtSecret, h.log)

	api := router.Group("/api")
	{
		api.POST("/register", h.register)
		api.POST("/login", h.login)
		api.GET("/market/status", h.marketStatus)
		api.GET("/price/:symbol", h.price)
		api.GET("/leaderboard", h.leaderboard)
		api.GET("/community/shop", h.shopItems)

		user := api.Group("", auth)
		{
			user.GET("/profile", h.profile)
			user.PUT("/user/details", h.updateDetails)
			user.POST("/transaction/buy", h.buy)
			user.POST("/transaction/sell", h.sell)
			user.GET("/transaction/history", h.history)
			user.GET("/portfolio", h.portfolio)
			user.GET("/portfolio/audit", h.audit)
			user.POST("/community/purchase", h.purchase)
			user.GET("/community/myitems", h.myItems)
			user.GET("/ws", h.wsConnect)
		}

		admin := api.Group("/admin", auth, middleware.RequireRole(models.RoleAdmin, h.log))
		{
			admin.GET("/users", h.adminUsers)
			admin.PUT("/users/:id", h.adminUpdateUser)
			admin.DELETE("/users/:id", h.adminDeleteUser)
			admin.GET("/transactions", h.adminTransactions)
			admin.GET("/portfolio", h.adminPositions)
			admin.GET("/community-shop", h.adminShopItems)
			admin.POST("/community-shop", h.adminCreateShopItem)
			admin.PUT("/community-shop/:id", h.adminUpdateShopItem)
			admin.DELETE("/community-shop/:id", h.adminDeleteShopItem)
			admin.GET("/stock-cache", h.adminStockCache)
		}
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, email and password are required"})
		return
	}

	user, err := h.svc.Users.Register(c.Request.Context(), service.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "user registered successfully", "user_id": user.ID})
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier and password are required"})
		return
	}

	token, user, err := h.svc.Users.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"user_id":      user.ID,
		"username":     user.Username,
		"role":         user.Role,
	})
}

func (h *Handler) profile(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	user, err := h.svc.Users.GetProfile(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	user.Balance = user.Balance.Round(models.DisplayPlaces)
	c.JSON(http.StatusOK, user)
}

type detailsRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
	DateOfBirth *string `json:"date_of_birth"`
	Address     *string `json:"address"`
}

func (h *Handler) updateDetails(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if _, err := h.svc.Users.UpdateDetails(c.Request.Context(), userID, service.UserDetails(req)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user details updated successfully"})
}

func (h *Handler) marketStatus(c *gin.Context) {
	status, err := h.svc.Market.IsOpen(c.Query("tz"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) price(c *gin.Context) {
	quote, err := h.svc.Quotes.GetQuote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":         quote.Symbol,
		"name":           quote.DisplayName,
		"logo":           quote.LogoURL,
		"price":          quote.Price.Round(models.DisplayPlaces),
		"change":         quote.Change.Round(models.DisplayPlaces),
		"percent_change": quote.PercentChange.Round(models.DisplayPlaces),
		"last_updated":   quote.PriceUpdatedAt,
	})
}

type tradeRequest struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Shares   decimal.Decimal `json:"shares"`
	Timezone string          `json:"tz"`
}

func (h *Handler) buy(c *gin.Context) {
	h.trade(c, h.svc.Trades.Buy)
}

func (h *Handler) sell(c *gin.Context) {
	h.trade(c, h.svc.Trades.Sell)
}

func (h *Handler) trade(c *gin.Context, settle func(ctx context.Context, req service.TradeRequest) (*models.Receipt, error)) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol, shares and tz are required"})
		return
	}

	receipt, err := settle(c.Request.Context(), service.TradeRequest{
		UserID:   userID,
		Symbol:   req.Symbol,
		Shares:   req.Shares,
		Timezone: req.Timezone,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if h.wsManager != nil {
		h.wsManager.Refresh(c.Request.Context(), userID)
	}

	c.JSON(http.StatusOK, receipt.Display())
}

func (h *Handler) history(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	history, err := h.svc.Trades.History(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if history == nil {
		history = []models.Transaction{}
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) portfolio(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	view, err := h.svc.Portfolio.ValuePortfolio(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.Display())
}

func (h *Handler) audit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	drift, err := h.svc.Trades.Audit(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if drift == nil {
		drift = []service.PositionDrift{}
	}
	c.JSON(http.StatusOK, gin.H{"consistent": len(drift) == 0, "drift": drift})
}

func (h *Handler) leaderboard(c *gin.Context) {
	entries, err := h.svc.Portfolio.Leaderboard(c.Request.Context(), c.DefaultQuery("sort_by", service.SortByTotal))
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]models.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Display())
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) shopItems(c *gin.Context) {
	items, err := h.svc.Shop.ListItems(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []models.ShopItem{}
	}
	c.JSON(http.StatusOK, items)
}

type purchaseRequest struct {
	ItemID uint `json:"item_id" binding:"required"`
}

func (h *Handler) purchase(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_id is required"})
		return
	}

	result, err := h.svc.Shop.Purchase(c.Request.Context(), userID, req.ItemID)
	if err != nil {
		h.fail(c, err)
		return
	}
	result.Balance = result.Balance.Round(models.DisplayPlaces)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) myItems(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	items, err := h.svc.Shop.MyItems(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) adminUsers(c *gin.Context) {
	users, err := h.svc.Users.ListUsers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type adminUserRequest struct {
	Username       *string          `json:"username"`
	Email          *string          `json:"email"`
	Balance        *decimal.Decimal `json:"balance"`
	CommunityScore *int64           `json:"community_score"`
}

func (h *Handler) adminUpdateUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req adminUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.svc.Users.AdminUpdateUser(c.Request.Context(), userID, service.AdminUserUpdate(req))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) adminDeleteUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if err := h.svc.Users.DeleteUser(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

func (h *Handler) adminTransactions(c *gin.Context) {
	transactions, err := h.svc.Trades.AllTransactions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	c.JSON(http.StatusOK, transactions)
}

func (h *Handler) adminPositions(c *gin.Context) {
	positions, err := h.svc.Trades.AllPositions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func (h *Handler) adminShopItems(c *gin.Context) {
	items, err := h.svc.Shop.AllItems(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []models.ShopItem{}
	}
	c.JSON(http.StatusOK, items)
}

type shopItemRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Cost        *decimal.Decimal `json:"cost"`
	ScoreValue  *int64           `json:"score_value"`
	Emoji       *string          `json:"emoji"`
	Available   *bool            `json:"available"`
}

func (h *Handler) adminCreateShopItem(c *gin.Context) {
	var req shopItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == nil || req.Cost == nil || req.ScoreValue == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, cost and score_value are required"})
		return
	}

	input := service.ShopItemInput{
		Name:       *req.Name,
		Cost:       *req.Cost,
		ScoreValue: *req.ScoreValue,
		Available:  req.Available,
	}
	if req.Description != nil {
		input.Description = *req.Description
	}
	if req.Emoji != nil {
		input.Emoji = *req.Emoji
	}

	item, err := h.svc.Shop.CreateItem(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) adminUpdateShopItem(c *gin.Context) {
	itemID, ok := h.itemID(c)
	if !ok {
		return
	}

	var req shopItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	item, err := h.svc.Shop.UpdateItem(c.Request.Context(), itemID, service.ShopItemPatch(req))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) adminDeleteShopItem(c *gin.Context) {
	itemID, ok := h.itemID(c)
	if !ok {
		return
	}

	if err := h.svc.Shop.DeleteItem(c.Request.Context(), itemID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "item deleted"})
}

func (h *Handler) itemID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) adminStockCache(c *gin.Context) {
	quotes, err := h.svc.Quotes.ListCachedQuotes(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, quotes)
}

func (h *Handler) wsConnect(c *gin.Context) {
	if h.wsManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live portfolio is disabled"})
		return
	}

	userID, ok := h.userID(c)
	if !ok {
		return
	}
	if _, err := h.svc.Users.GetProfile(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("failed to upgrade connection", "error", err)
		return
	}

	client := &websocket.Client{
		Manager: h.wsManager,
		Conn:    conn,
		UserID:  userID,
		Send:    make(chan []byte, 256),
	}

	client.Manager.Register(client)

	go client.Writer()
	go client.Reader()
}

func (h *Handler) userID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetString(middleware.UserIDKey)
	userID, err := uuid.Parse(raw)
	if err != nil {
		h.log.Error("handler: failed to parse userID from context", "userID", raw)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user id in token"})
		return uuid.Nil, false
	}
	return userID, true
}

// fail writes err as a JSON failure. Internal details are logged, not
// returned.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	code := kindToHTTP(kind)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"kind", kind,
			slog.Any("error", err),
		)
	}
	c.JSON(code, gin.H{"error": errs.Message(err), "kind": kind})
}

func kindToHTTP(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidInput, errs.KindInsufficientFunds, errs.KindInsufficientShares:
		return http.StatusBadRequest
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindForbidden, errs.KindMarketClosed:
		return http.StatusForbidden
	case errs.KindUserNotFound, errs.KindResourceNotFound, errs.KindNoData:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindPriceUnavailable, errs.KindProviderError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
