package devapi

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/inventory"
	"github.com/tyemirov/stockpilot/internal/model"
)

// Metric events recorded by the development backend.
const (
	MetricRegisterSuccess = "devapi.auth.register.success"
	MetricLoginSuccess    = "devapi.auth.login.success"
	MetricLoginFailure    = "devapi.auth.login.failure"
	MetricRefreshSuccess  = "devapi.auth.refresh.success"
	MetricRefreshFailure  = "devapi.auth.refresh.failure"
)

func (server *Server) mountRoutes(router *gin.Engine) {
	router.POST("/api/auth/register", server.handleRegister)
	router.POST("/api/auth/login", server.handleLogin)
	router.POST("/api/auth/refresh", server.handleRefresh)

	protected := router.Group("/api")
	protected.Use(RequireAccessToken(server.validator, server.logger))
	protected.GET("/auth/me", server.handleMe)

	protected.GET("/inventory", server.handleListItems)
	protected.POST("/inventory", server.handleCreateItem)
	protected.POST("/inventory/bulk-delete", server.handleBulkDelete)
	protected.GET("/inventory/:id", server.handleGetItem)
	protected.PUT("/inventory/:id", server.handleUpdateItem)
	protected.DELETE("/inventory/:id", server.handleDeleteItem)

	protected.POST("/scraping/scrape", server.handleScrape)
	protected.GET("/scraping/jobs", server.handleListJobs)
	protected.GET("/scraping/jobs/:id", server.handleGetJob)

	protected.GET("/stats", server.handleStatistics)
}

func (server *Server) handleRegister(contextGin *gin.Context) {
	var request model.RegisterRequest
	if !bindValid(contextGin, &request) {
		return
	}
	user, err := server.users.Create(contextGin, request)
	switch {
	case errors.Is(err, ErrUsernameTaken):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Username already exists"})
		return
	case errors.Is(err, ErrEmailTaken):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Email already exists"})
		return
	case err != nil:
		server.logger.Error("register failed", zap.String("code", "devapi.auth.register"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	response, err := server.issueSession(contextGin, user, "User registered successfully")
	if err != nil {
		return
	}
	server.metrics.Increment(MetricRegisterSuccess)
	contextGin.JSON(http.StatusCreated, response)
}

func (server *Server) handleLogin(contextGin *gin.Context) {
	var request model.LoginRequest
	if !bindValid(contextGin, &request) {
		return
	}
	user, err := server.users.Authenticate(contextGin, request.Username, request.Password)
	if err != nil {
		server.metrics.Increment(MetricLoginFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	response, err := server.issueSession(contextGin, user, "Login successful")
	if err != nil {
		return
	}
	server.metrics.Increment(MetricLoginSuccess)
	contextGin.JSON(http.StatusOK, response)
}

// issueSession mints an access and refresh token pair; it writes a 500 itself on failure.
func (server *Server) issueSession(contextGin *gin.Context, user model.User, message string) (model.AuthResponse, error) {
	now := server.clock.Now()
	accessToken, _, err := MintAccessToken(user, server.config.Issuer, server.config.SigningKey, server.config.AccessTTL, now)
	if err != nil {
		server.logger.Error("mint access token failed", zap.String("code", "devapi.auth.mint"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return model.AuthResponse{}, err
	}
	_, refreshToken, err := server.refreshTokens.Issue(contextGin, user.ID, now.Add(server.config.RefreshTTL), "")
	if err != nil {
		server.logger.Error("issue refresh token failed", zap.String("code", "devapi.auth.issue_refresh"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return model.AuthResponse{}, err
	}
	return model.AuthResponse{
		Message:      message,
		User:         &user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (server *Server) handleRefresh(contextGin *gin.Context) {
	opaque, found := bearerToken(contextGin.Request)
	if !found {
		server.metrics.Increment(MetricRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Refresh token is required"})
		return
	}
	userID, tokenID, err := server.refreshTokens.Validate(contextGin, opaque)
	if err != nil {
		server.metrics.Increment(MetricRefreshFailure)
		message := "Invalid refresh token"
		if errors.Is(err, ErrRefreshTokenExpired) {
			message = "Refresh token has expired"
		}
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
		return
	}
	user, err := server.users.Get(contextGin, userID)
	if err != nil {
		server.metrics.Increment(MetricRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	now := server.clock.Now()
	accessToken, _, err := MintAccessToken(user, server.config.Issuer, server.config.SigningKey, server.config.AccessTTL, now)
	if err != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	response := model.RefreshResponse{AccessToken: accessToken}
	if server.config.RotateRefreshTokens {
		_, rotated, issueErr := server.refreshTokens.Issue(contextGin, user.ID, now.Add(server.config.RefreshTTL), tokenID)
		if issueErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if revokeErr := server.refreshTokens.Revoke(contextGin, tokenID); revokeErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		response.RefreshToken = rotated
	}
	server.metrics.Increment(MetricRefreshSuccess)
	contextGin.JSON(http.StatusOK, response)
}

func (server *Server) handleMe(contextGin *gin.Context) {
	user, err := server.users.Get(contextGin, claimsFrom(contextGin).UserID)
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"user": user})
}

func (server *Server) handleListItems(contextGin *gin.Context) {
	page, perPage := inventory.NormalizePage(queryInt(contextGin, "page"), queryInt(contextGin, "per_page"))
	filters := model.InventoryFilters{
		Search:    strings.TrimSpace(contextGin.Query("search")),
		Merchant:  contextGin.Query("merchant"),
		Category:  contextGin.Query("category"),
		Condition: contextGin.Query("condition"),
		SortBy:    contextGin.DefaultQuery("sort_by", "created_at"),
		SortOrder: contextGin.DefaultQuery("sort_order", "desc"),
	}
	if raw := contextGin.Query("in_stock"); raw != "" {
		inStock, err := strconv.ParseBool(raw)
		if err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "in_stock must be true or false"})
			return
		}
		filters.InStock = &inStock
	}
	if err := model.Validate(filters); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := claimsFrom(contextGin).UserID
	contextGin.JSON(http.StatusOK, server.inventory.ListItems(userID, itemQuery{Page: page, PerPage: perPage, Filters: filters}))
}

func (server *Server) handleCreateItem(contextGin *gin.Context) {
	var item model.InventoryItem
	if !bindValid(contextGin, &item) {
		return
	}
	item.JobID = nil
	created := server.inventory.CreateItem(claimsFrom(contextGin).UserID, item)
	contextGin.JSON(http.StatusCreated, gin.H{"message": "Item created successfully", "item": created})
}

func (server *Server) handleGetItem(contextGin *gin.Context) {
	id, ok := pathID(contextGin)
	if !ok {
		return
	}
	item, err := server.inventory.GetItem(claimsFrom(contextGin).UserID, id)
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"item": item})
}

func (server *Server) handleUpdateItem(contextGin *gin.Context) {
	id, ok := pathID(contextGin)
	if !ok {
		return
	}
	var update model.ItemUpdate
	if !bindValid(contextGin, &update) {
		return
	}
	if update.Empty() {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}
	item, err := server.inventory.UpdateItem(claimsFrom(contextGin).UserID, id, update)
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"message": "Item updated successfully", "item": item})
}

func (server *Server) handleDeleteItem(contextGin *gin.Context) {
	id, ok := pathID(contextGin)
	if !ok {
		return
	}
	if err := server.inventory.DeleteItem(claimsFrom(contextGin).UserID, id); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}
	contextGin.JSON(http.StatusOK, model.MessageResponse{Message: "Item deleted successfully"})
}

func (server *Server) handleBulkDelete(contextGin *gin.Context) {
	var request model.BulkDeleteRequest
	if !bindValid(contextGin, &request) {
		return
	}
	deleted := server.inventory.BulkDelete(claimsFrom(contextGin).UserID, request.ItemIDs)
	contextGin.JSON(http.StatusOK, model.BulkDeleteResponse{
		Message: fmt.Sprintf("%d items deleted successfully", deleted),
		Deleted: deleted,
	})
}

func (server *Server) handleScrape(contextGin *gin.Context) {
	var request model.ScrapeRequest
	if !bindValid(contextGin, &request) {
		return
	}
	job := server.inventory.CreateJob(claimsFrom(contextGin).UserID, request)
	server.logger.Info("scraping job queued",
		zap.Int64("job_id", job.ID),
		zap.String("merchant", job.Merchant))
	contextGin.JSON(http.StatusCreated, model.ScrapeResponse{Message: "Scraping job started", Job: job})
}

func (server *Server) handleListJobs(contextGin *gin.Context) {
	page, perPage := inventory.NormalizePage(queryInt(contextGin, "page"), queryInt(contextGin, "per_page"))
	status := contextGin.Query("status")
	if status != "" && !slices.Contains(model.JobStatuses, status) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}
	contextGin.JSON(http.StatusOK, server.inventory.ListJobs(claimsFrom(contextGin).UserID, page, perPage, status))
}

func (server *Server) handleGetJob(contextGin *gin.Context) {
	id, ok := pathID(contextGin)
	if !ok {
		return
	}
	job, err := server.inventory.GetJob(claimsFrom(contextGin).UserID, id)
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"job": job})
}

func (server *Server) handleStatistics(contextGin *gin.Context) {
	contextGin.JSON(http.StatusOK, server.inventory.Statistics(claimsFrom(contextGin).UserID))
}

// bindValid decodes the JSON body into target and validates it, writing a 400 on failure.
func bindValid(contextGin *gin.Context, target any) bool {
	if err := contextGin.ShouldBindJSON(target); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return false
	}
	if err := model.Validate(target); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func pathID(contextGin *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(contextGin.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt(contextGin *gin.Context, key string) int {
	value, err := strconv.Atoi(contextGin.Query(key))
	if err != nil {
		return 0
	}
	return value
}
