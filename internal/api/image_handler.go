package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"poster/internal/database"
	"poster/internal/xai"
)

const imageFallbackName = "Generated Image"

const (
	minImagesPerRequest = 1
	maxImagesPerRequest = 10
)

// imageGenerator 是文生图处理器依赖的 xAI 子集，便于测试替换。
type imageGenerator interface {
	GenerateImages(ctx context.Context, prompt string, n int) ([]string, error)
	GenerateName(ctx context.Context, namePrompt, fallback string) (string, error)
}

// ImageHandler 负责处理文生图相关的 API 请求。
// redis 用于当日生成额度计数，可为 nil（不限额）。
type ImageHandler struct {
	db                *gorm.DB
	xai               imageGenerator
	redis             redis.UniversalClient
	generationsPerDay int
}

// NewImageHandler 构造 ImageHandler。
func NewImageHandler(db *gorm.DB, generator imageGenerator, redisClient redis.UniversalClient, generationsPerDay int) *ImageHandler {
	return &ImageHandler{
		db:                db,
		xai:               generator,
		redis:             redisClient,
		generationsPerDay: generationsPerDay,
	}
}

type createImageRequest struct {
	ProjectID      uint   `json:"projectId" binding:"required"`
	Prompt         string `json:"prompt" binding:"required"`
	NumberOfImages int    `json:"numberOfImages" binding:"required"`
}

type updateImageRequest struct {
	Prompt         string `json:"prompt" binding:"required"`
	NumberOfImages int    `json:"numberOfImages" binding:"required"`
}

// ListImageRequests 按最近更新时间倒序列出项目下的文生图记录。
func (h *ImageHandler) ListImageRequests(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	projectID, err := strconv.ParseUint(c.Query("projectId"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid project id")
		return
	}

	var requests []database.ImageGenerationRequest
	if err := h.db.WithContext(c.Request.Context()).
		Preload("GeneratedImages").
		Where("project_id = ? AND user_id = ?", uint(projectID), userID).
		Order("updated_at DESC").
		Find(&requests).Error; err != nil {
		Internal(c, "failed to list image requests")
		return
	}

	c.JSON(http.StatusOK, requests)
}

// CreateImageRequest 创建文生图记录并同步生成图片。
// 生成失败时父记录保留且没有任何子图片，便于用户改提示词重试。
func (h *ImageHandler) CreateImageRequest(c *gin.Context) {
	var req createImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.NumberOfImages < minImagesPerRequest || req.NumberOfImages > maxImagesPerRequest {
		BadRequest(c, "numberOfImages must be between 1 and 10")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()

	project, err := projectForUser(ctx, h.db, req.ProjectID, userID)
	if err != nil {
		respondProjectError(c, err)
		return
	}

	if !allowDailyGeneration(ctx, h.redis, userID, h.generationsPerDay) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily generation limit reached"})
		return
	}

	name, err := h.xai.GenerateName(ctx, xai.NameImagePrompt(req.Prompt), imageFallbackName)
	if err != nil {
		name = imageFallbackName
	}

	request := database.ImageGenerationRequest{
		ProjectID:      project.ID,
		UserID:         userID,
		Name:           &name,
		Prompt:         req.Prompt,
		NumberOfImages: req.NumberOfImages,
	}
	if err := h.db.WithContext(ctx).Create(&request).Error; err != nil {
		Internal(c, "failed to create image request")
		return
	}

	urls, err := h.xai.GenerateImages(ctx, req.Prompt, req.NumberOfImages)
	if err != nil {
		Internal(c, "Failed to generate images")
		return
	}

	images := make([]database.GeneratedImage, 0, len(urls))
	for _, url := range urls {
		images = append(images, database.GeneratedImage{
			ImageGenerationRequestID: request.ID,
			ImageURL:                 url,
		})
	}
	if len(images) > 0 {
		if err := h.db.WithContext(ctx).Create(&images).Error; err != nil {
			Internal(c, "failed to store generated images")
			return
		}
	}

	if err := h.db.WithContext(ctx).Preload("GeneratedImages").First(&request, request.ID).Error; err != nil {
		Internal(c, "failed to reload image request")
		return
	}

	c.JSON(http.StatusCreated, request)
}

// UpdateImageRequest 用新参数重新生成图片。
// 先生成后落库：旧图片只在新图片生成成功后的同一事务里被替换。
func (h *ImageHandler) UpdateImageRequest(c *gin.Context) {
	var req updateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.NumberOfImages < minImagesPerRequest || req.NumberOfImages > maxImagesPerRequest {
		BadRequest(c, "numberOfImages must be between 1 and 10")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	request, err := h.getRequestForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondImageError(c, err)
		return
	}

	if !allowDailyGeneration(ctx, h.redis, userID, h.generationsPerDay) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily generation limit reached"})
		return
	}

	name := request.Name
	if req.Prompt != request.Prompt {
		generated, err := h.xai.GenerateName(ctx, xai.NameImagePrompt(req.Prompt), imageFallbackName)
		if err != nil {
			generated = imageFallbackName
		}
		name = &generated
	}

	urls, err := h.xai.GenerateImages(ctx, req.Prompt, req.NumberOfImages)
	if err != nil {
		Internal(c, "Failed to generate images")
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_generation_request_id = ?", request.ID).
			Delete(&database.GeneratedImage{}).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"prompt":           req.Prompt,
			"number_of_images": req.NumberOfImages,
		}
		if name != nil {
			updates["name"] = *name
		}
		if err := tx.Model(request).Updates(updates).Error; err != nil {
			return err
		}

		images := make([]database.GeneratedImage, 0, len(urls))
		for _, url := range urls {
			images = append(images, database.GeneratedImage{
				ImageGenerationRequestID: request.ID,
				ImageURL:                 url,
			})
		}
		if len(images) == 0 {
			return nil
		}
		return tx.Create(&images).Error
	})
	if err != nil {
		Internal(c, "failed to update image request")
		return
	}

	if err := h.db.WithContext(ctx).Preload("GeneratedImages").First(request, request.ID).Error; err != nil {
		Internal(c, "failed to reload image request")
		return
	}

	c.JSON(http.StatusOK, request)
}

// DeleteImageRequest 删除文生图记录及其全部图片。
func (h *ImageHandler) DeleteImageRequest(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	request, err := h.getRequestForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondImageError(c, err)
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_generation_request_id = ?", request.ID).
			Delete(&database.GeneratedImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&database.ImageGenerationRequest{}, request.ID).Error
	})
	if err != nil {
		Internal(c, "failed to delete image request")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ImageHandler) getRequestForUser(ctx context.Context, idParam string, userID uint) (*database.ImageGenerationRequest, error) {
	requestID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}

	var request database.ImageGenerationRequest
	if err := h.db.WithContext(ctx).First(&request, uint(requestID)).Error; err != nil {
		return nil, err
	}
	if request.UserID != userID {
		return nil, errNotOwner
	}

	return &request, nil
}

func respondImageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidID):
		BadRequest(c, "invalid image request id")
	case errors.Is(err, errNotOwner):
		Forbidden(c, "forbidden")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "image request not found")
	default:
		Internal(c, "failed to query image request")
	}
}
