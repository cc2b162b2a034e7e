package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	clamd "github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"poster/internal/api/middleware"
	"poster/internal/database"
	"poster/internal/leonardo"
	"poster/internal/xai"
)

const characterFallbackName = "Character Image"

// 生成调用包含上传、提交与轮询，给整条链路一个固定的时间上限。
const characterGenerationTimeout = 180 * time.Second

const (
	defaultCharacterWidth  = 512
	defaultCharacterHeight = 512
)

// 参考图大小上限。
const maxReferenceImageBytes = 10 << 20

var (
	errInvalidModel  = errors.New("invalid model id")
	errNoActiveModel = errors.New("no active model configured")
)

// characterImageGenerator 是角色一致性生成依赖的 Leonardo 子集。
type characterImageGenerator interface {
	CreateInitImage(ctx context.Context, extension string) (*leonardo.InitImage, error)
	UploadReferenceBytes(ctx context.Context, init *leonardo.InitImage, filename string, data []byte) error
	Generate(ctx context.Context, req leonardo.GenerationRequest) (*leonardo.Generation, error)
}

// characterNamer 是命名依赖的 xAI 子集。
type characterNamer interface {
	GenerateName(ctx context.Context, namePrompt, fallback string) (string, error)
}

// referenceStore 是参考图存储依赖的对象存储子集。
type referenceStore interface {
	UploadPublicFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
	ObjectKeyFromURL(publicURL string) (string, bool)
}

// virusScanner 是可选的 clamd 扫描依赖。
type virusScanner interface {
	ScanStream(r io.Reader, abort chan bool) (chan *clamd.ScanResult, error)
}

// taskEnqueuer 是清理任务入队依赖的 Asynq 子集。
type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CharacterHandler 负责处理参考图条件生成相关的 API 请求。
type CharacterHandler struct {
	db                *gorm.DB
	leonardo          characterImageGenerator
	xai               characterNamer
	storage           referenceStore
	redis             redis.UniversalClient
	asynq             taskEnqueuer
	scanner           virusScanner
	logger            *slog.Logger
	generationsPerDay int
}

// NewCharacterHandler 构造 CharacterHandler。scanner 传 nil 表示跳过病毒扫描。
func NewCharacterHandler(
	db *gorm.DB,
	leonardoClient characterImageGenerator,
	namer characterNamer,
	store referenceStore,
	redisClient redis.UniversalClient,
	asynqClient taskEnqueuer,
	scanner virusScanner,
	logger *slog.Logger,
	generationsPerDay int,
) *CharacterHandler {
	return &CharacterHandler{
		db:                db,
		leonardo:          leonardoClient,
		xai:               namer,
		storage:           store,
		redis:             redisClient,
		asynq:             asynqClient,
		scanner:           scanner,
		logger:            logger,
		generationsPerDay: generationsPerDay,
	}
}

// characterForm 是 multipart 表单解析后的字段集合。
type characterForm struct {
	ProjectID      uint
	Prompt         string
	StrengthType   string
	ModelID        string
	Width          int
	Height         int
	NumberOfImages int
	PhotoReal      *bool
	Alchemy        *bool
	PresetStyle    string
	StyleUUID      string
	Contrast       *float64
}

func parseCharacterForm(c *gin.Context) (*characterForm, error) {
	form := &characterForm{
		Prompt:         strings.TrimSpace(c.PostForm("prompt")),
		StrengthType:   strings.TrimSpace(c.PostForm("strengthType")),
		ModelID:        strings.TrimSpace(c.PostForm("modelId")),
		PresetStyle:    strings.TrimSpace(c.PostForm("presetStyle")),
		StyleUUID:      strings.TrimSpace(c.PostForm("styleUuid")),
		Width:          defaultCharacterWidth,
		Height:         defaultCharacterHeight,
		NumberOfImages: 1,
	}

	if raw := c.PostForm("projectId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, errors.New("invalid project id")
		}
		form.ProjectID = uint(id)
	}
	if raw := c.PostForm("width"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			return nil, errors.New("invalid width")
		}
		form.Width = value
	}
	if raw := c.PostForm("height"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			return nil, errors.New("invalid height")
		}
		form.Height = value
	}
	if raw := c.PostForm("numberOfImages"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("invalid numberOfImages")
		}
		form.NumberOfImages = value
	}
	if raw := c.PostForm("photoReal"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("invalid photoReal")
		}
		form.PhotoReal = &value
	}
	if raw := c.PostForm("alchemy"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("invalid alchemy")
		}
		form.Alchemy = &value
	}
	if raw := c.PostForm("contrast"); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New("invalid contrast")
		}
		form.Contrast = &value
	}

	return form, nil
}

func (f *characterForm) validate(requireProject bool) error {
	if requireProject && f.ProjectID == 0 {
		return errors.New("projectId is required")
	}
	if f.Prompt == "" {
		return errors.New("prompt is required")
	}
	if !database.ValidStrengthType(f.StrengthType) {
		return errors.New("strengthType must be one of Low, Mid, High")
	}
	if f.NumberOfImages < minImagesPerRequest || f.NumberOfImages > maxImagesPerRequest {
		return errors.New("numberOfImages must be between 1 and 10")
	}
	return nil
}

// ListCharacterRequests 按最近更新时间倒序列出项目下的角色一致性生成记录。
func (h *CharacterHandler) ListCharacterRequests(c *gin.Context) {
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

	var requests []database.CharacterConsistentImageRequest
	if err := h.db.WithContext(c.Request.Context()).
		Preload("CharacterConsistentGeneratedImages").
		Where("project_id = ? AND user_id = ?", uint(projectID), userID).
		Order("updated_at DESC").
		Find(&requests).Error; err != nil {
		Internal(c, "failed to list character requests")
		return
	}

	c.JSON(http.StatusOK, requests)
}

// CreateCharacterRequest 上传参考图并同步生成角色一致性图片。
// 记录与图片只在整条生成链路成功后写入，中途失败不留半成品行。
func (h *CharacterHandler) CreateCharacterRequest(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	form, err := parseCharacterForm(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := form.validate(true); err != nil {
		BadRequest(c, err.Error())
		return
	}

	fileHeader, err := c.FormFile("referenceImage")
	if err != nil {
		BadRequest(c, "referenceImage is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), characterGenerationTimeout)
	defer cancel()

	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	project, err := projectForUser(ctx, h.db, form.ProjectID, userID)
	if err != nil {
		respondProjectError(c, err)
		return
	}

	if !allowDailyGeneration(ctx, h.redis, userID, h.generationsPerDay) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily generation limit reached"})
		return
	}

	data, err := readReferenceFile(fileHeader)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := h.scanReference(data); err != nil {
		logger.Warn("reference image rejected", slog.Any("error", err))
		BadRequest(c, "reference image failed virus scan")
		return
	}

	referenceURL, leonardoImageID, err := h.uploadReference(ctx, userID, fileHeader.Filename, data)
	if err != nil {
		logger.Error("upload reference image failed", slog.Any("error", err))
		Internal(c, "failed to upload reference image")
		return
	}

	name, err := h.xai.GenerateName(ctx, xai.NameCharacterPrompt(form.Prompt), characterFallbackName)
	if err != nil {
		name = characterFallbackName
	}

	model, err := h.resolveModel(ctx, form.ModelID)
	if err != nil {
		respondModelError(c, err)
		return
	}

	genReq := h.buildGenerationRequest(form, model, leonardoImageID, form.NumberOfImages)

	generation, err := h.leonardo.Generate(ctx, genReq)
	if err != nil {
		logger.Error("character generation failed", slog.Any("error", err))
		h.publishNotify(ctx, userID, characterNotifyMessage{
			Type:          "character_generation",
			Status:        "error",
			ProjectID:     project.ID,
			CorrelationID: middleware.GetCorrelationID(c),
			ErrorMessage:  err.Error(),
		})
		Internal(c, "Failed to generate character images")
		return
	}

	request := database.CharacterConsistentImageRequest{
		ProjectID:         project.ID,
		UserID:            userID,
		Name:              &name,
		Prompt:            form.Prompt,
		ReferenceImageURL: referenceURL,
		LeonardoImageID:   leonardoImageID,
		StrengthType:      form.StrengthType,
		Width:             genReq.Width,
		Height:            genReq.Height,
		Alchemy:           genReq.Alchemy,
		NumberOfImages:    genReq.NumImages,
	}
	if genReq.PhotoReal != nil {
		request.PhotoReal = *genReq.PhotoReal
	}
	request.ModelID = &model.ModelID
	if genReq.PresetStyle != "" {
		request.PresetStyle = &genReq.PresetStyle
	}
	if genReq.StyleUUID != "" {
		request.StyleUUID = &genReq.StyleUUID
	}
	if genReq.Contrast != nil {
		request.Contrast = genReq.Contrast
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&request).Error; err != nil {
			return err
		}
		return createCharacterImages(tx, request.ID, generation.Images)
	})
	if err != nil {
		Internal(c, "failed to store character request")
		return
	}

	h.publishNotify(ctx, userID, characterNotifyMessage{
		Type:          "character_generation",
		Status:        "completed",
		RequestID:     request.ID,
		ProjectID:     project.ID,
		CorrelationID: middleware.GetCorrelationID(c),
	})

	if err := h.db.WithContext(ctx).
		Preload("CharacterConsistentGeneratedImages").
		First(&request, request.ID).Error; err != nil {
		Internal(c, "failed to reload character request")
		return
	}

	c.JSON(http.StatusCreated, request)
}

// UpdateCharacterRequest 用新参数重新生成。参考图可选更新；
// 旧图片只在新图片生成成功后的同一事务里被替换。重新生成固定产出一张图。
func (h *CharacterHandler) UpdateCharacterRequest(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	form, err := parseCharacterForm(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := form.validate(false); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), characterGenerationTimeout)
	defer cancel()

	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	request, err := h.getRequestForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondCharacterError(c, err)
		return
	}

	if !allowDailyGeneration(ctx, h.redis, userID, h.generationsPerDay) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily generation limit reached"})
		return
	}

	referenceURL := request.ReferenceImageURL
	leonardoImageID := request.LeonardoImageID
	var replacedObjectKey string

	if fileHeader, err := c.FormFile("referenceImage"); err == nil {
		data, err := readReferenceFile(fileHeader)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		if err := h.scanReference(data); err != nil {
			logger.Warn("reference image rejected", slog.Any("error", err))
			BadRequest(c, "reference image failed virus scan")
			return
		}

		newURL, newImageID, err := h.uploadReference(ctx, userID, fileHeader.Filename, data)
		if err != nil {
			logger.Error("upload reference image failed", slog.Any("error", err))
			Internal(c, "failed to upload reference image")
			return
		}
		if key, ok := h.storage.ObjectKeyFromURL(referenceURL); ok {
			replacedObjectKey = key
		}
		referenceURL = newURL
		leonardoImageID = newImageID
	}

	name := request.Name
	if form.Prompt != request.Prompt {
		generated, err := h.xai.GenerateName(ctx, xai.NameCharacterPrompt(form.Prompt), characterFallbackName)
		if err != nil {
			generated = characterFallbackName
		}
		name = &generated
	}

	modelID := form.ModelID
	if modelID == "" && request.ModelID != nil {
		modelID = *request.ModelID
	}
	model, err := h.resolveModel(ctx, modelID)
	if err != nil {
		respondModelError(c, err)
		return
	}

	// 重新生成固定一张结果图。
	genReq := h.buildGenerationRequest(form, model, leonardoImageID, 1)

	generation, err := h.leonardo.Generate(ctx, genReq)
	if err != nil {
		logger.Error("character regeneration failed", slog.Any("error", err))
		Internal(c, "Failed to generate character images")
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("character_consistent_image_request_id = ?", request.ID).
			Delete(&database.CharacterConsistentGeneratedImage{}).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"prompt":              form.Prompt,
			"reference_image_url": referenceURL,
			"leonardo_image_id":   leonardoImageID,
			"strength_type":       form.StrengthType,
			"model_id":            model.ModelID,
			"width":               genReq.Width,
			"height":              genReq.Height,
			"alchemy":             genReq.Alchemy,
			"number_of_images":    genReq.NumImages,
			"photo_real":          genReq.PhotoReal != nil && *genReq.PhotoReal,
			"preset_style":        nullableString(genReq.PresetStyle),
			"style_uuid":          nullableString(genReq.StyleUUID),
		}
		if genReq.Contrast != nil {
			updates["contrast"] = *genReq.Contrast
		} else {
			updates["contrast"] = nil
		}
		if name != nil {
			updates["name"] = *name
		}
		if err := tx.Model(request).Updates(updates).Error; err != nil {
			return err
		}

		return createCharacterImages(tx, request.ID, generation.Images)
	})
	if err != nil {
		Internal(c, "failed to update character request")
		return
	}

	if replacedObjectKey != "" {
		enqueueBlobCleanup(c, h.asynq, []string{replacedObjectKey})
	}

	if err := h.db.WithContext(ctx).
		Preload("CharacterConsistentGeneratedImages").
		First(request, request.ID).Error; err != nil {
		Internal(c, "failed to reload character request")
		return
	}

	c.JSON(http.StatusOK, request)
}

// DeleteCharacterRequest 删除生成记录及其图片，参考图对象交给队列异步回收。
func (h *CharacterHandler) DeleteCharacterRequest(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	request, err := h.getRequestForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondCharacterError(c, err)
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("character_consistent_image_request_id = ?", request.ID).
			Delete(&database.CharacterConsistentGeneratedImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&database.CharacterConsistentImageRequest{}, request.ID).Error
	})
	if err != nil {
		Internal(c, "failed to delete character request")
		return
	}

	if key, ok := h.storage.ObjectKeyFromURL(request.ReferenceImageURL); ok {
		enqueueBlobCleanup(c, h.asynq, []string{key})
	}

	c.Status(http.StatusNoContent)
}

func (h *CharacterHandler) buildGenerationRequest(form *characterForm, model *database.LeonardoModel, leonardoImageID string, numImages int) leonardo.GenerationRequest {
	genReq := leonardo.GenerationRequest{
		Height:    form.Height,
		Width:     form.Width,
		ModelID:   model.ModelID,
		Prompt:    form.Prompt,
		NumImages: numImages,
		Controlnets: []leonardo.Controlnet{
			{
				InitImageID:    leonardoImageID,
				InitImageType:  "UPLOADED",
				PreprocessorID: model.PreprocessorID,
				StrengthType:   form.StrengthType,
			},
		},
	}

	if form.Alchemy != nil {
		genReq.Alchemy = *form.Alchemy
	} else {
		genReq.Alchemy = model.AlchemyDefault
	}

	var style leonardo.StyleParams
	if model.StyleControl == database.StyleControlUUID {
		style = leonardo.StyleUUIDParams{
			StyleUUID: form.StyleUUID,
			Contrast:  form.Contrast,
		}
	} else {
		photoReal := model.PhotoRealDefault
		if form.PhotoReal != nil && model.PhotoRealAvailable {
			photoReal = *form.PhotoReal
		}
		style = leonardo.PresetStyleParams{
			PhotoReal:        photoReal,
			PhotoRealVersion: model.PhotoRealVersion,
			PresetStyle:      form.PresetStyle,
		}
	}
	style.Apply(&genReq)

	return genReq
}

func (h *CharacterHandler) resolveModel(ctx context.Context, modelID string) (*database.LeonardoModel, error) {
	var model database.LeonardoModel
	if modelID != "" {
		if err := h.db.WithContext(ctx).
			Where("model_id = ? AND is_active = ?", modelID, true).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errInvalidModel
			}
			return nil, err
		}
		return &model, nil
	}

	if err := h.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("display_order ASC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNoActiveModel
		}
		return nil, err
	}
	return &model, nil
}

func (h *CharacterHandler) scanReference(data []byte) error {
	if h.scanner == nil {
		return nil
	}
	results, err := h.scanner.ScanStream(bytes.NewReader(data), make(chan bool))
	if err != nil {
		return fmt.Errorf("scan reference image: %w", err)
	}
	for result := range results {
		if result.Status == clamd.RES_FOUND {
			return fmt.Errorf("reference image infected: %s", result.Description)
		}
	}
	return nil
}

func (h *CharacterHandler) uploadReference(ctx context.Context, userID uint, filename string, data []byte) (string, string, error) {
	ext := referenceExtension(filename)
	objectKey := fmt.Sprintf("character-reference/%d/%d-%s.%s", userID, time.Now().UnixMilli(), uuid.NewString(), ext)

	publicURL, err := h.storage.UploadPublicFile(ctx, objectKey, bytes.NewReader(data), int64(len(data)), referenceContentType(ext))
	if err != nil {
		return "", "", fmt.Errorf("store reference image: %w", err)
	}

	init, err := h.leonardo.CreateInitImage(ctx, ext)
	if err != nil {
		return "", "", err
	}
	if err := h.leonardo.UploadReferenceBytes(ctx, init, filename, data); err != nil {
		return "", "", err
	}

	return publicURL, init.ID, nil
}

// characterNotifyMessage 通过 Redis Pub/Sub 转发给 WebSocket 客户端。
type characterNotifyMessage struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	RequestID     uint   `json:"request_id,omitempty"`
	ProjectID     uint   `json:"project_id"`
	CorrelationID string `json:"correlation_id"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func (h *CharacterHandler) publishNotify(ctx context.Context, userID uint, msg characterNotifyMessage) {
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redis.Publish(ctx, channel, data).Err(); err != nil && h.logger != nil {
		h.logger.Error("publish character notification failed", slog.Any("error", err))
	}
}

func (h *CharacterHandler) getRequestForUser(ctx context.Context, idParam string, userID uint) (*database.CharacterConsistentImageRequest, error) {
	requestID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}

	var request database.CharacterConsistentImageRequest
	if err := h.db.WithContext(ctx).First(&request, uint(requestID)).Error; err != nil {
		return nil, err
	}
	if request.UserID != userID {
		return nil, errNotOwner
	}

	return &request, nil
}

func createCharacterImages(tx *gorm.DB, requestID uint, generated []leonardo.GeneratedImage) error {
	images := make([]database.CharacterConsistentGeneratedImage, 0, len(generated))
	for _, image := range generated {
		images = append(images, database.CharacterConsistentGeneratedImage{
			CharacterConsistentImageRequestID: requestID,
			ImageURL:                          image.URL,
		})
	}
	if len(images) == 0 {
		return nil
	}
	return tx.Create(&images).Error
}

func readReferenceFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	if fileHeader.Size > maxReferenceImageBytes {
		return nil, errors.New("reference image too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, errors.New("failed to read reference image")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxReferenceImageBytes+1))
	if err != nil {
		return nil, errors.New("failed to read reference image")
	}
	if len(data) == 0 {
		return nil, errors.New("reference image is empty")
	}
	if len(data) > maxReferenceImageBytes {
		return nil, errors.New("reference image too large")
	}
	return data, nil
}

func referenceExtension(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "jpg", "jpeg", "png", "webp":
		return ext
	default:
		return "jpg"
	}
}

func referenceContentType(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func respondCharacterError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidID):
		BadRequest(c, "invalid character request id")
	case errors.Is(err, errNotOwner):
		Forbidden(c, "forbidden")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "character request not found")
	default:
		Internal(c, "failed to query character request")
	}
}

func respondModelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidModel):
		BadRequest(c, "invalid model id")
	case errors.Is(err, errNoActiveModel):
		Internal(c, "no active model configured")
	default:
		Internal(c, "failed to resolve model")
	}
}
