package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"poster/internal/database"
	"poster/internal/xai"
)

const defaultTargetWordCount = 100
const summaryFallbackName = "Summary"

// summaryGenerator 是摘要处理器依赖的 xAI 子集，便于测试替换。
type summaryGenerator interface {
	Summarize(ctx context.Context, req xai.SummaryRequest) (*xai.SummaryResult, error)
	GenerateName(ctx context.Context, namePrompt, fallback string) (string, error)
}

// SummaryHandler 负责处理文本摘要相关的 API 请求。
type SummaryHandler struct {
	db  *gorm.DB
	xai summaryGenerator
}

// NewSummaryHandler 构造 SummaryHandler。
func NewSummaryHandler(db *gorm.DB, generator summaryGenerator) *SummaryHandler {
	return &SummaryHandler{db: db, xai: generator}
}

type createSummaryRequest struct {
	ProjectID       uint    `json:"projectId" binding:"required"`
	Website         *string `json:"website"`
	TextToSummarize *string `json:"textToSummarize"`
	TargetWordCount *int    `json:"targetWordCount"`
}

type updateSummaryRequest struct {
	Website         *string `json:"website"`
	TextToSummarize *string `json:"textToSummarize"`
	TargetWordCount *int    `json:"targetWordCount"`
}

func summaryInputs(website, text *string) (string, string, bool) {
	w := ""
	if website != nil {
		w = strings.TrimSpace(*website)
	}
	t := ""
	if text != nil {
		t = strings.TrimSpace(*text)
	}
	return w, t, w != "" || t != ""
}

func targetWords(value *int) int {
	if value != nil && *value > 0 {
		return *value
	}
	return defaultTargetWordCount
}

func citationsJSON(citations []string) datatypes.JSON {
	if len(citations) == 0 {
		return nil
	}
	data, err := json.Marshal(citations)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

// ListSummaries 按最近更新时间倒序列出项目下的摘要记录。
func (h *SummaryHandler) ListSummaries(c *gin.Context) {
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

	var summaries []database.TextSummary
	if err := h.db.WithContext(c.Request.Context()).
		Where("project_id = ? AND user_id = ?", uint(projectID), userID).
		Order("updated_at DESC").
		Find(&summaries).Error; err != nil {
		Internal(c, "failed to list summaries")
		return
	}

	c.JSON(http.StatusOK, summaries)
}

// CreateSummary 创建摘要记录并同步生成摘要。
// 生成失败时记录保留（summary 为 null），以便用户重试。
func (h *SummaryHandler) CreateSummary(c *gin.Context) {
	var req createSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	website, text, valid := summaryInputs(req.Website, req.TextToSummarize)
	if !valid {
		BadRequest(c, "either website or textToSummarize is required")
		return
	}

	ctx := c.Request.Context()

	project, err := projectForUser(ctx, h.db, req.ProjectID, userID)
	if err != nil {
		respondProjectError(c, err)
		return
	}

	name, err := h.xai.GenerateName(ctx, xai.NameSummaryPrompt(website, text), summaryFallbackName)
	if err != nil {
		name = summaryFallbackName
	}

	wordCount := targetWords(req.TargetWordCount)
	summary := database.TextSummary{
		ProjectID:       project.ID,
		UserID:          userID,
		Name:            &name,
		TargetWordCount: &wordCount,
	}
	if website != "" {
		summary.Website = &website
	}
	if text != "" {
		summary.TextToSummarize = &text
	}

	if err := h.db.WithContext(ctx).Create(&summary).Error; err != nil {
		Internal(c, "failed to create summary")
		return
	}

	result, err := h.xai.Summarize(ctx, xai.SummaryRequest{
		Website:         website,
		Text:            text,
		TargetWordCount: wordCount,
	})
	if err != nil {
		Internal(c, "Failed to generate summary")
		return
	}

	if err := h.db.WithContext(ctx).Model(&summary).Updates(map[string]any{
		"summary":   result.Summary,
		"citations": citationsJSON(result.Citations),
	}).Error; err != nil {
		Internal(c, "failed to store summary")
		return
	}

	if err := h.db.WithContext(ctx).First(&summary, summary.ID).Error; err != nil {
		Internal(c, "failed to reload summary")
		return
	}

	c.JSON(http.StatusCreated, summary)
}

// UpdateSummary 修改输入并重新生成摘要。
// 数据库只在生成成功后写入一次，失败时保持旧内容不变。
func (h *SummaryHandler) UpdateSummary(c *gin.Context) {
	var req updateSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	website, text, valid := summaryInputs(req.Website, req.TextToSummarize)
	if !valid {
		BadRequest(c, "either website or textToSummarize is required")
		return
	}

	ctx := c.Request.Context()
	summary, err := h.getSummaryForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondSummaryError(c, err)
		return
	}

	name, err := h.xai.GenerateName(ctx, xai.NameSummaryPrompt(website, text), summaryFallbackName)
	if err != nil {
		name = summaryFallbackName
	}

	wordCount := targetWords(req.TargetWordCount)
	result, err := h.xai.Summarize(ctx, xai.SummaryRequest{
		Website:         website,
		Text:            text,
		TargetWordCount: wordCount,
	})
	if err != nil {
		Internal(c, "Failed to generate summary")
		return
	}

	updates := map[string]any{
		"name":              name,
		"website":           nullableString(website),
		"text_to_summarize": nullableString(text),
		"target_word_count": wordCount,
		"summary":           result.Summary,
		"citations":         citationsJSON(result.Citations),
	}
	if err := h.db.WithContext(ctx).Model(summary).Updates(updates).Error; err != nil {
		Internal(c, "failed to update summary")
		return
	}

	if err := h.db.WithContext(ctx).First(summary, summary.ID).Error; err != nil {
		Internal(c, "failed to reload summary")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// DeleteSummary 删除指定摘要记录。
func (h *SummaryHandler) DeleteSummary(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	summary, err := h.getSummaryForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondSummaryError(c, err)
		return
	}

	if err := h.db.WithContext(ctx).Delete(&database.TextSummary{}, summary.ID).Error; err != nil {
		Internal(c, "failed to delete summary")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *SummaryHandler) getSummaryForUser(ctx context.Context, idParam string, userID uint) (*database.TextSummary, error) {
	summaryID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}

	var summary database.TextSummary
	if err := h.db.WithContext(ctx).First(&summary, uint(summaryID)).Error; err != nil {
		return nil, err
	}
	if summary.UserID != userID {
		return nil, errNotOwner
	}

	return &summary, nil
}

func respondSummaryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidID):
		BadRequest(c, "invalid summary id")
	case errors.Is(err, errNotOwner):
		Forbidden(c, "forbidden")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "summary not found")
	default:
		Internal(c, "failed to query summary")
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
