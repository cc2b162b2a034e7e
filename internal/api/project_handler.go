package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"poster/internal/database"
)

// ProjectHandler 负责处理项目相关的 API 请求。
// storage 与 asynq 用于在删除项目时回收参考图对象，可为 nil。
type ProjectHandler struct {
	db      *gorm.DB
	storage referenceStore
	asynq   taskEnqueuer
}

// NewProjectHandler 构造 ProjectHandler。
func NewProjectHandler(db *gorm.DB, store referenceStore, asynqClient taskEnqueuer) *ProjectHandler {
	return &ProjectHandler{db: db, storage: store, asynq: asynqClient}
}

var (
	errInvalidID = errors.New("invalid id")
	errNotOwner  = errors.New("not the owner")
)

type createProjectRequest struct {
	Name        string  `json:"name" binding:"required,max=255"`
	Description *string `json:"description" binding:"omitempty,max=1024"`
}

// CreateProject 创建一个新项目。
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	project := database.Project{
		Name:        req.Name,
		Description: req.Description,
		UserID:      userID,
	}

	if err := h.db.WithContext(c.Request.Context()).Create(&project).Error; err != nil {
		Internal(c, "failed to create project")
		return
	}

	c.JSON(http.StatusCreated, project)
}

// ListProjects 按创建时间倒序列出当前用户的全部项目。
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var projects []database.Project
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		Internal(c, "failed to list projects")
		return
	}

	c.JSON(http.StatusOK, projects)
}

// GetProject 返回单个项目。其他用户的项目与不存在的项目同样返回 404。
func (h *ProjectHandler) GetProject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	project, err := h.getProjectForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondProjectError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// UpdateProject 更新项目名称与描述。
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	project, err := h.getProjectForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondProjectError(c, err)
		return
	}

	updates := map[string]any{
		"name":        req.Name,
		"description": req.Description,
	}
	if err := h.db.WithContext(ctx).Model(project).
		Where("user_id = ?", userID).
		Updates(updates).Error; err != nil {
		Internal(c, "failed to update project")
		return
	}

	if err := h.db.WithContext(ctx).First(project, project.ID).Error; err != nil {
		Internal(c, "failed to reload project")
		return
	}

	c.JSON(http.StatusOK, project)
}

// DeleteProject 删除项目及其全部生成记录。
// 子记录在同一事务里显式删除，保证不会留下孤儿行；
// 参考图对象在事务提交后交给队列异步回收。
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	project, err := h.getProjectForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondProjectError(c, err)
		return
	}

	objectKeys := h.referenceObjectKeys(ctx, project.ID)

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		imageRequestIDs := tx.Model(&database.ImageGenerationRequest{}).
			Select("id").
			Where("project_id = ?", project.ID)
		if err := tx.Where("image_generation_request_id IN (?)", imageRequestIDs).
			Delete(&database.GeneratedImage{}).Error; err != nil {
			return err
		}

		characterRequestIDs := tx.Model(&database.CharacterConsistentImageRequest{}).
			Select("id").
			Where("project_id = ?", project.ID)
		if err := tx.Where("character_consistent_image_request_id IN (?)", characterRequestIDs).
			Delete(&database.CharacterConsistentGeneratedImage{}).Error; err != nil {
			return err
		}

		if err := tx.Where("project_id = ?", project.ID).
			Delete(&database.ImageGenerationRequest{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).
			Delete(&database.CharacterConsistentImageRequest{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", project.ID).
			Delete(&database.TextSummary{}).Error; err != nil {
			return err
		}

		return tx.Where("id = ? AND user_id = ?", project.ID, userID).
			Delete(&database.Project{}).Error
	})
	if err != nil {
		Internal(c, "failed to delete project")
		return
	}

	enqueueBlobCleanup(c, h.asynq, objectKeys)

	c.Status(http.StatusNoContent)
}

// referenceObjectKeys 收集项目下所有角色生成请求的参考图对象 Key。
// 查询失败时返回空列表，删除流程照常进行。
func (h *ProjectHandler) referenceObjectKeys(ctx context.Context, projectID uint) []string {
	if h.storage == nil || h.asynq == nil {
		return nil
	}

	var urls []string
	if err := h.db.WithContext(ctx).
		Model(&database.CharacterConsistentImageRequest{}).
		Where("project_id = ?", projectID).
		Pluck("reference_image_url", &urls).Error; err != nil {
		return nil
	}

	keys := make([]string, 0, len(urls))
	for _, u := range urls {
		if key, ok := h.storage.ObjectKeyFromURL(u); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// getProjectForUser 先按 ID 查询再校验归属：不存在返回 404，归属不符返回 403。
// 后续写操作仍带 user_id 谓词，并发删除时落空而不是写歪。
func (h *ProjectHandler) getProjectForUser(ctx context.Context, idParam string, userID uint) (*database.Project, error) {
	projectID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}

	var project database.Project
	if err := h.db.WithContext(ctx).First(&project, uint(projectID)).Error; err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, errNotOwner
	}

	return &project, nil
}

// projectForUser 供子资源创建路径复用的项目归属校验。
func projectForUser(ctx context.Context, db *gorm.DB, projectID, userID uint) (*database.Project, error) {
	var project database.Project
	if err := db.WithContext(ctx).First(&project, projectID).Error; err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, errNotOwner
	}
	return &project, nil
}

func respondProjectError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidID):
		BadRequest(c, "invalid project id")
	case errors.Is(err, errNotOwner):
		Forbidden(c, "forbidden")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "project not found")
	default:
		Internal(c, "failed to query project")
	}
}
