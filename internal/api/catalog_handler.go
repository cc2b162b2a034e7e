package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"poster/internal/database"
)

// CatalogHandler 提供只读的目录接口：工具列表、模型列表与风格选项。
type CatalogHandler struct {
	db *gorm.DB
}

// NewCatalogHandler 构造 CatalogHandler。
func NewCatalogHandler(db *gorm.DB) *CatalogHandler {
	return &CatalogHandler{db: db}
}

// ListTools 返回全部工具条目。
func (h *CatalogHandler) ListTools(c *gin.Context) {
	var tools []database.Tool
	if err := h.db.WithContext(c.Request.Context()).
		Order("id ASC").
		Find(&tools).Error; err != nil {
		Internal(c, "failed to list tools")
		return
	}

	c.JSON(http.StatusOK, tools)
}

// ListLeonardoModels 返回启用中的模型，按展示顺序排列。
func (h *CatalogHandler) ListLeonardoModels(c *gin.Context) {
	var models []database.LeonardoModel
	if err := h.db.WithContext(c.Request.Context()).
		Where("is_active = ?", true).
		Order("display_order ASC").
		Find(&models).Error; err != nil {
		Internal(c, "failed to list models")
		return
	}

	c.JSON(http.StatusOK, models)
}

// ListLeonardoStyleControls 返回指定风格参数族下的风格选项。
func (h *CatalogHandler) ListLeonardoStyleControls(c *gin.Context) {
	param := strings.TrimSpace(c.Query("styleControlParam"))
	if param == "" {
		BadRequest(c, "styleControlParam is required")
		return
	}

	var styles []database.LeonardoStyleControl
	if err := h.db.WithContext(c.Request.Context()).
		Where("style_control_param = ?", param).
		Order("display_order ASC").
		Find(&styles).Error; err != nil {
		Internal(c, "failed to list style controls")
		return
	}

	c.JSON(http.StatusOK, styles)
}
