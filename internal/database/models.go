package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StrengthType 取值：参考图对生成结果的约束强度。
const (
	StrengthLow  = "Low"
	StrengthMid  = "Mid"
	StrengthHigh = "High"
)

// StyleControl 取值：模型接受哪一族风格参数。
const (
	StyleControlPreset = "presetStyle"
	StyleControlUUID   = "styleUUID"
)

// ValidStrengthType reports whether s is one of the accepted strength types.
func ValidStrengthType(s string) bool {
	return s == StrengthLow || s == StrengthMid || s == StrengthHigh
}

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username     string    `gorm:"uniqueIndex;size:64"`
	PasswordHash string    `gorm:"size:255"`
	Projects     []Project `gorm:"constraint:OnDelete:CASCADE"`
}

// Project 是所有生成请求的容器，归属于单个用户。
type Project struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	Name        string         `gorm:"size:255" json:"name"`
	Description *string        `gorm:"size:1024" json:"description"`
	UserID      uint           `gorm:"index" json:"userId"`

	TextSummaries                    []TextSummary                     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	ImageGenerationRequests          []ImageGenerationRequest          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CharacterConsistentImageRequests []CharacterConsistentImageRequest `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TextSummary 保存一次文本摘要请求及其结果。
// website 与 textToSummarize 至少要有一个非空；summary 在生成成功前为 null。
type TextSummary struct {
	ID              uint           `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	ProjectID       uint           `gorm:"index" json:"projectId"`
	UserID          uint           `gorm:"index" json:"userId"`
	Name            *string        `gorm:"size:255" json:"name"`
	Website         *string        `gorm:"size:1024" json:"website"`
	TextToSummarize *string        `gorm:"type:text" json:"textToSummarize"`
	TargetWordCount *int           `json:"targetWordCount"`
	Summary         *string        `gorm:"type:text" json:"summary"`
	Citations       datatypes.JSON `json:"citations"`
}

// ImageGenerationRequest 保存一次文生图请求，拥有多张生成图片。
type ImageGenerationRequest struct {
	ID             uint           `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	ProjectID      uint           `gorm:"index" json:"projectId"`
	UserID         uint           `gorm:"index" json:"userId"`
	Name           *string        `gorm:"size:255" json:"name"`
	Prompt         string         `gorm:"type:text" json:"prompt"`
	NumberOfImages int            `json:"numberOfImages"`

	GeneratedImages []GeneratedImage `gorm:"constraint:OnDelete:CASCADE" json:"generatedImages"`
}

// GeneratedImage 是文生图请求的单张结果。
type GeneratedImage struct {
	ID                       uint      `gorm:"primarykey" json:"id"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
	ImageGenerationRequestID uint      `gorm:"index" json:"imageGenerationRequestId"`
	ImageURL                 string    `gorm:"size:2048" json:"imageUrl"`
}

// CharacterConsistentImageRequest 保存一次参考图条件生成请求。
// 非 styleUUID 族模型上，编排器强制 alchemy == photoReal（上游 API 约束）。
type CharacterConsistentImageRequest struct {
	ID                uint           `gorm:"primarykey" json:"id"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
	ProjectID         uint           `gorm:"index" json:"projectId"`
	UserID            uint           `gorm:"index" json:"userId"`
	Name              *string        `gorm:"size:255" json:"name"`
	Prompt            string         `gorm:"type:text" json:"prompt"`
	ReferenceImageURL string         `gorm:"size:2048" json:"referenceImageUrl"`
	LeonardoImageID   string         `gorm:"size:64" json:"leonardoImageId"`
	StrengthType      string         `gorm:"size:8" json:"strengthType"`
	ModelID           *string        `gorm:"size:64" json:"modelId"`
	Width             int            `json:"width"`
	Height            int            `json:"height"`
	PhotoReal         bool           `json:"photoReal"`
	Alchemy           bool           `json:"alchemy"`
	NumberOfImages    int            `json:"numberOfImages"`
	PresetStyle       *string        `gorm:"size:64" json:"presetStyle"`
	StyleUUID         *string        `gorm:"size:64" json:"styleUuid"`
	Contrast          *float64       `json:"contrast"`

	CharacterConsistentGeneratedImages []CharacterConsistentGeneratedImage `gorm:"constraint:OnDelete:CASCADE" json:"characterConsistentGeneratedImages"`
}

// CharacterConsistentGeneratedImage 是参考图条件生成请求的单张结果。
type CharacterConsistentGeneratedImage struct {
	ID                                uint      `gorm:"primarykey" json:"id"`
	CreatedAt                         time.Time `json:"createdAt"`
	UpdatedAt                         time.Time `json:"updatedAt"`
	CharacterConsistentImageRequestID uint      `gorm:"index" json:"characterConsistentImageRequestId"`
	ImageURL                          string    `gorm:"size:2048" json:"imageUrl"`
}

// LeonardoModel 是只读的模型配置行，决定编排器构造哪一族请求体。
type LeonardoModel struct {
	ID                 uint      `gorm:"primarykey" json:"id"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
	Name               string    `gorm:"size:255" json:"name"`
	ModelID            string    `gorm:"uniqueIndex;size:64" json:"modelId"`
	PreprocessorID     int       `json:"preprocessorId"`
	PhotoRealAvailable bool      `json:"photoRealAvailable"`
	PhotoRealDefault   bool      `json:"photoRealDefault"`
	PhotoRealVersion   string    `gorm:"size:16" json:"photoRealVersion"`
	AlchemyAvailable   bool      `json:"alchemyAvailable"`
	AlchemyDefault     bool      `json:"alchemyDefault"`
	StyleControl       string    `gorm:"size:16;default:presetStyle" json:"styleControl"`
	IsActive           bool      `json:"isActive"`
	DisplayOrder       int       `json:"displayOrder"`
}

// LeonardoStyleControl 枚举某一风格参数族下可选的风格项。
// Phoenix 族模型通过 styleUuid 引用具体风格。
type LeonardoStyleControl struct {
	ID                uint      `gorm:"primarykey" json:"id"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	StyleControlParam string    `gorm:"size:16;uniqueIndex:idx_style_option" json:"styleControlParam"`
	StyleOption       string    `gorm:"size:64;uniqueIndex:idx_style_option" json:"styleOption"`
	StyleUUID         *string   `gorm:"size:64" json:"styleUuid"`
	DisplayOrder      int       `json:"displayOrder"`
}

// Tool 是展示在界面上的工具目录，终端用户不可修改。
type Tool struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Name        string    `gorm:"uniqueIndex;size:128" json:"name"`
	Description string    `gorm:"size:512" json:"description"`
}
