package database

import (
	"fmt"

	"gorm.io/gorm"
)

// SeedCatalog 写入工具目录与 Leonardo 模型配置，已存在的行保持不变。
func SeedCatalog(db *gorm.DB) error {
	tools := []Tool{
		{Name: "Text summarizer", Description: "Summarize text content"},
		{Name: "Text to Image", Description: "Generate images from text prompts using AI"},
		{Name: "Character Consistent Image", Description: "Generate images with consistent character appearance using reference image"},
	}
	for _, tool := range tools {
		if err := db.Where(Tool{Name: tool.Name}).FirstOrCreate(&Tool{}, tool).Error; err != nil {
			return fmt.Errorf("seed tool %q: %w", tool.Name, err)
		}
	}

	models := []LeonardoModel{
		{
			Name:               "Leonardo Lightning XL",
			ModelID:            "b24e16ff-06e3-43eb-8d33-4416c2d75876",
			PreprocessorID:     133,
			PhotoRealAvailable: true,
			PhotoRealDefault:   true,
			PhotoRealVersion:   "v2",
			AlchemyAvailable:   true,
			AlchemyDefault:     true,
			StyleControl:       StyleControlPreset,
			IsActive:           true,
			DisplayOrder:       1,
		},
		{
			Name:               "Leonardo Kino XL",
			ModelID:            "aa77f04e-3eec-4034-9c07-d0f619684628",
			PreprocessorID:     133,
			PhotoRealAvailable: true,
			PhotoRealDefault:   true,
			PhotoRealVersion:   "v2",
			AlchemyAvailable:   true,
			AlchemyDefault:     true,
			StyleControl:       StyleControlPreset,
			IsActive:           true,
			DisplayOrder:       2,
		},
		{
			Name:               "Leonardo Vision XL",
			ModelID:            "5c232a9e-9061-4777-980a-ddc8e65647c6",
			PreprocessorID:     133,
			PhotoRealAvailable: true,
			PhotoRealDefault:   true,
			PhotoRealVersion:   "v2",
			AlchemyAvailable:   true,
			AlchemyDefault:     true,
			StyleControl:       StyleControlPreset,
			IsActive:           true,
			DisplayOrder:       3,
		},
		{
			Name:               "Leonardo Anime XL",
			ModelID:            "e71a1c2f-4f80-4800-934f-2c68979d8cc8",
			PreprocessorID:     133,
			PhotoRealAvailable: true,
			PhotoRealDefault:   true,
			PhotoRealVersion:   "v2",
			AlchemyAvailable:   true,
			AlchemyDefault:     true,
			StyleControl:       StyleControlPreset,
			IsActive:           true,
			DisplayOrder:       4,
		},
	}
	for _, model := range models {
		if err := db.Where(LeonardoModel{ModelID: model.ModelID}).FirstOrCreate(&LeonardoModel{}, model).Error; err != nil {
			return fmt.Errorf("seed leonardo model %q: %w", model.Name, err)
		}
	}

	return nil
}
