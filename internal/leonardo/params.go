package leonardo

// StyleParams 把某一族风格字段写入生成请求。
// 两族互斥：photoReal/presetStyle 一族与 styleUUID/contrast 一族，
// 由调用方按模型目录配置选择。
type StyleParams interface {
	Apply(req *GenerationRequest)
}

// PresetStyleParams 是 SDXL 族模型的风格参数。
// API 要求 alchemy 与 photoReal 同值，这里强制覆盖调用方传入的 alchemy。
type PresetStyleParams struct {
	PhotoReal        bool
	PhotoRealVersion string
	PresetStyle      string
}

func (p PresetStyleParams) Apply(req *GenerationRequest) {
	photoReal := p.PhotoReal
	req.PhotoReal = &photoReal
	req.Alchemy = p.PhotoReal
	if p.PhotoReal && p.PhotoRealVersion != "" {
		req.PhotoRealVersion = p.PhotoRealVersion
	}
	if p.PresetStyle != "" {
		req.PresetStyle = p.PresetStyle
	}
}

// StyleUUIDParams 是 Phoenix 族模型的风格参数。该族没有 photoReal 模式。
type StyleUUIDParams struct {
	StyleUUID string
	Contrast  *float64
}

func (p StyleUUIDParams) Apply(req *GenerationRequest) {
	if p.StyleUUID != "" {
		req.StyleUUID = p.StyleUUID
	}
	if p.Contrast != nil {
		contrast := *p.Contrast
		req.Contrast = &contrast
	}
}
