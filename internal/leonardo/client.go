// Package leonardo 封装 Leonardo 图像生成 API：
// 参考图预签名上传、controlnet 生成任务提交与状态轮询。
package leonardo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"poster/internal/config"
)

// Client 是 Leonardo REST API 的薄封装。进程启动时创建一次并注入。
type Client struct {
	httpClient      *http.Client
	apiKey          string
	baseURL         string
	pollInterval    time.Duration
	pollMaxAttempts int
}

// NewClient 构造 Leonardo 客户端。
func NewClient(cfg config.LeonardoConfig) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval:    cfg.PollInterval,
		pollMaxAttempts: cfg.PollMaxAttempts,
	}
}

// InitImage 是 /init-image 返回的预签名上传槽位。
// 后续生成调用引用的是这里的 ID，而不是我们自己存储里的 URL。
type InitImage struct {
	ID        string
	UploadURL string
	Fields    map[string]string
}

type initImageResponse struct {
	UploadInitImage struct {
		ID     string `json:"id"`
		URL    string `json:"url"`
		Fields string `json:"fields"`
	} `json:"uploadInitImage"`
}

// CreateInitImage 按文件扩展名申请一个预签名上传槽位。
func (c *Client) CreateInitImage(ctx context.Context, extension string) (*InitImage, error) {
	body, err := json.Marshal(map[string]string{"extension": extension})
	if err != nil {
		return nil, fmt.Errorf("marshal init image request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/init-image", body)
	if err != nil {
		return nil, fmt.Errorf("request presigned upload: %w", err)
	}

	var decoded initImageResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode init image response: %w", err)
	}
	if decoded.UploadInitImage.ID == "" || decoded.UploadInitImage.URL == "" {
		return nil, fmt.Errorf("init image response missing id or url")
	}

	// fields 是一个嵌套的 JSON 字符串，需要二次解析。
	fields := map[string]string{}
	if raw := decoded.UploadInitImage.Fields; raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("decode init image fields: %w", err)
		}
	}

	return &InitImage{
		ID:        decoded.UploadInitImage.ID,
		UploadURL: decoded.UploadInitImage.URL,
		Fields:    fields,
	}, nil
}

// UploadReferenceBytes 把参考图原始字节按预签名槽位要求的字段集上传到目标存储。
// 字段顺序有讲究：file 必须放在最后。
func (c *Client) UploadReferenceBytes(ctx context.Context, init *InitImage, filename string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key, value := range init.Fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("write upload field %q: %w", key, err)
		}
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create upload file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write upload file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close upload writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, init.UploadURL, &buf)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload reference image: %w", err)
	}
	defer resp.Body.Close()

	// S3 表单上传成功时通常返回 204。
	if resp.StatusCode != http.StatusNoContent && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return fmt.Errorf("upload reference image status %d", resp.StatusCode)
	}
	return nil
}

// Controlnet 把上传好的参考图绑定到生成任务上。
type Controlnet struct {
	InitImageID    string `json:"initImageId"`
	InitImageType  string `json:"initImageType"`
	PreprocessorID int    `json:"preprocessorId"`
	StrengthType   string `json:"strengthType"`
}

// GenerationRequest 是 /generations 的请求体。
// 风格字段按模型族二选一，由 StyleParams 填充。
type GenerationRequest struct {
	Height      int          `json:"height"`
	Width       int          `json:"width"`
	ModelID     string       `json:"modelId"`
	Prompt      string       `json:"prompt"`
	Alchemy     bool         `json:"alchemy"`
	NumImages   int          `json:"num_images"`
	Controlnets []Controlnet `json:"controlnets"`

	PhotoReal        *bool    `json:"photoReal,omitempty"`
	PhotoRealVersion string   `json:"photoRealVersion,omitempty"`
	PresetStyle      string   `json:"presetStyle,omitempty"`
	StyleUUID        string   `json:"styleUUID,omitempty"`
	Contrast         *float64 `json:"contrast,omitempty"`
}

type createGenerationResponse struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
}

// CreateGeneration 提交生成任务并返回任务 ID。
func (c *Client) CreateGeneration(ctx context.Context, req GenerationRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/generations", body)
	if err != nil {
		return "", fmt.Errorf("image generation request failed: %w", err)
	}

	var decoded createGenerationResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	if decoded.SDGenerationJob.GenerationID == "" {
		return "", fmt.Errorf("generation response missing generation id")
	}
	return decoded.SDGenerationJob.GenerationID, nil
}

// GeneratedImage 是远端任务产出的单张图片描述。
type GeneratedImage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Generation 是一次任务状态查询的结果。
type Generation struct {
	Status string           `json:"status"`
	Images []GeneratedImage `json:"generated_images"`
}

type getGenerationResponse struct {
	GenerationsByPK *Generation `json:"generations_by_pk"`
}

// GetGeneration 查询生成任务的当前状态。
func (c *Client) GetGeneration(ctx context.Context, generationID string) (*Generation, error) {
	data, err := c.do(ctx, http.MethodGet, "/generations/"+generationID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check generation status: %w", err)
	}

	var decoded getGenerationResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode generation status: %w", err)
	}
	if decoded.GenerationsByPK == nil {
		return nil, fmt.Errorf("generation %q not found", generationID)
	}
	return decoded.GenerationsByPK, nil
}

// Generate 提交生成任务并轮询直至终态，返回完成的任务。
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (*Generation, error) {
	generationID, err := c.CreateGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.WaitForGeneration(ctx, generationID)
}

// WaitForGeneration 按客户端配置的间隔与次数轮询任务直至终态。
func (c *Client) WaitForGeneration(ctx context.Context, generationID string) (*Generation, error) {
	return pollUntilTerminal(ctx, c.pollInterval, c.pollMaxAttempts, func(ctx context.Context) (*Generation, error) {
		return c.GetGeneration(ctx, generationID)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
