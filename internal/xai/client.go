// Package xai 封装对 xAI (Grok) API 的调用：命名、摘要与文生图。
package xai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"poster/internal/config"
)

const defaultTimeout = 120 * time.Second

// 命名助手的固定系统提示，约束模型只返回标题本身。
const namingSystemPrompt = "You are a helpful assistant that creates very short, descriptive titles. " +
	"Return ONLY the title text, nothing else. Maximum 20 characters."

const (
	// 喂给命名模型的内容前缀长度上限，避免请求体失控。
	nameSubjectLimit = 200
	// 持久化标题的长度上限。
	nameLengthLimit = 50
)

// Client 持有一个 go-openai 客户端用于标准端点，
// 以及一个原生 HTTP 客户端用于 xAI 的私有扩展（search_parameters）。
type Client struct {
	api         *openai.Client
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	chatModel   string
	namingModel string
	imageModel  string
}

// NewClient 构造 xAI 客户端。进程启动时创建一次，按引用注入各 handler。
func NewClient(cfg config.XAIConfig) *Client {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	apiConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		api:         openai.NewClientWithConfig(apiConfig),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		chatModel:   cfg.ChatModel,
		namingModel: cfg.NamingModel,
		imageModel:  cfg.ImageModel,
	}
}

// truncate 按 rune 截断，保证多字节内容不会被切坏。
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// NameImagePrompt 构造文生图请求的命名提示。
func NameImagePrompt(prompt string) string {
	return "Create a brief, descriptive title (20 characters or less) for images that will be generated from this prompt: " +
		truncate(prompt, nameSubjectLimit)
}

// NameCharacterPrompt 构造参考图条件生成请求的命名提示。
func NameCharacterPrompt(prompt string) string {
	return "Create a brief, descriptive title (20 characters or less) for a character-consistent image generation with this prompt: " +
		truncate(prompt, nameSubjectLimit)
}

// NameSummaryPrompt 构造文本摘要请求的命名提示，按提供的输入拼出三种变体之一。
func NameSummaryPrompt(website, text string) string {
	prompt := "Create a brief, descriptive title (20 characters or less) for this content: "
	switch {
	case website != "" && text != "":
		prompt += fmt.Sprintf("Website: %s, Text: %s", website, truncate(text, nameSubjectLimit))
	case website != "":
		prompt += "Website: " + website
	default:
		prompt += truncate(text, nameSubjectLimit)
	}
	return prompt
}

// GenerateName 调用命名模型生成短标题。
// 空结果回落到 fallback；结果最长 50 字符。调用失败直接返回错误，不做重试。
func (c *Client) GenerateName(ctx context.Context, namePrompt, fallback string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.namingModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: namingSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: namePrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate name: %w", err)
	}

	name := fallback
	if len(resp.Choices) > 0 {
		if content := strings.TrimSpace(resp.Choices[0].Message.Content); content != "" {
			name = content
		}
	}
	return truncate(name, nameLengthLimit), nil
}

// GenerateImages 调用文生图端点，按 URL 形式返回 n 张图片。
func (c *Client) GenerateImages(ctx context.Context, prompt string, n int) ([]string, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              n,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("generate images: %w", err)
	}

	urls := make([]string, 0, len(resp.Data))
	for _, item := range resp.Data {
		urls = append(urls, item.URL)
	}
	return urls, nil
}
