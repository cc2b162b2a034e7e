package xai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// 摘要调用的固定系统提示。给出网址时强制使用联网检索，禁止编造内容。
const summarySystemPrompt = "You are a helpful AI assistant that creates concise, accurate summaries. " +
	"When given a website URL, you MUST use web search to access and read the actual content from that website before summarizing. " +
	"Do not make assumptions or invent any material - only summarize the information actually provided or found through web search. " +
	"Stick strictly to the content available. Aim for the target word count specified by the user."

// 联网检索模式：提供了网址时强制开启，否则交给模型自行判断。
const (
	SearchModeOn   = "on"
	SearchModeAuto = "auto"
)

// SummaryRequest 描述一次摘要请求的输入。
// Website 与 Text 至少要有一个非空，由上游校验。
type SummaryRequest struct {
	Website         string
	Text            string
	TargetWordCount int
}

// SummaryResult 是一次摘要调用的结果。
type SummaryResult struct {
	Summary   string
	Citations []string
}

// chatRequest 手写 xAI 聊天请求体。go-openai 的请求结构无法携带
// search_parameters 扩展字段，这条路径只能自己序列化。
type chatRequest struct {
	Model            string            `json:"model"`
	Messages         []chatMessage     `json:"messages"`
	Stream           bool              `json:"stream"`
	SearchParameters *searchParameters `json:"search_parameters,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchParameters struct {
	Mode            string         `json:"mode"`
	ReturnCitations bool           `json:"returnCitations"`
	Sources         []searchSource `json:"sources"`
}

type searchSource struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// buildSummaryPrompt 按输入组合出三种提示变体之一。
func buildSummaryPrompt(req SummaryRequest) string {
	switch {
	case req.Website != "" && req.Text != "":
		return fmt.Sprintf(
			"Use web search to access and read the content from this website: %s\n\n"+
				"After reading the website content, also consider this additional text:\n%s\n\n"+
				"Create a comprehensive summary that incorporates insights from both the website and the additional text. "+
				"Target approximately %d words.",
			req.Website, req.Text, req.TargetWordCount,
		)
	case req.Website != "":
		return fmt.Sprintf(
			"Use web search to access and read the full content from this website: %s\n\n"+
				"Create a detailed summary of the website's content. Target approximately %d words.",
			req.Website, req.TargetWordCount,
		)
	default:
		return fmt.Sprintf(
			"Please summarize the following text in approximately %d words:\n\n%s",
			req.TargetWordCount, req.Text,
		)
	}
}

// searchMode 决定联网检索模式。
func searchMode(req SummaryRequest) string {
	if req.Website != "" {
		return SearchModeOn
	}
	return SearchModeAuto
}

// Summarize 执行一次同步摘要调用，完整返回文本与引用来源。
// 不分块、不流式；任何非 2xx 响应都会作为错误返回。
func (c *Client) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error) {
	payload := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: buildSummaryPrompt(req)},
		},
		SearchParameters: &searchParameters{
			Mode:            searchMode(req),
			ReturnCitations: true,
			Sources:         []searchSource{{Type: "web"}},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal summary request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build summary request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request summary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, fmt.Errorf("summary request status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode summary response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("summary request failed: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("summary response contained no content")
	}

	return &SummaryResult{
		Summary:   decoded.Choices[0].Message.Content,
		Citations: decoded.Citations,
	}, nil
}
