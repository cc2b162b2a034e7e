package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"poster/internal/database"
)

type fakeImageGenerator struct {
	urls        []string
	generateErr error
	nameCalls   int
	lastPrompt  string
}

func (f *fakeImageGenerator) GenerateImages(_ context.Context, prompt string, n int) ([]string, error) {
	f.lastPrompt = prompt
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	urls := make([]string, 0, n)
	for i := 0; i < n; i++ {
		urls = append(urls, fmt.Sprintf("https://img.example.invalid/%d.png", i))
	}
	if f.urls != nil {
		return f.urls, nil
	}
	return urls, nil
}

func (f *fakeImageGenerator) GenerateName(_ context.Context, _, _ string) (string, error) {
	f.nameCalls++
	return "Fresh Title", nil
}

func TestCreateImageRequest_CreatesExactlyNChildren(t *testing.T) {
	db := newTestDB(t)
	gen := &fakeImageGenerator{}
	h := NewImageHandler(db, gen, nil, 0)
	project := seedProject(t, db, 1, "p")

	body := mustJSON(t, map[string]any{"projectId": project.ID, "prompt": "a red fox", "numberOfImages": 3})
	c, w := newTestContext(t, 1, http.MethodPost, "/v1/image-generations", body)

	h.CreateImageRequest(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	var created database.ImageGenerationRequest
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(created.GeneratedImages) != 3 {
		t.Fatalf("expected 3 images got %d", len(created.GeneratedImages))
	}
	if created.Name == nil || *created.Name != "Fresh Title" {
		t.Fatalf("unexpected name %v", created.Name)
	}
}

func TestCreateImageRequest_RejectsOutOfRangeCount(t *testing.T) {
	db := newTestDB(t)
	h := NewImageHandler(db, &fakeImageGenerator{}, nil, 0)
	project := seedProject(t, db, 1, "p")

	for _, n := range []int{0, 11, -1} {
		body := mustJSON(t, map[string]any{"projectId": project.ID, "prompt": "x", "numberOfImages": n})
		c, w := newTestContext(t, 1, http.MethodPost, "/v1/image-generations", body)
		h.CreateImageRequest(c)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("numberOfImages=%d: expected 400 got %d", n, w.Code)
		}
	}
}

func TestCreateImageRequest_FailureKeepsParentWithoutChildren(t *testing.T) {
	db := newTestDB(t)
	gen := &fakeImageGenerator{generateErr: errors.New("upstream down")}
	h := NewImageHandler(db, gen, nil, 0)
	project := seedProject(t, db, 1, "p")

	body := mustJSON(t, map[string]any{"projectId": project.ID, "prompt": "a red fox", "numberOfImages": 2})
	c, w := newTestContext(t, 1, http.MethodPost, "/v1/image-generations", body)

	h.CreateImageRequest(c)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", w.Code)
	}

	var requests []database.ImageGenerationRequest
	if err := db.Find(&requests).Error; err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected parent row to survive, got %d rows", len(requests))
	}
	var count int64
	db.Model(&database.GeneratedImage{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected zero children got %d", count)
	}
}

func TestUpdateImageRequest_RegeneratesNameOnlyWhenPromptChanges(t *testing.T) {
	db := newTestDB(t)
	gen := &fakeImageGenerator{}
	h := NewImageHandler(db, gen, nil, 0)
	project := seedProject(t, db, 1, "p")

	oldName := "Old Title"
	request := database.ImageGenerationRequest{
		ProjectID: project.ID, UserID: 1, Name: &oldName,
		Prompt: "same prompt", NumberOfImages: 1,
	}
	if err := db.Create(&request).Error; err != nil {
		t.Fatalf("seed request: %v", err)
	}

	// 提示词未变：名字保持不变。
	body := mustJSON(t, map[string]any{"prompt": "same prompt", "numberOfImages": 2})
	c, w := newTestContext(t, 1, http.MethodPut, "/v1/image-generations/1", body)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(request.ID)}}
	h.UpdateImageRequest(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if gen.nameCalls != 0 {
		t.Fatalf("name regenerated without prompt change: %d calls", gen.nameCalls)
	}

	// 提示词变化：名字重算。
	body = mustJSON(t, map[string]any{"prompt": "new prompt", "numberOfImages": 2})
	c, w = newTestContext(t, 1, http.MethodPut, "/v1/image-generations/1", body)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(request.ID)}}
	h.UpdateImageRequest(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	if gen.nameCalls != 1 {
		t.Fatalf("expected exactly one name call got %d", gen.nameCalls)
	}

	var reloaded database.ImageGenerationRequest
	if err := db.First(&reloaded, request.ID).Error; err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if reloaded.Name == nil || *reloaded.Name != "Fresh Title" {
		t.Fatalf("unexpected name %v", reloaded.Name)
	}
}

func TestUpdateImageRequest_FailureKeepsOldImages(t *testing.T) {
	db := newTestDB(t)
	gen := &fakeImageGenerator{generateErr: errors.New("upstream down")}
	h := NewImageHandler(db, gen, nil, 0)
	project := seedProject(t, db, 1, "p")

	request := database.ImageGenerationRequest{ProjectID: project.ID, UserID: 1, Prompt: "old", NumberOfImages: 1}
	if err := db.Create(&request).Error; err != nil {
		t.Fatalf("seed request: %v", err)
	}
	if err := db.Create(&database.GeneratedImage{ImageGenerationRequestID: request.ID, ImageURL: "keep-me"}).Error; err != nil {
		t.Fatalf("seed image: %v", err)
	}

	body := mustJSON(t, map[string]any{"prompt": "new", "numberOfImages": 1})
	c, w := newTestContext(t, 1, http.MethodPut, "/v1/image-generations/1", body)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(request.ID)}}

	h.UpdateImageRequest(c)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", w.Code)
	}

	var images []database.GeneratedImage
	if err := db.Where("image_generation_request_id = ?", request.ID).Find(&images).Error; err != nil {
		t.Fatalf("list images: %v", err)
	}
	if len(images) != 1 || images[0].ImageURL != "keep-me" {
		t.Fatalf("old images were not preserved: %+v", images)
	}

	var reloaded database.ImageGenerationRequest
	if err := db.First(&reloaded, request.ID).Error; err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if reloaded.Prompt != "old" {
		t.Fatalf("prompt updated despite failure: %q", reloaded.Prompt)
	}
}

func TestDeleteImageRequest_RemovesChildren(t *testing.T) {
	db := newTestDB(t)
	h := NewImageHandler(db, &fakeImageGenerator{}, nil, 0)
	project := seedProject(t, db, 1, "p")

	request := database.ImageGenerationRequest{ProjectID: project.ID, UserID: 1, Prompt: "x", NumberOfImages: 1}
	if err := db.Create(&request).Error; err != nil {
		t.Fatalf("seed request: %v", err)
	}
	if err := db.Create(&database.GeneratedImage{ImageGenerationRequestID: request.ID, ImageURL: "u"}).Error; err != nil {
		t.Fatalf("seed image: %v", err)
	}

	c, w := newTestContext(t, 1, http.MethodDelete, "/v1/image-generations/1", nil)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(request.ID)}}

	h.DeleteImageRequest(c)
	c.Writer.WriteHeaderNow()

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", w.Code)
	}
	var count int64
	db.Model(&database.GeneratedImage{}).Count(&count)
	if count != 0 {
		t.Fatalf("children not removed: %d", count)
	}
}
