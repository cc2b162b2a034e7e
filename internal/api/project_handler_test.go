package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"poster/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestContext(t *testing.T, userID uint, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Buffer
	if body != nil {
		reader = bytes.NewBuffer(body)
	} else {
		reader = &bytes.Buffer{}
	}
	c.Request = httptest.NewRequest(method, target, reader)
	if body != nil {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		c.Set("userID", userID)
	}
	return c, w
}

func mustJSON(t *testing.T, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func seedProject(t *testing.T, db *gorm.DB, userID uint, name string) database.Project {
	t.Helper()
	project := database.Project{Name: name, UserID: userID}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return project
}

func TestCreateProject(t *testing.T) {
	db := newTestDB(t)
	h := NewProjectHandler(db, nil, nil)

	body := mustJSON(t, map[string]any{"name": "Poster Drafts", "description": "spring campaign"})
	c, w := newTestContext(t, 1, http.MethodPost, "/v1/projects", body)

	h.CreateProject(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	var created database.Project
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Name != "Poster Drafts" || created.UserID != 1 {
		t.Fatalf("unexpected project %+v", created)
	}
}

func TestListProjects_OnlyOwnNewestFirst(t *testing.T) {
	db := newTestDB(t)
	h := NewProjectHandler(db, nil, nil)

	first := seedProject(t, db, 1, "first")
	second := seedProject(t, db, 1, "second")
	seedProject(t, db, 2, "other user")

	// 保证排序键可区分。
	if err := db.Model(&second).Update("created_at", first.CreatedAt.Add(time.Second)).Error; err != nil {
		t.Fatalf("bump created_at: %v", err)
	}

	c, w := newTestContext(t, 1, http.MethodGet, "/v1/projects", nil)
	h.ListProjects(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	var projects []database.Project
	if err := json.Unmarshal(w.Body.Bytes(), &projects); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects got %d", len(projects))
	}
	if projects[0].Name != "second" {
		t.Fatalf("expected newest first, got %q", projects[0].Name)
	}
}

func TestGetProject_OtherUserGets403(t *testing.T) {
	db := newTestDB(t)
	h := NewProjectHandler(db, nil, nil)
	project := seedProject(t, db, 1, "mine")

	c, w := newTestContext(t, 2, http.MethodGet, "/v1/projects/1", nil)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(project.ID)}}

	h.GetProject(c)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", w.Code)
	}
}

func TestGetProject_MissingGets404(t *testing.T) {
	db := newTestDB(t)
	h := NewProjectHandler(db, nil, nil)

	c, w := newTestContext(t, 1, http.MethodGet, "/v1/projects/999", nil)
	c.Params = gin.Params{{Key: "id", Value: "999"}}

	h.GetProject(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", w.Code)
	}
}

func TestUpdateProject_OtherUserCannotMutate(t *testing.T) {
	db := newTestDB(t)
	h := NewProjectHandler(db, nil, nil)
	project := seedProject(t, db, 1, "mine")

	body := mustJSON(t, map[string]any{"name": "hijacked"})
	c, w := newTestContext(t, 2, http.MethodPatch, "/v1/projects/1", body)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(project.ID)}}

	h.UpdateProject(c)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", w.Code)
	}

	var reloaded database.Project
	if err := db.First(&reloaded, project.ID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if reloaded.Name != "mine" {
		t.Fatalf("project mutated by other user: %q", reloaded.Name)
	}
}

func TestDeleteProject_CascadesToChildren(t *testing.T) {
	db := newTestDB(t)
	enqueuer := &fakeEnqueuer{}
	h := NewProjectHandler(db, newFakeReferenceStore(), enqueuer)
	project := seedProject(t, db, 1, "doomed")

	summary := database.TextSummary{ProjectID: project.ID, UserID: 1}
	if err := db.Create(&summary).Error; err != nil {
		t.Fatalf("seed summary: %v", err)
	}
	imageReq := database.ImageGenerationRequest{ProjectID: project.ID, UserID: 1, Prompt: "p", NumberOfImages: 2}
	if err := db.Create(&imageReq).Error; err != nil {
		t.Fatalf("seed image request: %v", err)
	}
	if err := db.Create(&database.GeneratedImage{ImageGenerationRequestID: imageReq.ID, ImageURL: "u"}).Error; err != nil {
		t.Fatalf("seed generated image: %v", err)
	}
	characterReq := database.CharacterConsistentImageRequest{
		ProjectID: project.ID, UserID: 1, Prompt: "p", StrengthType: database.StrengthMid,
		ReferenceImageURL: "https://cdn.example.invalid/poster/character-reference/1/ref.png",
	}
	if err := db.Create(&characterReq).Error; err != nil {
		t.Fatalf("seed character request: %v", err)
	}
	if err := db.Create(&database.CharacterConsistentGeneratedImage{CharacterConsistentImageRequestID: characterReq.ID, ImageURL: "u"}).Error; err != nil {
		t.Fatalf("seed character image: %v", err)
	}

	c, w := newTestContext(t, 1, http.MethodDelete, "/v1/projects/1", nil)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(project.ID)}}

	h.DeleteProject(c)
	c.Writer.WriteHeaderNow()

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d body=%s", w.Code, w.Body.String())
	}

	if err := db.First(&database.Project{}, project.ID).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("project still present: %v", err)
	}
	var count int64
	db.Model(&database.TextSummary{}).Where("project_id = ?", project.ID).Count(&count)
	if count != 0 {
		t.Fatalf("summaries not deleted: %d", count)
	}
	db.Model(&database.GeneratedImage{}).Count(&count)
	if count != 0 {
		t.Fatalf("generated images not deleted: %d", count)
	}
	db.Model(&database.CharacterConsistentGeneratedImage{}).Count(&count)
	if count != 0 {
		t.Fatalf("character images not deleted: %d", count)
	}
	if len(enqueuer.enqueued) != 1 {
		t.Fatalf("expected reference cleanup task, got %d", len(enqueuer.enqueued))
	}

	// 再次访问返回 404。
	c2, w2 := newTestContext(t, 1, http.MethodGet, "/v1/projects/1", nil)
	c2.Params = gin.Params{{Key: "id", Value: fmt.Sprint(project.ID)}}
	h.GetProject(c2)
	if w2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete got %d", w2.Code)
	}
}
