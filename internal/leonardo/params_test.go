package leonardo

import "testing"

func TestPresetStyleParams_ForcesAlchemyToMatchPhotoReal(t *testing.T) {
	req := GenerationRequest{Alchemy: true}
	PresetStyleParams{PhotoReal: false, PhotoRealVersion: "v2", PresetStyle: "CINEMATIC"}.Apply(&req)

	if req.PhotoReal == nil || *req.PhotoReal {
		t.Fatalf("expected photoReal false, got %v", req.PhotoReal)
	}
	if req.Alchemy {
		t.Fatal("alchemy must follow photoReal")
	}
	if req.PhotoRealVersion != "" {
		t.Fatalf("photoRealVersion should be empty when photoReal is off, got %q", req.PhotoRealVersion)
	}
	if req.PresetStyle != "CINEMATIC" {
		t.Fatalf("unexpected presetStyle %q", req.PresetStyle)
	}
}

func TestPresetStyleParams_PhotoRealOn(t *testing.T) {
	req := GenerationRequest{}
	PresetStyleParams{PhotoReal: true, PhotoRealVersion: "v2"}.Apply(&req)

	if req.PhotoReal == nil || !*req.PhotoReal {
		t.Fatalf("expected photoReal true, got %v", req.PhotoReal)
	}
	if !req.Alchemy {
		t.Fatal("alchemy must follow photoReal")
	}
	if req.PhotoRealVersion != "v2" {
		t.Fatalf("unexpected photoRealVersion %q", req.PhotoRealVersion)
	}
}

func TestStyleUUIDParams_Apply(t *testing.T) {
	contrast := 3.5
	req := GenerationRequest{Alchemy: true}
	StyleUUIDParams{StyleUUID: "uuid-1", Contrast: &contrast}.Apply(&req)

	if req.StyleUUID != "uuid-1" {
		t.Fatalf("unexpected styleUUID %q", req.StyleUUID)
	}
	if req.Contrast == nil || *req.Contrast != 3.5 {
		t.Fatalf("unexpected contrast %v", req.Contrast)
	}
	if req.PhotoReal != nil {
		t.Fatal("styleUUID family must not set photoReal")
	}
	if !req.Alchemy {
		t.Fatal("styleUUID family must not touch alchemy")
	}
}
