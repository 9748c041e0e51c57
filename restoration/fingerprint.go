package restoration

import (
	"encoding/binary"
	"encoding/json"
	"image"

	"layerforge/core"
)

// fingerprintInput is the canonical, field-ordered form hashed into a cache
// key. Two requests collide exactly when every input that can influence the
// output matches.
type fingerprintInput struct {
	Op             string   `json:"op"`
	Engine         string   `json:"engine"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Steps          int      `json:"steps"`
	GuidanceScale  float64  `json:"guidance_scale"`
	Strength       float64  `json:"strength"`
	Seed           int64    `json:"seed"`
	ImageHash      string   `json:"image_hash"`
	MaskHash       string   `json:"mask_hash"`
	Extra          []string `json:"extra,omitempty"`
}

// fingerprint derives the cache key for one pipeline operation. params must
// already carry engine defaults so equivalent requests hash equally. extra
// carries op-specific inputs (boxes, hint points, layer counts) as
// pre-formatted strings in a fixed order.
func fingerprint(op string, engine Engine, params Params, img *image.RGBA, mask *image.Gray, extra ...string) string {
	in := fingerprintInput{
		Op:             op,
		Engine:         string(engine),
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Steps:          params.Steps,
		GuidanceScale:  params.GuidanceScale,
		Strength:       params.Strength,
		Seed:           params.Seed,
		ImageHash:      hashRGBA(img),
		MaskHash:       hashGray(mask),
		Extra:          extra,
	}
	blob, _ := json.Marshal(in)
	return core.SHA256Bytes(blob)
}

// hashRGBA hashes dimensions plus raw pixel bytes.
func hashRGBA(img *image.RGBA) string {
	if img == nil {
		return ""
	}
	b := img.Bounds()
	head := make([]byte, 8, 8+len(img.Pix))
	binary.BigEndian.PutUint32(head[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(head[4:8], uint32(b.Dy()))
	return core.SHA256Bytes(append(head, img.Pix...))
}

func hashGray(mask *image.Gray) string {
	if mask == nil {
		return ""
	}
	b := mask.Bounds()
	head := make([]byte, 8, 8+len(mask.Pix))
	binary.BigEndian.PutUint32(head[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(head[4:8], uint32(b.Dy()))
	return core.SHA256Bytes(append(head, mask.Pix...))
}
