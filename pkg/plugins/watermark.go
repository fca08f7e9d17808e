package plugins

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/loomengine/loom/pkg/engine"
)

// WatermarkSection is the name of the custom section the watermark plugin
// stamps into rewritten modules.
const WatermarkSection = "loom.watermark"

// Watermark is the payload stored in the watermark section.
type Watermark struct {
	Engine    string    `json:"engine"`
	Version   string    `json:"version"`
	StampedAt time.Time `json:"stamped_at"`
}

// WatermarkPlugin stamps every instrumented module with a custom section
// recording which engine version rewrote it. Already-stamped modules are
// left alone, so the rule is idempotent across retransformation.
type WatermarkPlugin struct {
	version string
	logger  zerolog.Logger
	now     func() time.Time
}

var (
	_ engine.Plugin             = (*WatermarkPlugin)(nil)
	_ engine.CapabilityDeclarer = (*WatermarkPlugin)(nil)
)

// NewWatermarkPlugin creates the watermark plugin for the given engine
// version string.
func NewWatermarkPlugin(version string, logger zerolog.Logger) *WatermarkPlugin {
	return &WatermarkPlugin{
		version: version,
		logger:  logger.With().Str("component", "watermark-plugin").Logger(),
		now:     time.Now,
	}
}

func (p *WatermarkPlugin) Name() string    { return "loom.watermark" }
func (p *WatermarkPlugin) Version() string { return p.version }

// Capabilities declares what the plugin does to module bytes; admission
// policies gate on these.
func (p *WatermarkPlugin) Capabilities() []string {
	return []string{"append-section"}
}

// ContributeRules contributes the single stamping rule.
func (p *WatermarkPlugin) ContributeRules() ([]engine.Rule, error) {
	return []engine.Rule{{
		Name: "watermark.stamp",
		Matches: func(u engine.TypeUnit) bool {
			return !HasCustomSection(u.Bytecode, WatermarkSection)
		},
		Transform: p.stamp,
	}}, nil
}

func (p *WatermarkPlugin) stamp(u engine.TypeUnit) ([]byte, error) {
	payload, err := json.Marshal(Watermark{
		Engine:    "loom",
		Version:   p.version,
		StampedAt: p.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	out, err := AppendCustomSection(u.Bytecode, WatermarkSection, payload)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().Str("unit", u.Name).Msg("Module watermarked")
	return out, nil
}

// ReadWatermark extracts the watermark from a module, if present.
func ReadWatermark(wasm []byte) (*Watermark, bool) {
	payload := CustomSection(wasm, WatermarkSection)
	if payload == nil {
		return nil, false
	}
	var wm Watermark
	if err := json.Unmarshal(payload, &wm); err != nil {
		return nil, false
	}
	return &wm, true
}
