package logging

import (
	"sort"

	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with per-level sampling. Each configured level
// below Error gets its own sampler; Error and above always pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	sampled := make(map[zapcore.Level]LevelSamplingConfig, len(cfg.Levels))
	for name, lc := range cfg.Levels {
		lvl, err := LevelFromString(name)
		if err != nil || lvl >= zapcore.ErrorLevel {
			continue
		}
		sampled[lvl] = lc
	}
	if len(sampled) == 0 {
		return core
	}

	levels := make([]zapcore.Level, 0, len(sampled))
	for lvl := range sampled {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	cores := make([]zapcore.Core, 0, len(levels)+1)
	for _, lvl := range levels {
		lc := sampled[lvl]
		cores = append(cores, zapcore.NewSamplerWithOptions(
			&levelRangeCore{Core: core, min: lvl, max: lvl},
			cfg.Tick,
			lc.Initial,
			lc.Thereafter,
		))
	}
	cores = append(cores, &levelRangeCore{
		Core:    core,
		exclude: sampled,
	})
	return zapcore.NewTee(cores...)
}

// levelRangeCore passes entries whose level is within [min, max], or, when
// exclude is set, entries whose level is not in exclude.
type levelRangeCore struct {
	zapcore.Core
	min, max zapcore.Level
	exclude  map[zapcore.Level]LevelSamplingConfig
}

func (c *levelRangeCore) Enabled(lvl zapcore.Level) bool {
	if c.exclude != nil {
		if _, ok := c.exclude[lvl]; ok {
			return false
		}
	} else if lvl < c.min || lvl > c.max {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelRangeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With creates a child core that preserves level filtering.
func (c *levelRangeCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelRangeCore{
		Core:    c.Core.With(fields),
		min:     c.min,
		max:     c.max,
		exclude: c.exclude,
	}
}
