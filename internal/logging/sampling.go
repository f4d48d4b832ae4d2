package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore applies each level's sampler budget. Error and above, and
// levels without a budget, pass through unsampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	cores := []zapcore.Core{
		&levelFilterCore{Core: core, allow: func(lvl zapcore.Level) bool {
			if lvl >= zapcore.ErrorLevel {
				return true
			}
			_, sampled := cfg.Levels[lvl]
			return !sampled
		}},
	}

	for level, budget := range cfg.Levels {
		if level >= zapcore.ErrorLevel {
			continue
		}
		only := level
		filtered := &levelFilterCore{Core: core, allow: func(lvl zapcore.Level) bool { return lvl == only }}
		cores = append(cores, zapcore.NewSamplerWithOptions(filtered, cfg.Tick.Duration(), budget.Initial, budget.Thereafter))
	}

	return zapcore.NewTee(cores...)
}

// levelFilterCore passes only the levels allow accepts.
type levelFilterCore struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.allow(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), allow: c.allow}
}
