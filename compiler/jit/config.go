package jit

import (
	"github.com/BurntSushi/toml"
	"tlog.app/go/errors"

	"github.com/slowlang/hirjit/compiler/opt"
)

// Config is decided once at startup.
type Config struct {
	Inliner bool `toml:"inliner"`

	// Debug makes artifacts keep HIR and code for introspection.
	Debug bool `toml:"debug"`

	// DumpHIR logs the function as built and after every pass.
	DumpHIR bool `toml:"dump_hir"`

	// DumpFinalHIR logs the optimized function.
	DumpFinalHIR bool `toml:"dump_final_hir"`

	// DumpDir receives a pass trace per compiled function if set.
	DumpDir    string `toml:"dump_dir"`
	DumpFormat string `toml:"dump_format"`

	// PhaseTimes records a phase timer for every compilation.
	PhaseTimes bool `toml:"phase_times"`

	// Workers limits parallel preloading. 0 means GOMAXPROCS.
	Workers int `toml:"workers"`

	InlineMaxCost int `toml:"inline_max_cost"`
}

func DefaultConfig() Config {
	return Config{
		DumpFormat:    opt.FormatJSON,
		InlineMaxCost: opt.DefaultInlineCost,
	}
}

// LoadConfig reads a TOML file over the defaults.
// Unknown keys are an error.
func LoadConfig(path string) (c Config, err error) {
	c = DefaultConfig()

	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return c, errors.Wrap(err, "decode %v", path)
	}

	if u := md.Undecoded(); len(u) != 0 {
		return c, errors.New("%v: unknown key %v", path, u[0])
	}

	switch c.DumpFormat {
	case "", opt.FormatJSON, opt.FormatCBOR:
	default:
		return c, errors.New("%v: unsupported dump format %q", path, c.DumpFormat)
	}

	return c, nil
}

// PassConfig selects optional passes.
func (c Config) PassConfig() (p opt.PassConfig) {
	if c.Inliner {
		p |= opt.PassInliner
	}

	return p
}
