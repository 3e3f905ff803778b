package binding

import (
	"context"
	"fmt"

	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/logging"
)

// Select picks the binding strategy once, at startup. "auto" uses source
// names when source directories are configured and index cleanly, and
// declared names otherwise.
func Select(cfg config.BindingConfig, logger logging.Logger) (Binder, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()
	opts := []Option{WithMaxDepth(cfg.MaxDepth)}

	switch cfg.Strategy {
	case config.StrategyDeclared:
		return NewDeclared(opts...), nil

	case config.StrategySource:
		if len(cfg.SourceDirs) == 0 {
			return nil, fmt.Errorf("source strategy needs binding.source_dirs")
		}
		idx, err := NewSourceIndex(cfg.SourceDirs)
		if err != nil {
			return nil, err
		}
		logger.Info(ctx, "source index built", "files", idx.Files(), "methods", idx.Len())
		return NewSource(idx, opts...), nil

	case config.StrategyAuto, "":
		if len(cfg.SourceDirs) > 0 {
			idx, err := NewSourceIndex(cfg.SourceDirs)
			if err == nil && idx.Len() > 0 {
				logger.Info(ctx, "binding strategy selected", "strategy", StrategySource, "methods", idx.Len())
				return NewSource(idx, opts...), nil
			}
			logger.Warn(ctx, err, "source index unusable, using declared names", "dirs", cfg.SourceDirs)
		}
		logger.Info(ctx, "binding strategy selected", "strategy", StrategyDeclared)
		return NewDeclared(opts...), nil

	default:
		return nil, fmt.Errorf("unknown binding strategy %q", cfg.Strategy)
	}
}
