package pipeline

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/capture"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"github.com/bryanchriswhite/riverwatch/internal/sink"
)

// preferredModels are tried in order when open_modeling is set.
var preferredModels = []string{"mog2", capture.DiffModelName}

// Build assembles a pipeline from configuration using the registered
// capture backends and the configured sinks.
func Build(cfg config.CameraConfig, loc *time.Location, bcast *alarm.Broadcaster) (*Pipeline, error) {
	cfg.ApplyDefaults()
	log := logger.WithCamera("pipeline", cfg.ID)

	src, err := capture.NewSource(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", cfg.ID, err)
	}

	var model capture.BackgroundModel
	if cfg.OpenModeling {
		for _, name := range preferredModels {
			if model, err = capture.NewModel(name); err == nil {
				log.Debug().Str("model", name).Msg("Background model ready")
				break
			}
		}
		if model == nil {
			log.Warn().Msg("No background model available, foreground disabled")
		}
	}

	out, err := sink.NewFromConfig(cfg.Sink)
	if err != nil {
		log.Warn().Err(err).Str("sink", out.Name()).Msg("Some sinks could not be built")
	}

	return New(cfg, Options{
		Source:      src,
		Model:       model,
		Sink:        out,
		Broadcaster: bcast,
		Location:    loc,
	})
}
