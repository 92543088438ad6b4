package commands

import (
	"time"

	"github.com/satindergrewal/dubstudio/internal/audio"
	"github.com/satindergrewal/dubstudio/internal/compositor"
	"github.com/satindergrewal/dubstudio/internal/config"
	"github.com/satindergrewal/dubstudio/internal/fetch"
	"github.com/satindergrewal/dubstudio/internal/media"
	"github.com/satindergrewal/dubstudio/internal/metrics"
	"github.com/satindergrewal/dubstudio/internal/recombine"
)

// studio is the wired set of operations shared by the CLI and the server.
type studio struct {
	tools      *media.Toolkit
	fetch      *fetch.Client
	extractor  *media.Extractor
	compositor *compositor.Compositor
	recombiner *recombine.Recombiner
	dubber     *recombine.Dubber
}

// newStudio wires the operations for the server. Sources must be http(s)
// URLs. monitor may be nil; m may be nil.
func newStudio(cfg config.Config, monitor recombine.Monitor, m *metrics.Metrics) *studio {
	return wireStudio(cfg, fetch.NewClient(cfg.FetchTimeout, cfg.WorkDir), monitor, m)
}

// newLocalStudio wires the operations for the CLI, which may also read
// local paths and file:// URLs.
func newLocalStudio(cfg config.Config) *studio {
	return wireStudio(cfg, fetch.NewClient(cfg.FetchTimeout, cfg.WorkDir).AllowLocal(), nil, nil)
}

func wireStudio(cfg config.Config, client *fetch.Client, monitor recombine.Monitor, m *metrics.Metrics) *studio {
	tools := media.NewToolkit(cfg.FFmpeg, cfg.FFprobe, cfg.WorkDir)

	comp := compositor.New(client, audio.NewDecoder(cfg.FFmpeg, cfg.SampleRate), compositor.Options{
		SampleRate:  cfg.SampleRate,
		SlotCeiling: cfg.SlotCeiling,
		Metrics:     m,
	})

	rec := recombine.New(recombine.NewFFmpegPlatform(tools, client), recombine.Options{
		FrameRate:      cfg.FrameRate,
		SyncInterval:   cfg.SyncInterval,
		DriftThreshold: cfg.DriftThreshold,
		SettleDelay:    settleDelay(cfg.SettleDelay),
		Monitor:        monitor,
		Metrics:        m,
	})

	return &studio{
		tools:      tools,
		fetch:      client,
		extractor:  media.NewExtractor(tools, cfg.SampleRate),
		compositor: comp,
		recombiner: rec,
		dubber:     recombine.NewDubber(client, tools, comp, rec, cfg.WorkDir),
	}
}

// settleDelay maps a configured zero ("no tail") to the recombiner's
// negative sentinel; zero there means the default.
func settleDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}
