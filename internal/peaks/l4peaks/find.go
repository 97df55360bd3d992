package l4peaks

import (
	"image"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
)

// Find runs detection, localization, duplicate suppression and
// integration for one frame region. detect is the image candidates are
// found on (the DoG image, or raw when filtering is off); raw is used for
// fitting and integration. Candidates come from region only; integration
// mirrors at sample, which is the bounding rectangle of the whole
// analysed region when region is one grid cell. Every returned peak
// carries frame and channel.
func Find(raw, detect l1frames.PixelBuffer, region l1frames.RegionMask, sample image.Rectangle, frame int64, channel int, cfg Config) ([]Peak, DetectionStats) {
	var stats DetectionStats

	cands := Candidates(detect, region, frame, cfg.Detection)
	stats.Candidates = int64(len(cands))
	peaks := Suppress(cands, cfg.Detection.MinSeparation)

	peaks, rejected := Localize(raw, peaks, cfg.Fit, cfg.Detection.DogRadius)
	stats.FitRejected = int64(rejected)

	peaks = Suppress(peaks, cfg.Detection.MinSeparation)
	stats.Suppressed = stats.Candidates - stats.FitRejected - int64(len(peaks))

	Integrate(raw, sample, peaks, cfg.Integration)
	for i := range peaks {
		peaks[i].Channel = channel
	}
	stats.Peaks = int64(len(peaks))
	tracef("frame %d: %s", frame, stats)
	return peaks, stats
}
