package core

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Default time scales used when nothing else is configured.
const (
	DefaultMovieTimeScale int32 = 600
	DefaultVideoTimeScale int32 = 600
	DefaultAudioTimeScale int32 = 44100
	DefaultTextTimeScale  int32 = 600
)

// Options configures the engine once per process.
type Options struct {
	Logger         *logrus.Logger
	MovieTimeScale int32 // time scale of empty movies
	VideoTimeScale int32 // media time scale of new video tracks
	AudioTimeScale int32
	TextTimeScale  int32
}

var (
	enterOnce sync.Once
	entered   bool
	settings  = Options{
		MovieTimeScale: DefaultMovieTimeScale,
		VideoTimeScale: DefaultVideoTimeScale,
		AudioTimeScale: DefaultAudioTimeScale,
		TextTimeScale:  DefaultTextTimeScale,
	}
	log = discardLogger()
)

// Enter initializes the engine. Only the first call has any effect; every
// Movie constructor fails with ErrNotEntered until Enter has run.
func Enter(opts Options) {
	enterOnce.Do(func() {
		if opts.Logger != nil {
			log = opts.Logger.WithField("component", "core")
		}
		if opts.MovieTimeScale > 0 {
			settings.MovieTimeScale = opts.MovieTimeScale
		}
		if opts.VideoTimeScale > 0 {
			settings.VideoTimeScale = opts.VideoTimeScale
		}
		if opts.AudioTimeScale > 0 {
			settings.AudioTimeScale = opts.AudioTimeScale
		}
		if opts.TextTimeScale > 0 {
			settings.TextTimeScale = opts.TextTimeScale
		}
		entered = true
		log.Debugf("engine entered (movie scale %d, video %d, audio %d, text %d)",
			settings.MovieTimeScale, settings.VideoTimeScale, settings.AudioTimeScale, settings.TextTimeScale)
	})
}

func checkEntered(op string) error {
	if !entered {
		return &UsageError{Op: op, Err: ErrNotEntered}
	}
	return nil
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
