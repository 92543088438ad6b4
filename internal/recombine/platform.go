package recombine

import (
	"context"

	"github.com/satindergrewal/dubstudio/internal/audio"
	"github.com/satindergrewal/dubstudio/internal/fetch"
	"github.com/satindergrewal/dubstudio/internal/media"
)

// FFmpegPlatform opens sources and recorders with the local ffmpeg.
// Remote videos are downloaded to temp files for the length of a session;
// audio is decoded fully into memory at the monitor rate.
type FFmpegPlatform struct {
	tools   *media.Toolkit
	fetch   *fetch.Client
	decoder *audio.Decoder
}

// NewFFmpegPlatform creates the production platform.
func NewFFmpegPlatform(tools *media.Toolkit, client *fetch.Client) *FFmpegPlatform {
	return &FFmpegPlatform{
		tools:   tools,
		fetch:   client,
		decoder: audio.NewDecoder(tools.FFmpeg, audio.SampleRate),
	}
}

type videoFile struct {
	*media.FrameReader
	cleanup func()
}

func (v *videoFile) Close() error {
	err := v.FrameReader.Close()
	v.cleanup()
	return err
}

// OpenVideo downloads url if needed and starts decoding frames.
func (p *FFmpegPlatform) OpenVideo(ctx context.Context, url string, frameRate int) (VideoSource, error) {
	path, cleanup, err := p.fetch.Download(ctx, url)
	if err != nil {
		return nil, &media.LoadError{Source: url, Err: err}
	}
	fr, err := p.tools.OpenFrames(ctx, path, frameRate)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &videoFile{FrameReader: fr, cleanup: cleanup}, nil
}

// OpenAudio fetches and decodes url into a paused player.
func (p *FFmpegPlatform) OpenAudio(ctx context.Context, url string) (AudioSource, error) {
	data, err := p.fetch.Fetch(ctx, url)
	if err != nil {
		return nil, &media.LoadError{Source: url, Err: err}
	}
	buf, err := p.decoder.DecodeBytes(ctx, data, audio.Channels)
	if err != nil {
		return nil, &media.LoadError{Source: url, Err: err}
	}
	return audio.NewPlayer(buf), nil
}

// StartRecorder launches an ffmpeg WebM recorder.
func (p *FFmpegPlatform) StartRecorder(ctx context.Context, cfg media.RecorderConfig) (Recorder, error) {
	rec, err := p.tools.StartRecorder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
