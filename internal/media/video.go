package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/utils"
)

// VideoSource decodes a video file through ffmpeg as raw RGBA frames.
type VideoSource struct {
	path          string
	width, height int
	fps           float64
	frames        int
}

// NewVideoSource probes path for its geometry, frame rate and length.
func NewVideoSource(ctx context.Context, path string) (*VideoSource, error) {
	w, h, err := utils.GetVideoDimensions(ctx, path)
	if err != nil {
		return nil, err
	}
	fps, err := utils.GetVideoFPS(ctx, path)
	if err != nil {
		return nil, err
	}
	n := utils.GetTotalFrames(ctx, path)
	if n <= 0 {
		n = -1
	}
	return &VideoSource{path: path, width: w, height: h, fps: fps, frames: n}, nil
}

// Len implements pipeline.FrameSource.
func (s *VideoSource) Len() int { return s.frames }

// FPS returns the nominal frame rate.
func (s *VideoSource) FPS() float64 { return s.fps }

// Size returns the frame dimensions.
func (s *VideoSource) Size() (int, int) { return s.width, s.height }

// Open starts a decoder. Each Open reads the video from the beginning.
func (s *VideoSource) Open(ctx context.Context) (pipeline.FrameReader, error) {
	decoder := utils.NewFFmpegRawDecoder(ctx, s.path)
	out, err := decoder.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create decoder pipe: %w", err)
	}
	if err := decoder.Start(); err != nil {
		return nil, fmt.Errorf("start decoder: %w", err)
	}
	return newRawReader(out, s.width, s.height, decoder), nil
}

// rawReader splits a stream of packed RGBA frames.
type rawReader struct {
	r             io.Reader
	width, height int
	cmd           *utils.SafeCommand
	done          bool
}

func newRawReader(r io.Reader, width, height int, cmd *utils.SafeCommand) *rawReader {
	return &rawReader{r: r, width: width, height: height, cmd: cmd}
}

func (r *rawReader) Next() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	_, err := io.ReadFull(r.r, img.Pix)
	switch {
	case err == nil:
		return img, nil
	case errors.Is(err, io.EOF):
		r.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("truncated frame: %w", err)
	}
	return nil, err
}

// Close waits for the decoder. A decoder stopped before the end of the
// stream is killed and its exit status ignored.
func (r *rawReader) Close() error {
	if r.cmd == nil {
		return nil
	}
	if !r.done && r.cmd.Process != nil {
		r.cmd.Process.Kill()
		r.cmd.Wait()
		return nil
	}
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("decoder failed: %w: %s", err, r.cmd.Stderr.String())
	}
	return nil
}

// VideoSink encodes frames into a video file through ffmpeg.
type VideoSink struct {
	cmd           *utils.SafeCommand
	in            io.WriteCloser
	width, height int
	buf           []byte
}

// NewVideoSink starts an encoder writing width x height frames to path.
func NewVideoSink(ctx context.Context, path string, fps float64, width, height int) (*VideoSink, error) {
	cmd := utils.NewFFmpegEncoder(ctx, path, fps, width, height)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return newVideoSink(cmd, in, width, height), nil
}

func newVideoSink(cmd *utils.SafeCommand, in io.WriteCloser, width, height int) *VideoSink {
	return &VideoSink{cmd: cmd, in: in, width: width, height: height, buf: make([]byte, width*height*4)}
}

// WriteFrame implements pipeline.FrameSink. Each frame is sent with a single
// write of the packed pixel buffer.
func (s *VideoSink) WriteFrame(index int, img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("frame %d is %dx%d, encoder expects %dx%d", index, b.Dx(), b.Dy(), s.width, s.height)
	}
	row := s.width * 4
	for y := 0; y < s.height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(s.buf[y*row:(y+1)*row], img.Pix[off:off+row])
	}
	_, err := s.in.Write(s.buf)
	return err
}

// Close flushes the encoder and waits for it to exit.
func (s *VideoSink) Close() error {
	if err := s.in.Close(); err != nil {
		return err
	}
	if s.cmd == nil {
		return nil
	}
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder failed: %w: %s", err, s.cmd.Stderr.String())
	}
	return nil
}
