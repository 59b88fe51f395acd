package relay

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/zentalk-streams/pkg/buffer"
	"github.com/ZentaChain/zentalk-streams/pkg/logging"
)

// MaxFrameSize bounds a single newline-delimited frame
const MaxFrameSize = 4 << 20

// PipelineConfig configures Run
type PipelineConfig struct {
	BufferSize int  // frames held between decoding and writing
	Strict     bool // stop at the first frame that fails to translate
	Class      Class
	Logger     *zap.Logger
}

// Stats counts the frames handled by Run
type Stats struct {
	Read    int64
	Written int64
	Failed  int64
}

// Run reads newline-delimited frames from r, translates them and writes them
// to w, one per line. Translation and writing run concurrently, connected by
// a bounded buffer so a slow writer holds back the reader. Frames that fail to
// translate are skipped and logged unless cfg.Strict is set.
//
// Reading happens in the background: Run returns as soon as ctx is cancelled,
// even while a read on r is blocked. That read finishes on its own, and its
// frame is dropped.
func (t *Translator) Run(ctx context.Context, r io.Reader, w io.Writer, cfg PipelineConfig) (Stats, error) {
	logger := logging.OrNop(cfg.Logger)
	frames := buffer.New[[]byte](cfg.BufferSize)

	var read, written, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	lines := buffer.NewPullBuffer(ctx, scanFrames(r), cfg.BufferSize)

	g.Go(func() (err error) {
		defer func() { frames.End(err) }()

		for line, err := range lines.All(ctx) {
			if err != nil {
				return err
			}
			n := read.Add(1)

			out, class, err := t.Translate(line, cfg.Class)
			if err != nil {
				failed.Add(1)
				if cfg.Strict {
					return fmt.Errorf("frame %d: %w", n, err)
				}
				logger.Warn("Skipping frame",
					zap.Int64("frame", n),
					zap.String("class", string(class)),
					zap.Error(err))
				continue
			}

			ok, err := frames.Push(ctx, out)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		return nil
	})

	g.Go(func() error {
		bw := bufio.NewWriter(w)
		for frame, err := range frames.All(ctx) {
			if err != nil {
				return err
			}
			if _, err := bw.Write(frame); err != nil {
				return err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
			written.Add(1)
			if frames.Len() == 0 {
				if err := bw.Flush(); err != nil {
					return err
				}
			}
		}
		return bw.Flush()
	})

	err := g.Wait()
	stats := Stats{Read: read.Load(), Written: written.Load(), Failed: failed.Load()}
	logger.Debug("Pipeline finished",
		zap.Int64("read", stats.Read),
		zap.Int64("written", stats.Written),
		zap.Int64("failed", stats.Failed))
	return stats, err
}

// scanFrames yields the non-blank lines of r, trimmed
func scanFrames(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if !yield(bytes.Clone(line), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, err)
		}
	}
}
