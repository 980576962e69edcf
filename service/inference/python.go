package inference

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/lgr"
)

const (
	// maxFrameSize bounds a single response from the bridge
	maxFrameSize = 64 * 1024 * 1024
	// stderrTail is how much of the bridge's stderr is kept for crash reports
	stderrTail = 64 * 1024
)

// tailBuffer keeps the last max bytes written to it. os/exec writes to it from
// its own goroutine, so every access is locked.
type tailBuffer struct {
	mutex sync.Mutex
	buf   []byte
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(p) >= b.max {
		b.buf = append(b.buf[:0], p[len(p)-b.max:]...)
		return len(p), nil
	}
	if overflow := len(b.buf) + len(p) - b.max; overflow > 0 {
		b.buf = append(b.buf[:0], b.buf[overflow:]...)
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return string(b.buf)
}

type bridgeRequest struct {
	Op        string  `json:"op"`
	Image     []byte  `json:"image,omitempty"`
	Path      string  `json:"path,omitempty"`
	Model     string  `json:"model"`
	Dataset   string  `json:"dataset"`
	Threshold float64 `json:"threshold"`
	Frames    int     `json:"frames,omitempty"`
	Duration  int     `json:"duration,omitempty"`
}

type bridgeResponse struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

// pythonWorker is one bridge process. Requests go to Stdin; responses come back
// on a dedicated pipe (fd 3 in the child) so library prints on stdout never
// corrupt the stream.
type pythonWorker struct {
	Cmd      *exec.Cmd
	Stderr   *tailBuffer
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

func startPythonWorker(cfgSvc config.IService) (*pythonWorker, error) {
	cmd := exec.Command(cfgSvc.GetPythonBin(), "-u", cfgSvc.GetBridgeScript())
	stderr := newTailBuffer(stderrTail)
	cmd.Stderr = stderr

	r, w, err := os.Pipe()
	if err != nil {
		return nil, xerrors.Errorf("failed to create pipe: %w", err)
	}
	// The write end appears as fd 3 in the child
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, xerrors.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, xerrors.Errorf("python bridge failed to start: %w", err)
	}

	// Only the child holds the write end now
	w.Close()

	lgr.Logger.Info("python bridge started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("script", cfgSvc.GetBridgeScript()),
	)

	return &pythonWorker{
		Cmd:      cmd,
		Stderr:   stderr,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed frame and reads one back.
func (w *pythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxFrameSize {
		return nil, xerrors.Errorf("bridge response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

func (w *pythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
		w.Cmd.Wait()
	}
}

func (w *pythonWorker) logs() string {
	if w.Stderr == nil {
		return ""
	}
	return w.Stderr.String()
}

type pythonService struct {
	CfgSvc config.IService

	mutex  sync.Mutex
	worker *pythonWorker
	start  func() (*pythonWorker, error)
}

// NewPython drives the external inference module through a long-lived bridge
// process. Calls are serialized; a broken bridge is restarted on the next call.
func NewPython(cfgSvc config.IService) IService {
	return &pythonService{
		CfgSvc: cfgSvc,
		start: func() (*pythonWorker, error) {
			return startPythonWorker(cfgSvc)
		},
	}
}

func (svc *pythonService) ProcessImage(ctx context.Context, image []byte, modelName, dataset string, threshold float64) (Result, error) {
	return svc.call(ctx, bridgeRequest{
		Op:        "image",
		Image:     image,
		Model:     modelName,
		Dataset:   dataset,
		Threshold: threshold,
	})
}

func (svc *pythonService) ProcessVideo(ctx context.Context, path, modelName, dataset string, threshold float64, frames int) (Result, error) {
	return svc.call(ctx, bridgeRequest{
		Op:        "video",
		Path:      path,
		Model:     modelName,
		Dataset:   dataset,
		Threshold: threshold,
		Frames:    frames,
	})
}

func (svc *pythonService) ProcessAudio(ctx context.Context, path, modelName, dataset string, threshold float64, duration int) (Result, error) {
	return svc.call(ctx, bridgeRequest{
		Op:        "audio",
		Path:      path,
		Model:     modelName,
		Dataset:   dataset,
		Threshold: threshold,
		Duration:  duration,
	})
}

func (svc *pythonService) Close() error {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	if svc.worker != nil {
		svc.worker.Close()
		svc.worker = nil
	}
	return nil
}

func (svc *pythonService) call(ctx context.Context, req bridgeRequest) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, xerrors.Errorf("encoding bridge request: %w", err)
	}

	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if svc.worker == nil {
		worker, err := svc.start()
		if err != nil {
			return Result{}, err
		}
		svc.worker = worker
	}
	worker := svc.worker

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := worker.Communicate(payload)
		done <- reply{body: body, err: err}
	}()

	var r reply
	select {
	case <-ctx.Done():
		// The bridge is mid-request; it cannot be reused
		svc.discard(worker)
		<-done
		return Result{}, ctx.Err()
	case r = <-done:
	}

	if r.err != nil {
		// Wait for the process so its stderr is complete
		svc.discard(worker)
		logs := worker.logs()
		lgr.Logger.Error("python bridge crashed",
			slog.String("op", req.Op),
			slog.String("stderr", logs),
			slog.Any("error", r.err),
		)
		return Result{}, xerrors.Errorf("python bridge failed: %w", r.err)
	}

	var resp bridgeResponse
	if err := json.Unmarshal(r.body, &resp); err != nil {
		return Result{}, xerrors.Errorf("malformed bridge response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, xerrors.Errorf("python worker error: %s", resp.Error)
	}

	return Result{Label: resp.Label, Score: resp.Score}, nil
}

func (svc *pythonService) discard(worker *pythonWorker) {
	worker.Close()
	if svc.worker == worker {
		svc.worker = nil
	}
}
