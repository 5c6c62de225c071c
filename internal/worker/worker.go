package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/steady/internal/types"
	"github.com/andresmejia3/steady/internal/utils" // Using the SafeCommand wrapper
)

// maxMessage caps a single detector response.
const maxMessage = 64 * 1024 * 1024

// DefaultCommand starts the bundled landmark detector.
var DefaultCommand = []string{"python3", "-u", "python/landmarks.py"}

type PythonWorker struct {
	ID        int
	Cmd       *utils.SafeCommand
	Stdin     io.WriteCloser
	DataPipe  io.ReadCloser
	Handshake types.Handshake
}

// NewPythonWorker starts a detector process and waits for its handshake.
func NewPythonWorker(ctx context.Context, id int, command []string) (*PythonWorker, error) {
	if len(command) == 0 {
		command = DefaultCommand
	}
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, command[0], command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}
	if err := pw.readHandshake(); err != nil {
		pw.Close()
		utils.ShowError(fmt.Sprintf("Worker %d handshake failed", id), err, py)
		return nil, fmt.Errorf("worker %d handshake: %w", id, err)
	}
	return pw, nil
}

func (w *PythonWorker) readHandshake() error {
	msg, err := w.readMessage()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg, &w.Handshake); err != nil {
		return fmt.Errorf("malformed handshake %q: %w", msg, err)
	}
	if w.Handshake.Landmarks < 1 {
		return fmt.Errorf("detector reported %d landmarks per face", w.Handshake.Landmarks)
	}
	return nil
}

// Communicate sends one request and reads one response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readMessage()
}

func (w *PythonWorker) readMessage() ([]byte, error) {
	// We read from the clean DataPipe, so no Magic Byte is needed.
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxMessage {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ErrLogic is wrapped by errors the detector reported about a single frame.
var ErrLogic = errors.New("python worker error")

// ProcessFrame sends an encoded frame and decodes the faces found in it.
func (w *PythonWorker) ProcessFrame(task types.FrameTask) ([]types.FaceResult, error) {
	resp, err := w.Communicate(task.Data)
	if err != nil {
		return nil, err
	}

	var faces []types.FaceResult
	if err := json.Unmarshal(resp, &faces); err != nil {
		// Check if it's a Python error object (e.g. {"error": "..."})
		var errorResult types.ErrorResult
		if json.Unmarshal(resp, &errorResult) == nil && errorResult.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrLogic, errorResult.Error)
		}
		// Genuine unmarshal failure (garbage data)
		return nil, fmt.Errorf("%w: malformed JSON for frame %d: %v", ErrLogic, task.Index, err)
	}
	return faces, nil
}

// Close stops the worker and waits for the process to exit.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
