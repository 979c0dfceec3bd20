package broadcast

import (
	"sync"

	"github.com/callwatch/callwatch/internal/database/models"
)

// Recorder is a Sink that records every notification for test assertions.
type Recorder struct {
	mu         sync.Mutex
	calls      []models.Call
	extensions []models.Extension
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) CallUpdated(call *models.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, *call)
}

func (r *Recorder) ExtensionStatusUpdated(ext *models.Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions = append(r.extensions, *ext)
}

// Calls returns a copy of all recorded call notifications.
func (r *Recorder) Calls() []models.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Extensions returns a copy of all recorded extension notifications.
func (r *Recorder) Extensions() []models.Extension {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Extension, len(r.extensions))
	copy(out, r.extensions)
	return out
}

// Reset clears all recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.extensions = nil
}
