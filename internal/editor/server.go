// Package editor serves the VocalParam interaction surface over HTTP: take
// control, marker editing for the parameter table and the waveform canvas,
// device selection, oto.ini export, and a websocket that streams committed
// edits and the input meter.
//
// Routes:
//
//	GET    /api/entries                         list records
//	GET    /api/entries/{alias}                 one record
//	PATCH  /api/entries/{alias}/markers/{marker} set one marker (ms)
//	POST   /api/entries/{alias}/drag            move the whole entry (ms)
//	GET    /api/entries/{alias}/analysis        envelope and spectrogram
//	POST   /api/takes                           start recording a line
//	GET    /api/takes/current                   current take status
//	POST   /api/takes/current/stop              finalize early
//	POST   /api/takes/{alias}/accept            accept the pending take
//	POST   /api/takes/{alias}/discard           discard and allow a retake
//	POST   /api/takes/{alias}/play              play back for review
//	GET    /api/devices                         devices and stream config
//	POST   /api/devices                         switch devices
//	GET    /api/oto                             oto.ini export
//	GET    /ws                                  event and meter stream
package editor

import (
	"context"
	"net/http"
	"time"

	"github.com/MrWong99/vocalparam/internal/analysis"
	"github.com/MrWong99/vocalparam/internal/recording"
	"github.com/MrWong99/vocalparam/internal/store"
	"github.com/MrWong99/vocalparam/pkg/audio"
)

// Takes drives the take lifecycle. Implemented by the application's
// session manager.
type Takes interface {
	Start(ctx context.Context, line recording.Line) (recording.Status, error)
	Stop(ctx context.Context) (recording.Status, error)
	Accept(ctx context.Context, alias string) (uint64, error)
	Discard(ctx context.Context, alias string) error
	Play(ctx context.Context, alias string) error
	Status() (recording.Status, bool)
}

// Device is the part of the device stream the editor exposes.
type Device interface {
	Devices(ctx context.Context) ([]audio.DeviceInfo, error)
	Switch(ctx context.Context, input, output string) error
	Config() audio.StreamConfig
	BackendName() string
	IsOpen() bool
	Level() float64
}

// Analyzer provides the spectrogram and envelope of a take.
type Analyzer interface {
	Result(alias string) (*analysis.Result, bool)
	Analyze(ctx context.Context, take *recording.Take) (*analysis.Result, error)
}

// Config holds the dependencies of a [Server].
type Config struct {
	Store    *store.Store
	Takes    Takes
	Device   Device
	Analyzer Analyzer

	// MeterInterval is how often /ws pushes the input level and take
	// progress. Defaults to 50ms.
	MeterInterval time.Duration
}

// Server implements the editor API.
type Server struct {
	store         *store.Store
	takes         Takes
	device        Device
	analyzer      Analyzer
	meterInterval time.Duration
}

// New creates a [Server].
func New(cfg Config) *Server {
	if cfg.MeterInterval <= 0 {
		cfg.MeterInterval = 50 * time.Millisecond
	}
	return &Server{
		store:         cfg.Store,
		takes:         cfg.Takes,
		device:        cfg.Device,
		analyzer:      cfg.Analyzer,
		meterInterval: cfg.MeterInterval,
	}
}

// Register adds all editor routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/entries", s.handleListEntries)
	mux.HandleFunc("GET /api/entries/{alias}", s.handleGetEntry)
	mux.HandleFunc("PATCH /api/entries/{alias}/markers/{marker}", s.handleSetMarker)
	mux.HandleFunc("POST /api/entries/{alias}/drag", s.handleDrag)
	mux.HandleFunc("GET /api/entries/{alias}/analysis", s.handleAnalysis)

	mux.HandleFunc("POST /api/takes", s.handleStartTake)
	mux.HandleFunc("GET /api/takes/current", s.handleCurrentTake)
	mux.HandleFunc("POST /api/takes/current/stop", s.handleStopTake)
	mux.HandleFunc("POST /api/takes/{alias}/accept", s.handleAcceptTake)
	mux.HandleFunc("POST /api/takes/{alias}/discard", s.handleDiscardTake)
	mux.HandleFunc("POST /api/takes/{alias}/play", s.handlePlayTake)

	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/devices", s.handleSwitchDevices)

	mux.HandleFunc("GET /api/oto", s.handleExportOto)
	mux.HandleFunc("GET /ws", s.handleWS)
}

// Handler returns a fresh mux serving only the editor routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}
