package editor

import (
	"net/http"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

type formatView struct {
	SampleRate     int `json:"sample_rate"`
	InputChannels  int `json:"input_channels"`
	OutputChannels int `json:"output_channels"`
	BlockSize      int `json:"block_size"`
}

type devicesView struct {
	Backend string             `json:"backend"`
	Open    bool               `json:"open"`
	Input   string             `json:"input"`
	Output  string             `json:"output"`
	Format  formatView         `json:"format"`
	Devices []audio.DeviceInfo `json:"devices"`
}

func (s *Server) devicesView(r *http.Request) (devicesView, error) {
	cfg := s.device.Config()
	v := devicesView{
		Backend: s.device.BackendName(),
		Open:    s.device.IsOpen(),
		Input:   cfg.InputDevice,
		Output:  cfg.OutputDevice,
		Format: formatView{
			SampleRate:     cfg.Format.SampleRate,
			InputChannels:  cfg.Format.InputChannels,
			OutputChannels: cfg.Format.OutputChannels,
			BlockSize:      cfg.Format.BlockSize,
		},
	}
	devs, err := s.device.Devices(r.Context())
	if err != nil {
		return v, err
	}
	v.Devices = devs
	return v, nil
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	v, err := s.devicesView(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type switchRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// handleSwitchDevices reopens the stream on the named devices. Empty names
// select the system defaults. The format is not negotiable here.
func (s *Server) handleSwitchDevices(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.device.Switch(r.Context(), req.Input, req.Output); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.devicesView(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
