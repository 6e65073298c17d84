package recording

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/vocalparam/internal/metronome"
	"github.com/MrWong99/vocalparam/pkg/audio"
	"github.com/MrWong99/vocalparam/pkg/audio/wav"
)

// Line is one reclist entry: the alias and the morae sung on the grid.
type Line struct {
	Alias string   `json:"alias"`
	Morae []string `json:"morae"`
}

// Validate checks that the alias is usable as a file name and an oto.ini
// key and that the line fits the 7-mora grid.
func (l Line) Validate() error {
	var errs []error
	if err := checkAlias(l.Alias); err != nil {
		errs = append(errs, err)
	}
	if len(l.Morae) > metronome.MoraBeats {
		errs = append(errs, fmt.Errorf("line has %d morae, grid holds %d", len(l.Morae), metronome.MoraBeats))
	}
	return errors.Join(errs...)
}

// checkAlias rejects aliases that would leave the output directory as
// <alias>.wav or break the oto.ini line layout.
func checkAlias(alias string) error {
	switch {
	case alias == "":
		return errors.New("alias is required")
	case strings.ContainsAny(alias, `/\=,`):
		return fmt.Errorf("alias %q must not contain '/', '\\', '=' or ','", alias)
	case strings.Contains(alias, ".."):
		return fmt.Errorf("alias %q must not contain \"..\"", alias)
	case strings.IndexFunc(alias, unicode.IsControl) >= 0:
		return fmt.Errorf("alias %q contains control characters", alias)
	}
	return nil
}

// Take is a finalized recording. Samples are interleaved with Channels
// channels; sample index 0 is beat zero of Grid.
type Take struct {
	Line       Line
	Samples    []int16
	Channels   int
	SampleRate int
	Grid       metronome.Grid
}

// Alias returns the alias of the recorded line.
func (t *Take) Alias() string { return t.Line.Alias }

// Frames returns the take length in frames.
func (t *Take) Frames() int64 {
	if t.Channels <= 0 {
		return 0
	}
	return int64(len(t.Samples) / t.Channels)
}

// Duration returns the take length.
func (t *Take) Duration() time.Duration {
	return audio.FramesToDuration(t.Frames(), t.SampleRate)
}

// Mono returns the take downmixed to normalised mono.
func (t *Take) Mono() []float64 {
	return audio.ToMonoFloat(t.Samples, t.Channels)
}

// WAVPath returns where the artifact of this take lives inside dir.
func (t *Take) WAVPath(dir string) string {
	return filepath.Join(dir, t.Line.Alias+".wav")
}

// WriteWAV writes the take to <dir>/<alias>.wav. A header that disagrees
// with the captured sample count is reported as a [*BufferIntegrityError].
func (t *Take) WriteWAV(dir string) (string, error) {
	if err := checkAlias(t.Line.Alias); err != nil {
		return "", fmt.Errorf("recording: write take: %w", err)
	}
	path := t.WAVPath(dir)
	err := wav.WriteFile(path, t.Samples, t.SampleRate, t.Channels)
	if errors.Is(err, wav.ErrHeaderMismatch) {
		return "", &BufferIntegrityError{
			Alias:  t.Line.Alias,
			Reason: "artifact header does not match captured samples",
			Have:   t.Frames(),
			Want:   t.Frames(),
			Err:    err,
		}
	}
	if err != nil {
		return "", fmt.Errorf("recording: write take %q: %w", t.Line.Alias, err)
	}
	return path, nil
}
