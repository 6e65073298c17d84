package store

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/vocalparam/internal/oto"
)

// WriteOto writes one oto.ini line per record that has markers, in table
// order. Records without markers are skipped.
func (s *Store) WriteOto(ctx context.Context, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for _, r := range s.List(ctx) {
		if !r.HasEntry() {
			continue
		}
		if _, err := fmt.Fprintln(bw, oto.FormatLine(r.Alias+".wav", r.Alias, r.Entry, r.SampleRate)); err != nil {
			return n, fmt.Errorf("store: write oto: %w", err)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("store: write oto: %w", err)
	}
	return n, nil
}
