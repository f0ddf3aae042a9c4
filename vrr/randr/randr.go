// Package randr reads the display modes of the X server through the RandR
// extension.
package randr

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"
	"github.com/journeyos/godeye/vrr"
)

// Load connects to display (empty means $DISPLAY) and returns every mode of
// every connected output. The preferred modes of the first connected output
// are marked default.
func Load(display string) ([]vrr.Mode, error) {
	X, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("randr: connect %q: %w", display, err)
	}
	defer X.Close()

	if err := randr.Init(X); err != nil {
		return nil, fmt.Errorf("randr: extension not available: %w", err)
	}
	root := xproto.Setup(X).DefaultScreen(X).Root

	resources, err := randr.GetScreenResources(X, root).Reply()
	if err != nil {
		return nil, fmt.Errorf("randr: screen resources: %w", err)
	}

	infos := make(map[uint32]randr.ModeInfo, len(resources.Modes))
	for _, m := range resources.Modes {
		infos[m.Id] = m
	}

	var (
		modes    []vrr.Mode
		seen     = make(map[uint32]bool)
		markedDf bool
	)
	for _, output := range resources.Outputs {
		info, err := randr.GetOutputInfo(X, output, 0).Reply()
		if err != nil || info.Connection != randr.ConnectionConnected {
			continue
		}
		for i, id := range info.Modes {
			mi, ok := infos[uint32(id)]
			if !ok || seen[mi.Id] {
				continue
			}
			seen[mi.Id] = true
			modes = append(modes, vrr.Mode{
				ID:          int32(mi.Id),
				Width:       int(mi.Width),
				Height:      int(mi.Height),
				RefreshRate: RefreshRate(mi),
				Default:     !markedDf && i < int(info.NumPreferred),
			})
		}
		if info.NumPreferred > 0 {
			markedDf = true
		}
	}

	if len(modes) == 0 {
		return nil, fmt.Errorf("randr: no connected output reports modes")
	}
	return modes, nil
}

// RefreshRate computes a mode's vertical refresh rate in Hz.
func RefreshRate(mi randr.ModeInfo) float32 {
	if mi.Htotal == 0 || mi.Vtotal == 0 {
		return 0
	}
	vtotal := float64(mi.Vtotal)
	if mi.ModeFlags&randr.ModeFlagDoubleScan != 0 {
		vtotal *= 2
	}
	if mi.ModeFlags&randr.ModeFlagInterlace != 0 {
		vtotal /= 2
	}
	return float32(float64(mi.DotClock) / (float64(mi.Htotal) * vtotal))
}
