package wlantx

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TID is a traffic identifier.  0-7 are the 802.11 user priorities,
// TIDMgmt carries management frames.
type TID uint8

const (
	TIDMgmt TID = 8
	NumTIDs     = 9 // Transmit queues per station.
)

func (t TID) Valid() bool { return t < NumTIDs }

func (t TID) String() string {
	if t == TIDMgmt {
		return "mgmt"
	}
	return fmt.Sprintf("tid%d", uint8(t))
}

// AC is a radio access category.  There is one HwQueue for each.
type AC uint8

const (
	ACBK AC = iota // Background
	ACBE           // Best effort
	ACVI           // Video
	ACVO           // Voice
	ACBCN          // Beacon / broadcast after DTIM
	NumACs
)

var acNames = [NumACs]string{"bk", "be", "vi", "vo", "bcn"}

func (a AC) String() string {
	if a < NumACs {
		return acNames[a]
	}
	return fmt.Sprintf("ac(%d)", uint8(a))
}

// ParseAC accepts the short names used in configuration files.
func ParseAC(s string) (AC, error) {
	var want = strings.ToLower(strings.TrimSpace(s))
	for i, n := range acNames {
		if n == want {
			return AC(i), nil
		}
	}
	return 0, errors.Errorf("unknown access category %q", s)
}

func (a AC) MarshalYAML() (any, error) {
	return a.String(), nil
}

func (a *AC) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	var v, err = ParseAC(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*a = v
	return nil
}

// ACMask is a set of access categories, used for U-APSD.
type ACMask uint8

func (m ACMask) Has(a AC) bool { return m&(1<<a) != 0 }

func MaskOf(acs ...AC) ACMask {
	var m ACMask
	for _, a := range acs {
		m |= 1 << a
	}
	return m
}

// PSGroup selects which pending-traffic counter of a sleeping station a
// queue feeds: legacy power save (PS-Poll) or U-APSD.
type PSGroup uint8

const (
	PSLegacy PSGroup = iota
	PSUAPSD
	NumPSGroups
)

func (g PSGroup) String() string {
	if g == PSUAPSD {
		return "uapsd"
	}
	return "legacy"
}
