/*
Package discovery finds serial ports where SDS011 sensors are probably attached.
USB-serial adapters (CH340 on SDS011 kit) show up as /dev/ttyUSBn
*/
package discovery

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hjkoskel/listserialports"
	"go.uber.org/zap"
)

// InUseFunc tells is some other process holding port open
type InUseFunc func(path string) (bool, error)

// PortInUse asks from listserialports which processes have port open
func PortInUse(path string) (bool, error) {
	pids, _, err := listserialports.FileIsInUseByPids(path)
	if err != nil {
		return false, err
	}
	return 0 < len(pids), nil
}

type Finder struct {
	Glob  string
	InUse InUseFunc //nil: no check
	Log   *zap.Logger
}

/*
Ports returns sorted ports matching glob. Ports in use by other processes
and ports listed in skip are left out
*/
func (p *Finder) Ports(skip []string) ([]string, error) {
	matches, err := filepath.Glob(p.Glob)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery glob %q: %w", p.Glob, err)
	}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	result := []string{}
	for _, port := range matches {
		if skipped[port] {
			continue
		}
		if p.InUse != nil {
			used, errUse := p.InUse(port)
			if errUse != nil {
				log.Warn("port usage check failed", zap.String("port", port), zap.Error(errUse))
				continue
			}
			if used {
				log.Info("port in use by other process, skipping", zap.String("port", port))
				continue
			}
		}
		result = append(result, port)
	}
	sort.Strings(result)
	return result, nil
}
