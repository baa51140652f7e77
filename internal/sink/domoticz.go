package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	sds011 "github.com/hjkoskel/sds011sampler"
	"github.com/hjkoskel/sds011sampler/internal/config"
)

// DomoticzSink updates two custom sensor devices, one per particle size
type DomoticzSink struct {
	client *http.Client
	cfg    config.DomoticzConfig
}

func NewDomoticzSink(cfg config.DomoticzConfig, client *http.Client) *DomoticzSink {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &DomoticzSink{client: client, cfg: cfg}
}

func (p *DomoticzSink) Name() string {
	return "domoticz"
}

func (p *DomoticzSink) deviceURL(idx int, value float64) string {
	base := p.cfg.Server
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	q := url.Values{}
	q.Set("type", "command")
	q.Set("param", "udevice")
	q.Set("idx", strconv.Itoa(idx))
	q.Set("nvalue", "0")
	q.Set("svalue", strconv.FormatFloat(value, 'f', 1, 64))
	return strings.TrimSuffix(base, "/") + "/json.htm?" + q.Encode()
}

func (p *DomoticzSink) update(ctx context.Context, idx int, value float64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.deviceURL(idx, value), nil)
	if err != nil {
		return err
	}
	if p.cfg.Username != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("idx %v: %w", idx, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("idx %v: update failed with status %v", idx, resp.StatusCode)
	}
	return nil
}

func (p *DomoticzSink) Record(ctx context.Context, r sds011.Reading) error {
	return multierr.Combine(
		p.update(ctx, p.cfg.IdxPM25, r.PM25),
		p.update(ctx, p.cfg.IdxPM10, r.PM10),
	)
}

func (p *DomoticzSink) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
